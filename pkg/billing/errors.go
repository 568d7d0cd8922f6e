package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is created
	// without its required configuration (store, secret).
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature
	// verification fails.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot
	// be parsed into the expected event envelope.
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
)
