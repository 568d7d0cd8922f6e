// Package billing defines the provider-agnostic surface of the webhook
// reconciliation engine: the Provider interface, shared configuration,
// access-signal callbacks, sentinel errors, and the Metrics interface.
package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface a payment-provider integration must
// implement. The application mounts WebhookHandler at the provider's
// configured webhook URL and everything else happens inside.
type Provider interface {
	// Name returns the provider name (e.g. "creem").
	Name() string

	// WebhookHandler returns the HTTP handler that verifies, parses, and
	// reconciles real-time events from the provider.
	WebhookHandler() http.Handler
}

// WebhookProcessor is the transport-independent face of a provider: the
// framework middleware packages read the raw body and signature header
// themselves and hand both to HandleWebhook.
type WebhookProcessor interface {
	// Name returns the provider name (e.g. "creem").
	Name() string

	// SignatureHeader returns the request header carrying the webhook
	// signature.
	SignatureHeader() string

	// HandleWebhook verifies the signature over the raw body, parses the
	// event, and runs reconciliation. It returns
	// ErrProviderNotConfigured when no webhook secret is set,
	// ErrInvalidWebhookSignature on verification failure, and an error
	// wrapping ErrInvalidWebhookPayload on malformed payloads.
	// Reconciliation faults are logged and metered, never returned.
	HandleWebhook(ctx context.Context, signature string, body []byte) error
}
