package billing

import (
	"context"
	"time"
)

// Access signal reason strings. These are part of the callback contract:
// the engine passes exactly one of them per grant/revoke invocation.
const (
	ReasonSubscriptionActive   = "subscription_active"
	ReasonSubscriptionTrialing = "subscription_trialing"
	ReasonSubscriptionPaid     = "subscription_paid"
	ReasonSubscriptionExpired  = "subscription_expired"
	ReasonSubscriptionPaused   = "subscription_paused"
)

// AccessEvent is passed to the grant/revoke callbacks after the engine has
// finished its own reconciliation writes for the triggering event.
//
// Callbacks MUST be idempotent: under at-least-once webhook delivery the
// engine may invoke the same reason for the same subscription more than
// once and performs no deduplication beyond its own idempotent writes.
type AccessEvent struct {
	// Provider is the billing provider name ("creem").
	Provider string

	// EventType is the provider event that produced the signal.
	EventType string

	// EventID is the provider's event identifier.
	EventID string

	// Reason is the literal reason string from the signal table, e.g.
	// ReasonSubscriptionPaused for a revoke on subscription.paused.
	Reason string

	// ReferenceID is the host application's user/org identifier taken
	// from the event metadata. May be empty when the provider omitted it.
	ReferenceID string

	// Provider-side correlation identifiers for the subscription the
	// signal concerns.
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProductID              string

	// OccurredAt is the provider's event creation time.
	OccurredAt time.Time

	// Payload is the flattened event: envelope fields merged with the
	// nested entity's fields at the top level.
	Payload map[string]interface{}
}

// AccessCallback receives a grant or revoke signal.
type AccessCallback func(ctx context.Context, event AccessEvent) error

// EventCallback receives the flattened payload of a single event type.
type EventCallback func(ctx context.Context, payload map[string]interface{}) error
