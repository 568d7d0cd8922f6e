package billing

import (
	"github.com/entitle-dev/entitle/pkg/entitle"
)

// Config defines the standard configuration all providers accept.
type Config struct {
	// Store is the persistence adapter the reconciler writes subscription
	// and user state through. Required unless DisableReconciliation is
	// set.
	Store entitle.Store

	// WebhookSecret is the shared secret used to verify inbound webhook
	// signatures. Verification is mandatory: with no secret configured
	// every request is rejected.
	WebhookSecret string

	// DisableReconciliation skips every storage write (subscription
	// lookup/create/update, customer-id linking, trial flag) while still
	// firing the user-supplied callbacks. Useful when the host keeps its
	// own record of provider state and only wants the signals.
	DisableReconciliation bool

	// OnGrantAccess is invoked when an event maps to a grant signal.
	// Optional; must be idempotent (see AccessEvent).
	OnGrantAccess AccessCallback

	// OnRevokeAccess is invoked when an event maps to a revoke signal.
	// Optional; must be idempotent.
	OnRevokeAccess AccessCallback

	// EventCallbacks maps provider event-type strings to user callbacks.
	// Each callback receives the flattened envelope+entity payload. A
	// callback error is logged and metered but never turns a verified
	// event into a provider-visible failure.
	EventCallbacks map[string]EventCallback

	// Logger is an optional structured logger. If nil, logging is a
	// no-op. Use entitle/logger/zerolog for a zerolog adapter.
	Logger entitle.Logger

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored. Use billing/metrics/prometheus for Prometheus.
	Metrics Metrics
}
