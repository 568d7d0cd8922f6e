package billing

import "time"

// Metrics defines the interface for tracking webhook engine operations.
// All methods are optional - providers gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the
	// billing provider.
	// status: "success", "skipped", or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process
	// a webhook end to end.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "reconcile_error"
	RecordWebhookError(provider, errorType string)

	// RecordReconciliation records a subscription reconciliation outcome.
	// outcome: "created", "updated", "skipped", or "error"
	RecordReconciliation(provider, outcome string)

	// RecordAccessSignal records a grant or revoke signal dispatch.
	// signal: "grant" or "revoke"; reason: the literal reason string.
	RecordAccessSignal(provider, signal, reason string)

	// RecordTrialFlag records a hadTrial transition for a user. Only the
	// first transition per user is expected to be recorded; duplicate
	// trialing events are no-ops.
	RecordTrialFlag(provider string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordReconciliation(_, _ string)                             {}
func (n *NoopMetrics) RecordAccessSignal(_, _, _ string)                            {}
func (n *NoopMetrics) RecordTrialFlag(_ string)                                     {}
