package creem

import (
	"context"

	"github.com/entitle-dev/entitle/pkg/billing"
	"github.com/entitle-dev/entitle/pkg/entitle"
)

type accessSignal int

const (
	signalNone accessSignal = iota
	signalGrant
	signalRevoke
)

// route describes how one event type is handled: which reconciliation path
// runs, which target status it carries, and which access signal it derives.
// The table is static and exhaustive over the EventType constants; it is
// not configurable at runtime.
type route struct {
	// status is the fixed target status for subscription-bearing events.
	// Ignored when dynamicStatus is set.
	status entitle.Status

	// dynamicStatus resolves the target status from the payload instead
	// of the table (subscription.update).
	dynamicStatus bool

	// checkout selects the initial-creation path instead of the status
	// reconciler.
	checkout bool

	// reconcile marks events that drive a subscription status update.
	reconcile bool

	// trialGuard runs the trial-abuse guard after reconciliation.
	trialGuard bool

	signal accessSignal
	reason string
}

var routes = map[EventType]route{
	EventCheckoutCompleted: {checkout: true},

	EventSubscriptionActive: {
		reconcile: true, status: entitle.StatusActive,
		signal: signalGrant, reason: billing.ReasonSubscriptionActive,
	},
	EventSubscriptionTrialing: {
		reconcile: true, status: entitle.StatusTrialing, trialGuard: true,
		signal: signalGrant, reason: billing.ReasonSubscriptionTrialing,
	},
	EventSubscriptionPaid: {
		reconcile: true, status: entitle.StatusPaid,
		signal: signalGrant, reason: billing.ReasonSubscriptionPaid,
	},
	EventSubscriptionCanceled: {
		reconcile: true, status: entitle.StatusCanceled,
	},
	EventSubscriptionExpired: {
		reconcile: true, status: entitle.StatusExpired,
		signal: signalRevoke, reason: billing.ReasonSubscriptionExpired,
	},
	EventSubscriptionUnpaid: {
		reconcile: true, status: entitle.StatusUnpaid,
	},
	EventSubscriptionPastDue: {
		reconcile: true, status: entitle.StatusPastDue,
	},
	EventSubscriptionPaused: {
		reconcile: true, status: entitle.StatusPaused,
		signal: signalRevoke, reason: billing.ReasonSubscriptionPaused,
	},
	EventSubscriptionUpdate: {
		reconcile: true, dynamicStatus: true,
	},

	EventRefundCreated:  {},
	EventDisputeCreated: {},
}

// processEvent runs the full pipeline for a verified, parsed event:
// reconciler, trial guard, access-signal deriver, then the user callback.
// Reconciliation faults are caught and logged here; the provider is always
// acknowledged once the signature and shape checks have passed. Returns the
// outcome label used for metrics.
func (p *Provider) processEvent(ctx context.Context, ev *Event) string {
	rt, known := routes[ev.Type]
	if !known {
		p.logger.Debug("ignoring unknown event type",
			entitle.Field{Key: "event_type", Value: string(ev.Type)},
			entitle.Field{Key: "event_id", Value: ev.ID})
		return "skipped"
	}

	outcome := "success"

	// Reconciliation first: all engine writes complete before any
	// user-supplied callback runs.
	if !p.disableReconciliation {
		switch {
		case rt.checkout:
			if err := p.handleCheckoutCompleted(ctx, ev); err != nil {
				p.logger.Error("checkout reconciliation failed",
					entitle.Field{Key: "event_id", Value: ev.ID},
					entitle.Field{Key: "error", Value: err.Error()})
				p.metrics.RecordWebhookError(providerName, "reconcile_error")
				outcome = "error"
			}
		case rt.reconcile:
			if err := p.reconcileStatusEvent(ctx, ev, rt); err != nil {
				p.logger.Error("subscription reconciliation failed",
					entitle.Field{Key: "event_type", Value: string(ev.Type)},
					entitle.Field{Key: "event_id", Value: ev.ID},
					entitle.Field{Key: "error", Value: err.Error()})
				p.metrics.RecordWebhookError(providerName, "reconcile_error")
				outcome = "error"
			}
		}

		if rt.trialGuard {
			if err := p.markTrialUsed(ctx, ev); err != nil {
				p.logger.Error("trial guard update failed",
					entitle.Field{Key: "event_id", Value: ev.ID},
					entitle.Field{Key: "error", Value: err.Error()})
				p.metrics.RecordWebhookError(providerName, "trial_guard_error")
				outcome = "error"
			}
		}
	}

	// The signal deriver observes the same event independently: a
	// reconciliation fault above does not suppress the signal.
	p.dispatchAccessSignal(ctx, ev, rt)

	if cb, ok := p.eventCallbacks[string(ev.Type)]; ok && cb != nil {
		if err := cb(ctx, ev.Flatten()); err != nil {
			p.logger.Error("event callback failed",
				entitle.Field{Key: "event_type", Value: string(ev.Type)},
				entitle.Field{Key: "error", Value: err.Error()})
			p.metrics.RecordWebhookError(providerName, "callback_error")
		}
	}

	return outcome
}

// dispatchAccessSignal invokes the grant or revoke callback mapped to the
// event type, exactly once per event. Duplicate deliveries reach the
// callback again with the same reason; the callback contract requires
// idempotence.
func (p *Provider) dispatchAccessSignal(ctx context.Context, ev *Event, rt route) {
	var cb billing.AccessCallback
	var label string
	switch rt.signal {
	case signalGrant:
		cb, label = p.onGrantAccess, "grant"
	case signalRevoke:
		cb, label = p.onRevokeAccess, "revoke"
	default:
		return
	}

	p.metrics.RecordAccessSignal(providerName, label, rt.reason)
	if cb == nil {
		return
	}

	if err := cb(ctx, p.accessEvent(ev, rt.reason)); err != nil {
		p.logger.Error("access callback failed",
			entitle.Field{Key: "signal", Value: label},
			entitle.Field{Key: "reason", Value: rt.reason},
			entitle.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "callback_error")
	}
}

// accessEvent builds the callback payload for a grant/revoke signal.
func (p *Provider) accessEvent(ev *Event, reason string) billing.AccessEvent {
	ae := billing.AccessEvent{
		Provider:   providerName,
		EventType:  string(ev.Type),
		EventID:    ev.ID,
		Reason:     reason,
		OccurredAt: ev.CreatedAt,
		Payload:    ev.Flatten(),
	}
	if sub := ev.Subscription; sub != nil {
		ae.ProviderSubscriptionID = sub.ID
		ae.ReferenceID = metadataReference(sub.Metadata)
		if sub.Customer != nil {
			ae.ProviderCustomerID = sub.Customer.ID
		}
		if sub.Product != nil {
			ae.ProductID = sub.Product.ID
		}
	}
	return ae
}
