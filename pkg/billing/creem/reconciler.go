package creem

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// reconcileStatusEvent applies a subscription.* event to exactly one local
// record. Events for subscriptions the store has never seen are logged and
// skipped: under at-least-once, out-of-order delivery a status event can
// legitimately arrive before the checkout that creates the record.
func (p *Provider) reconcileStatusEvent(ctx context.Context, ev *Event, rt route) error {
	sub := ev.Subscription
	if sub == nil {
		p.logger.Warn("subscription event without subscription entity",
			entitle.Field{Key: "event_type", Value: string(ev.Type)},
			entitle.Field{Key: "object_kind", Value: ev.ObjectKind})
		p.metrics.RecordReconciliation(providerName, "skipped")
		return nil
	}
	p.warnUnexpandedRefs(ev, sub)

	status := rt.status
	if rt.dynamicStatus {
		resolved, ok := p.resolveUpdateStatus(sub)
		if !ok {
			p.logger.Warn("skipping update with unrecognized status",
				entitle.Field{Key: "provider_subscription_id", Value: sub.ID},
				entitle.Field{Key: "status", Value: sub.Status})
			p.metrics.RecordReconciliation(providerName, "skipped")
			return nil
		}
		status = resolved
	}

	record, err := p.lookupSubscription(ctx, sub)
	if err != nil {
		p.metrics.RecordReconciliation(providerName, "error")
		return fmt.Errorf("lookup subscription %s: %w", sub.ID, err)
	}
	if record == nil {
		p.logger.Info("no local record for subscription event, skipping",
			entitle.Field{Key: "event_type", Value: string(ev.Type)},
			entitle.Field{Key: "provider_subscription_id", Value: sub.ID})
		p.metrics.RecordReconciliation(providerName, "skipped")
		return nil
	}

	upd := buildUpdate(status, sub)
	if err := p.store.UpdateSubscription(ctx, record.ID, upd); err != nil {
		p.metrics.RecordReconciliation(providerName, "error")
		return fmt.Errorf("update subscription %s: %w", record.ID, err)
	}

	p.logger.Debug("subscription reconciled",
		entitle.Field{Key: "subscription_id", Value: record.ID},
		entitle.Field{Key: "status", Value: status.String()})
	p.metrics.RecordReconciliation(providerName, "updated")
	return nil
}

// resolveUpdateStatus resolves the target status for subscription.update
// events from the payload: an active subscription with a scheduled
// cancellation becomes scheduled_cancel, everything else maps through the
// status enumeration.
func (p *Provider) resolveUpdateStatus(sub *Subscription) (entitle.Status, bool) {
	status, ok := entitle.ParseStatus(sub.Status)
	if !ok {
		return status, false
	}
	if status == entitle.StatusActive && sub.CanceledAt != nil {
		return entitle.StatusScheduledCancel, true
	}
	return status, true
}

// buildUpdate translates event data into the partial per-row write. Period
// bounds are carried over only when the event supplies them; a null-bearing
// event never clears stored values. The cancel flag tracks the status
// machine: set on scheduled_cancel, cleared on canceled, untouched
// otherwise.
func buildUpdate(status entitle.Status, sub *Subscription) entitle.SubscriptionUpdate {
	upd := entitle.SubscriptionUpdate{Status: &status}
	if sub.CurrentPeriodStartDate != nil {
		upd.PeriodStart = sub.CurrentPeriodStartDate
	}
	if sub.CurrentPeriodEndDate != nil {
		upd.PeriodEnd = sub.CurrentPeriodEndDate
	}
	switch status {
	case entitle.StatusScheduledCancel:
		flag := true
		upd.CancelAtPeriodEnd = &flag
	case entitle.StatusCanceled:
		flag := false
		upd.CancelAtPeriodEnd = &flag
	}
	return upd
}

// lookupSubscription resolves the local record for a provider subscription
// using two named stages, first hit wins:
//
//  1. exact match on the provider subscription id;
//  2. records for the provider customer id, preferring the one whose
//     product matches, else the customer's first record (single
//     subscription per customer in the common case).
//
// Returns (nil, nil) when neither stage finds a record.
func (p *Provider) lookupSubscription(ctx context.Context, sub *Subscription) (*entitle.Subscription, error) {
	record, err := p.findByProviderSubscriptionID(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	productID := ""
	if sub.Product != nil {
		productID = sub.Product.ID
	}
	return p.findByCustomerProduct(ctx, customerID, productID)
}

// findByProviderSubscriptionID is lookup stage one.
func (p *Provider) findByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, nil
	}
	record, err := p.store.SubscriptionByProviderID(ctx, providerSubscriptionID)
	if errors.Is(err, entitle.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// findByCustomerProduct is lookup stage two.
func (p *Provider) findByCustomerProduct(ctx context.Context, providerCustomerID, productID string) (*entitle.Subscription, error) {
	if providerCustomerID == "" {
		return nil, nil
	}
	records, err := p.store.SubscriptionsByCustomer(ctx, providerCustomerID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	for _, record := range records {
		if productID != "" && record.ProductID == productID {
			return record, nil
		}
	}
	return records[0], nil
}

// handleCheckoutCompleted is the initial-creation path. It performs two
// independent best-effort writes: linking the provider customer id onto the
// user record, and creating (or updating) the subscription record embedded
// in the checkout. One write failing never aborts the other; both errors
// surface to the caller for logging.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, ev *Event) error {
	co := ev.Checkout
	if co == nil {
		p.logger.Warn("checkout event without checkout entity",
			entitle.Field{Key: "object_kind", Value: ev.ObjectKind})
		p.metrics.RecordReconciliation(providerName, "skipped")
		return nil
	}

	referenceID := metadataReference(co.Metadata)

	var g errgroup.Group
	g.Go(func() error {
		if err := p.linkCustomer(ctx, referenceID, co.Customer); err != nil {
			p.logger.Error("customer link failed",
				entitle.Field{Key: "reference_id", Value: referenceID},
				entitle.Field{Key: "error", Value: err.Error()})
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := p.upsertCheckoutSubscription(ctx, co, referenceID); err != nil {
			p.logger.Error("checkout subscription write failed",
				entitle.Field{Key: "checkout_id", Value: co.ID},
				entitle.Field{Key: "error", Value: err.Error()})
			return err
		}
		return nil
	})
	return g.Wait()
}

// linkCustomer records the provider customer id on the user, first write
// wins. A user the store cannot find is a benign skip: the host may not
// have created the record yet.
func (p *Provider) linkCustomer(ctx context.Context, referenceID string, customer *Customer) error {
	if referenceID == "" || customer == nil || customer.ID == "" {
		return nil
	}

	user, err := p.store.UserByReference(ctx, referenceID)
	if errors.Is(err, entitle.ErrUserNotFound) {
		p.logger.Debug("no user for reference id, skipping customer link",
			entitle.Field{Key: "reference_id", Value: referenceID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user %s: %w", referenceID, err)
	}
	if user.ProviderCustomerID != "" {
		return nil
	}

	if err := p.store.SetUserCustomerID(ctx, referenceID, customer.ID); err != nil {
		return fmt.Errorf("set customer id for %s: %w", referenceID, err)
	}
	return nil
}

// upsertCheckoutSubscription creates the local record for a checkout that
// embeds a subscription and order, or updates an existing record when the
// provider subscription id is already known. The status comes verbatim from
// the embedded subscription object.
func (p *Provider) upsertCheckoutSubscription(ctx context.Context, co *Checkout, referenceID string) error {
	if co.Subscription == nil || co.Order == nil {
		// One-time purchase checkouts carry no subscription to track.
		p.logger.Debug("checkout without subscription data, skipping",
			entitle.Field{Key: "checkout_id", Value: co.ID})
		return nil
	}
	sub := co.Subscription

	existing, err := p.findByProviderSubscriptionID(ctx, sub.ID)
	if err != nil {
		p.metrics.RecordReconciliation(providerName, "error")
		return err
	}

	status, statusOK := entitle.ParseStatus(sub.Status)

	if existing != nil {
		upd := entitle.SubscriptionUpdate{}
		if statusOK {
			upd.Status = &status
		}
		if sub.CurrentPeriodStartDate != nil {
			upd.PeriodStart = sub.CurrentPeriodStartDate
		}
		if sub.CurrentPeriodEndDate != nil {
			upd.PeriodEnd = sub.CurrentPeriodEndDate
		}
		if err := p.store.UpdateSubscription(ctx, existing.ID, upd); err != nil {
			p.metrics.RecordReconciliation(providerName, "error")
			return fmt.Errorf("update subscription %s: %w", existing.ID, err)
		}
		p.metrics.RecordReconciliation(providerName, "updated")
		return nil
	}

	productID := checkoutProductID(co)
	if productID == "" || referenceID == "" {
		p.logger.Warn("checkout missing product or reference id, cannot create subscription",
			entitle.Field{Key: "checkout_id", Value: co.ID},
			entitle.Field{Key: "product_id", Value: productID},
			entitle.Field{Key: "reference_id", Value: referenceID})
		p.metrics.RecordReconciliation(providerName, "skipped")
		return nil
	}

	record := &entitle.Subscription{
		ProductID:              productID,
		ReferenceID:            referenceID,
		ProviderSubscriptionID: sub.ID,
		ProviderOrderID:        co.Order.ID,
		Status:                 status,
		PeriodStart:            sub.CurrentPeriodStartDate,
		PeriodEnd:              sub.CurrentPeriodEndDate,
	}
	if co.Customer != nil {
		record.ProviderCustomerID = co.Customer.ID
	}

	if _, err := p.store.CreateSubscription(ctx, record); err != nil {
		p.metrics.RecordReconciliation(providerName, "error")
		return fmt.Errorf("create subscription for checkout %s: %w", co.ID, err)
	}
	p.metrics.RecordReconciliation(providerName, "created")
	return nil
}

// checkoutProductID prefers the checkout's own product, falling back to the
// embedded subscription's.
func checkoutProductID(co *Checkout) string {
	if co.Product != nil && co.Product.ID != "" {
		return co.Product.ID
	}
	if co.Subscription != nil && co.Subscription.Product != nil {
		return co.Subscription.Product.ID
	}
	return ""
}

// warnUnexpandedRefs flags payloads where the provider delivered a bare id
// instead of the expanded object its contract promises. The engine still
// proceeds with what it has rather than reading empty fields silently.
func (p *Provider) warnUnexpandedRefs(ev *Event, sub *Subscription) {
	if sub.Customer != nil && !sub.Customer.Expanded() {
		p.logger.Warn("subscription customer arrived as bare reference",
			entitle.Field{Key: "event_id", Value: ev.ID},
			entitle.Field{Key: "customer_id", Value: sub.Customer.ID})
	}
	if sub.Product != nil && !sub.Product.Expanded() {
		p.logger.Warn("subscription product arrived as bare reference",
			entitle.Field{Key: "event_id", Value: ev.ID},
			entitle.Field{Key: "product_id", Value: sub.Product.ID})
	}
}
