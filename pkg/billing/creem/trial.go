package creem

import (
	"context"
	"errors"
	"fmt"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// markTrialUsed is the trial-abuse guard: after a trialing event has been
// reconciled, the referenced user is flagged as having consumed their one
// trial across all products. The check-then-set is not atomic against a
// concurrent duplicate, but the write is a no-op once the flag is true, so
// repeated delivery is safe. The flag is never cleared by this engine.
func (p *Provider) markTrialUsed(ctx context.Context, ev *Event) error {
	sub := ev.Subscription
	if sub == nil {
		return nil
	}
	referenceID := metadataReference(sub.Metadata)
	if referenceID == "" {
		p.logger.Debug("trialing event without reference id, skipping trial guard",
			entitle.Field{Key: "provider_subscription_id", Value: sub.ID})
		return nil
	}

	user, err := p.store.UserByReference(ctx, referenceID)
	if errors.Is(err, entitle.ErrUserNotFound) {
		p.logger.Debug("no user for reference id, skipping trial guard",
			entitle.Field{Key: "reference_id", Value: referenceID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user %s: %w", referenceID, err)
	}
	if user.HadTrial {
		return nil
	}

	if err := p.store.MarkUserTrialed(ctx, referenceID); err != nil {
		return fmt.Errorf("mark trial for %s: %w", referenceID, err)
	}
	p.logger.Info("trial consumed",
		entitle.Field{Key: "reference_id", Value: referenceID})
	p.metrics.RecordTrialFlag(providerName)
	return nil
}
