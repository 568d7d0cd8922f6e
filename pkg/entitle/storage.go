package entitle

import "context"

// Store is the narrow persistence interface the reconciliation engine
// depends on. Implementations live under storage/ (memory, postgres, redis,
// firestore); the engine never assumes a specific database beyond per-row
// atomic updates.
//
// UpdateSubscription must apply the partial update as a single write keyed
// by the local record id. The engine performs no locking of its own and
// relies on the store's last-write-wins row semantics.
type Store interface {
	// SubscriptionByProviderID returns the record whose
	// ProviderSubscriptionID matches exactly, or ErrSubscriptionNotFound.
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// SubscriptionsByCustomer returns all records for a provider customer
	// id. An empty slice is not an error.
	SubscriptionsByCustomer(ctx context.Context, providerCustomerID string) ([]*Subscription, error)

	// CreateSubscription persists a new record, generating its local ID,
	// and returns the stored record. A zero Status is persisted as
	// StatusPending.
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)

	// UpdateSubscription applies a partial update to the record with the
	// given local id. Nil fields in upd are left untouched.
	UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) error

	// UserByReference returns the user for a host reference id, or
	// ErrUserNotFound.
	UserByReference(ctx context.Context, referenceID string) (*User, error)

	// SetUserCustomerID records the provider customer id for a user.
	// First write wins: implementations must not overwrite a non-empty
	// stored value.
	SetUserCustomerID(ctx context.Context, referenceID, providerCustomerID string) error

	// MarkUserTrialed sets the user's HadTrial flag. The write is a no-op
	// once the flag is already true; the flag is never cleared.
	MarkUserTrialed(ctx context.Context, referenceID string) error
}
