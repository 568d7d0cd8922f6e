// Package memory provides an in-memory implementation of the entitle.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// Store implements entitle.Store using in-memory maps.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*entitle.Subscription
	users         map[string]*entitle.User
	nextID        int
}

// New creates a new in-memory store adapter.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*entitle.Subscription),
		users:         make(map[string]*entitle.User),
	}
}

// SubscriptionByProviderID implements entitle.Store.
func (s *Store) SubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, entitle.ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, entitle.ErrSubscriptionNotFound
}

// SubscriptionsByCustomer implements entitle.Store.
func (s *Store) SubscriptionsByCustomer(_ context.Context, providerCustomerID string) ([]*entitle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entitle.Subscription
	for _, sub := range s.subscriptions {
		if sub.ProviderCustomerID == providerCustomerID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(_ context.Context, sub *entitle.Subscription) (*entitle.Subscription, error) {
	if sub == nil || sub.ProductID == "" || sub.ReferenceID == "" {
		return nil, entitle.ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()

	cp := *sub
	cp.ID = fmt.Sprintf("sub_local_%d", s.nextID)
	if cp.Status == "" {
		cp.Status = entitle.StatusPending
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.subscriptions[cp.ID] = &cp

	stored := cp
	return &stored, nil
}

// UpdateSubscription implements entitle.Store. The update is applied as a
// single write under the store lock; nil fields leave stored values
// untouched.
func (s *Store) UpdateSubscription(_ context.Context, id string, upd entitle.SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return entitle.ErrInvalidStatus
		}
		sub.Status = *upd.Status
	}
	if upd.PeriodStart != nil {
		start := *upd.PeriodStart
		sub.PeriodStart = &start
	}
	if upd.PeriodEnd != nil {
		end := *upd.PeriodEnd
		sub.PeriodEnd = &end
	}
	if upd.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// UserByReference implements entitle.Store.
func (s *Store) UserByReference(_ context.Context, referenceID string) (*entitle.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[referenceID]
	if !ok {
		return nil, entitle.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

// SetUserCustomerID implements entitle.Store. First write wins.
func (s *Store) SetUserCustomerID(_ context.Context, referenceID, providerCustomerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[referenceID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	if user.ProviderCustomerID == "" {
		user.ProviderCustomerID = providerCustomerID
	}
	return nil
}

// MarkUserTrialed implements entitle.Store. The flag is one-way.
func (s *Store) MarkUserTrialed(_ context.Context, referenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[referenceID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	user.HadTrial = true
	return nil
}

// PutUser seeds or replaces a user record. Intended for tests and for
// hosts that mirror their user table into this store.
func (s *Store) PutUser(_ context.Context, user *entitle.User) error {
	if user == nil || user.ReferenceID == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.ReferenceID] = &cp
	return nil
}
