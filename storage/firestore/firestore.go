// Package firestore provides a Firestore implementation of the entitle.Store
// interface. Subscriptions live in their own collection with single-field
// queries on the provider ids; user records are keyed by reference id so the
// customer link and trial flag are plain document updates.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// Store implements entitle.Store using Google Cloud Firestore.
type Store struct {
	client                  *firestore.Client
	subscriptionsCollection string
	usersCollection         string
}

// Config holds Firestore store configuration.
type Config struct {
	// SubscriptionsCollection is the Firestore collection for subscription
	// records. Default: "billing_subscriptions"
	SubscriptionsCollection string

	// UsersCollection is the Firestore collection for user billing records.
	// Default: "billing_users"
	UsersCollection string
}

// New creates a new Firestore store adapter.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.UsersCollection == "" {
		config.UsersCollection = "billing_users"
	}

	return &Store{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		usersCollection:         config.UsersCollection,
	}, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}

func subscriptionFromDoc(snap *firestore.DocumentSnapshot) *entitle.Subscription {
	data := snap.Data()
	return &entitle.Subscription{
		ID:                     snap.Ref.ID,
		ProductID:              getString(data, "productId"),
		ReferenceID:            getString(data, "referenceId"),
		ProviderCustomerID:     getString(data, "providerCustomerId"),
		ProviderSubscriptionID: getString(data, "providerSubscriptionId"),
		ProviderOrderID:        getString(data, "providerOrderId"),
		Status:                 entitle.Status(getString(data, "status")),
		PeriodStart:            getTimePtr(data, "periodStart"),
		PeriodEnd:              getTimePtr(data, "periodEnd"),
		CancelAtPeriodEnd:      getBool(data, "cancelAtPeriodEnd"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
}

// SubscriptionByProviderID implements entitle.Store.
func (s *Store) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, entitle.ErrSubscriptionNotFound
	}

	iter := s.client.Collection(s.subscriptionsCollection).
		Where("providerSubscriptionId", "==", providerSubscriptionID).
		Limit(1).Documents(ctx)
	defer iter.Stop()

	snaps, err := iter.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	if len(snaps) == 0 {
		return nil, entitle.ErrSubscriptionNotFound
	}
	return subscriptionFromDoc(snaps[0]), nil
}

// SubscriptionsByCustomer implements entitle.Store.
func (s *Store) SubscriptionsByCustomer(ctx context.Context, providerCustomerID string) ([]*entitle.Subscription, error) {
	iter := s.client.Collection(s.subscriptionsCollection).
		Where("providerCustomerId", "==", providerCustomerID).
		Documents(ctx)
	defer iter.Stop()

	snaps, err := iter.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	out := make([]*entitle.Subscription, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, subscriptionFromDoc(snap))
	}
	return out, nil
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (*entitle.Subscription, error) {
	if sub == nil || sub.ProductID == "" || sub.ReferenceID == "" {
		return nil, entitle.ErrInvalidSubscription
	}
	status := sub.Status
	if status == "" {
		status = entitle.StatusPending
	}
	if !status.Valid() {
		return nil, entitle.ErrInvalidStatus
	}

	now := time.Now().UTC()
	data := map[string]interface{}{
		"productId":              sub.ProductID,
		"referenceId":            sub.ReferenceID,
		"providerCustomerId":     sub.ProviderCustomerID,
		"providerSubscriptionId": sub.ProviderSubscriptionID,
		"providerOrderId":        sub.ProviderOrderID,
		"status":                 string(status),
		"cancelAtPeriodEnd":      sub.CancelAtPeriodEnd,
		"createdAt":              now,
		"updatedAt":              now,
	}
	if sub.PeriodStart != nil {
		data["periodStart"] = *sub.PeriodStart
	}
	if sub.PeriodEnd != nil {
		data["periodEnd"] = *sub.PeriodEnd
	}

	doc := s.client.Collection(s.subscriptionsCollection).NewDoc()
	if _, err := doc.Create(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	created := *sub
	created.ID = doc.ID
	created.Status = status
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

// UpdateSubscription implements entitle.Store. Only non-nil fields are sent
// as field updates; stored values for nil fields stay untouched.
func (s *Store) UpdateSubscription(ctx context.Context, id string, upd entitle.SubscriptionUpdate) error {
	if upd.Status != nil && !upd.Status.Valid() {
		return entitle.ErrInvalidStatus
	}

	updates := []firestore.Update{
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if upd.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*upd.Status)})
	}
	if upd.PeriodStart != nil {
		updates = append(updates, firestore.Update{Path: "periodStart", Value: *upd.PeriodStart})
	}
	if upd.PeriodEnd != nil {
		updates = append(updates, firestore.Update{Path: "periodEnd", Value: *upd.PeriodEnd})
	}
	if upd.CancelAtPeriodEnd != nil {
		updates = append(updates, firestore.Update{Path: "cancelAtPeriodEnd", Value: *upd.CancelAtPeriodEnd})
	}

	_, err := s.client.Collection(s.subscriptionsCollection).Doc(id).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return entitle.ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// UserByReference implements entitle.Store.
func (s *Store) UserByReference(ctx context.Context, referenceID string) (*entitle.User, error) {
	snap, err := s.client.Collection(s.usersCollection).Doc(referenceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitle.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !snap.Exists() {
		return nil, entitle.ErrUserNotFound
	}

	data := snap.Data()
	return &entitle.User{
		ReferenceID:        referenceID,
		ProviderCustomerID: getString(data, "providerCustomerId"),
		HadTrial:           getBool(data, "hadTrial"),
	}, nil
}

// SetUserCustomerID implements entitle.Store. The transaction makes the link
// first-write-wins under concurrent checkout deliveries.
func (s *Store) SetUserCustomerID(ctx context.Context, referenceID, providerCustomerID string) error {
	doc := s.client.Collection(s.usersCollection).Doc(referenceID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			return err
		}
		if getString(snap.Data(), "providerCustomerId") != "" {
			return nil
		}
		return tx.Update(doc, []firestore.Update{
			{Path: "providerCustomerId", Value: providerCustomerID},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return entitle.ErrUserNotFound
		}
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

// MarkUserTrialed implements entitle.Store. Setting the flag is idempotent.
func (s *Store) MarkUserTrialed(ctx context.Context, referenceID string) error {
	doc := s.client.Collection(s.usersCollection).Doc(referenceID)
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: "hadTrial", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return entitle.ErrUserNotFound
		}
		return fmt.Errorf("failed to mark trial: %w", err)
	}
	return nil
}

// PutUser seeds or replaces a user record. Intended for tests and for
// hosts that mirror their user table into this store.
func (s *Store) PutUser(ctx context.Context, user *entitle.User) error {
	if user == nil || user.ReferenceID == "" {
		return fmt.Errorf("invalid user")
	}
	_, err := s.client.Collection(s.usersCollection).Doc(user.ReferenceID).Set(ctx, map[string]interface{}{
		"providerCustomerId": user.ProviderCustomerID,
		"hadTrial":           user.HadTrial,
	})
	if err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}
