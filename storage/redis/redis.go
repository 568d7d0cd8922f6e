// Package redis provides a Redis implementation of the entitle.Store
// interface. Subscription records are stored as JSON values with secondary
// indexes for provider subscription id and provider customer id lookups;
// user records are stored as hashes, with a small Lua script making the
// customer-id link first-write-wins.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// Store implements entitle.Store using Redis.
type Store struct {
	client          redis.UniversalClient
	config          Config
	linkCustomerSha *redis.Script
}

// linkCustomerScript sets the customer id only when the field is absent or
// empty. A missing field and an empty string both mean "not linked yet";
// older records may carry the empty field. Returns -1 when the user key
// does not exist.
var linkCustomerScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return -1
	end
	local cur = redis.call('HGET', KEYS[1], 'customer_id')
	if not cur or cur == '' then
		redis.call('HSET', KEYS[1], 'customer_id', ARGV[1])
		return 1
	end
	return 0
`)

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitle:").
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "entitle:",
	}
}

// New creates a new Redis store adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitle:"
	}
	return &Store{client: client, config: config, linkCustomerSha: linkCustomerScript}, nil
}

func (s *Store) subKey(id string) string {
	return s.config.KeyPrefix + "sub:" + id
}

func (s *Store) subIndexKey(providerSubscriptionID string) string {
	return s.config.KeyPrefix + "subidx:" + providerSubscriptionID
}

func (s *Store) customerKey(providerCustomerID string) string {
	return s.config.KeyPrefix + "cusidx:" + providerCustomerID
}

func (s *Store) userKey(referenceID string) string {
	return s.config.KeyPrefix + "user:" + referenceID
}

func (s *Store) seqKey() string {
	return s.config.KeyPrefix + "sub:seq"
}

func (s *Store) getSubscription(ctx context.Context, id string) (*entitle.Subscription, error) {
	data, err := s.client.Get(ctx, s.subKey(id)).Bytes()
	if err == redis.Nil {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	var sub entitle.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) putSubscription(ctx context.Context, sub *entitle.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := s.client.Set(ctx, s.subKey(sub.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	return nil
}

// SubscriptionByProviderID implements entitle.Store.
func (s *Store) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, entitle.ErrSubscriptionNotFound
	}
	id, err := s.client.Get(ctx, s.subIndexKey(providerSubscriptionID)).Result()
	if err == redis.Nil {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscription index: %w", err)
	}
	return s.getSubscription(ctx, id)
}

// SubscriptionsByCustomer implements entitle.Store.
func (s *Store) SubscriptionsByCustomer(ctx context.Context, providerCustomerID string) ([]*entitle.Subscription, error) {
	ids, err := s.client.SMembers(ctx, s.customerKey(providerCustomerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list customer subscriptions: %w", err)
	}

	var out []*entitle.Subscription
	for _, id := range ids {
		sub, err := s.getSubscription(ctx, id)
		if err == entitle.ErrSubscriptionNotFound {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (*entitle.Subscription, error) {
	if sub == nil || sub.ProductID == "" || sub.ReferenceID == "" {
		return nil, entitle.ErrInvalidSubscription
	}

	cp := *sub
	if cp.Status == "" {
		cp.Status = entitle.StatusPending
	}
	if !cp.Status.Valid() {
		return nil, entitle.ErrInvalidStatus
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate subscription id: %w", err)
	}
	cp.ID = fmt.Sprintf("sub_redis_%d", seq)

	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	if err := s.putSubscription(ctx, &cp); err != nil {
		return nil, err
	}
	if cp.ProviderSubscriptionID != "" {
		if err := s.client.Set(ctx, s.subIndexKey(cp.ProviderSubscriptionID), cp.ID, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to index subscription: %w", err)
		}
	}
	if cp.ProviderCustomerID != "" {
		if err := s.client.SAdd(ctx, s.customerKey(cp.ProviderCustomerID), cp.ID).Err(); err != nil {
			return nil, fmt.Errorf("failed to index customer: %w", err)
		}
	}
	return &cp, nil
}

// UpdateSubscription implements entitle.Store. The read-modify-write is not
// transactional; concurrent updates to the same record resolve to
// last-write-wins, which matches the reconciliation semantics upstream.
func (s *Store) UpdateSubscription(ctx context.Context, id string, upd entitle.SubscriptionUpdate) error {
	if upd.Status != nil && !upd.Status.Valid() {
		return entitle.ErrInvalidStatus
	}

	sub, err := s.getSubscription(ctx, id)
	if err != nil {
		return err
	}

	if upd.Status != nil {
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

	return s.putSubscription(ctx, sub)
}

// UserByReference implements entitle.Store.
func (s *Store) UserByReference(ctx context.Context, referenceID string) (*entitle.User, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(referenceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, entitle.ErrUserNotFound
	}
	return &entitle.User{
		ReferenceID:        referenceID,
		ProviderCustomerID: fields["customer_id"],
		HadTrial:           fields["had_trial"] == "1",
	}, nil
}

// SetUserCustomerID implements entitle.Store. The Lua script makes the
// link first-write-wins even under concurrent checkout deliveries, and
// treats an empty stored field the same as an absent one.
func (s *Store) SetUserCustomerID(ctx context.Context, referenceID, providerCustomerID string) error {
	res, err := s.linkCustomerSha.Run(ctx, s.client,
		[]string{s.userKey(referenceID)}, providerCustomerID).Int()
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	if res == -1 {
		return entitle.ErrUserNotFound
	}
	return nil
}

// MarkUserTrialed implements entitle.Store. The flag is one-way.
func (s *Store) MarkUserTrialed(ctx context.Context, referenceID string) error {
	exists, err := s.client.Exists(ctx, s.userKey(referenceID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if exists == 0 {
		return entitle.ErrUserNotFound
	}
	if err := s.client.HSet(ctx, s.userKey(referenceID), "had_trial", "1").Err(); err != nil {
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
	hadTrial := "0"
	if user.HadTrial {
		hadTrial = "1"
	}
	fields := []interface{}{"had_trial", hadTrial}
	// An empty customer id means "not linked yet"; leave the field absent
	// so the link stays writable.
	if user.ProviderCustomerID != "" {
		fields = append(fields, "customer_id", user.ProviderCustomerID)
	}
	err := s.client.HSet(ctx, s.userKey(user.ReferenceID), fields...).Err()
	if err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}
