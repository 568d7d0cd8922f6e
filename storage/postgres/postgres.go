// Package postgres provides a PostgreSQL implementation of the
// entitle.Store interface. Updates are single-row statements, so concurrent
// webhook deliveries for the same subscription serialize on the row with
// last-write-wins semantics.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

// Store implements entitle.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the tables and indexes this adapter needs. Idempotent;
// intended for development and tests. Production deployments typically run
// equivalent migrations through their own tooling.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			product_id TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			provider_customer_id TEXT NOT NULL DEFAULT '',
			provider_subscription_id TEXT NOT NULL DEFAULT '',
			provider_order_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			period_start TIMESTAMPTZ,
			period_end TIMESTAMPTZ,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_provider_sub_idx
			ON subscriptions (provider_subscription_id)
			WHERE provider_subscription_id <> '';

		CREATE INDEX IF NOT EXISTS subscriptions_provider_customer_idx
			ON subscriptions (provider_customer_id);

		CREATE TABLE IF NOT EXISTS billing_users (
			reference_id TEXT PRIMARY KEY,
			provider_customer_id TEXT NOT NULL DEFAULT '',
			had_trial BOOLEAN NOT NULL DEFAULT FALSE
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, product_id, reference_id, provider_customer_id,
	provider_subscription_id, provider_order_id, status, period_start,
	period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*entitle.Subscription, error) {
	var sub entitle.Subscription
	var status string
	err := row.Scan(&sub.ID, &sub.ProductID, &sub.ReferenceID,
		&sub.ProviderCustomerID, &sub.ProviderSubscriptionID,
		&sub.ProviderOrderID, &status, &sub.PeriodStart, &sub.PeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = entitle.Status(status)
	return &sub, nil
}

// SubscriptionByProviderID implements entitle.Store.
func (s *Store) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, entitle.ErrSubscriptionNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = $1`,
		providerSubscriptionID)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return sub, nil
}

// SubscriptionsByCustomer implements entitle.Store.
func (s *Store) SubscriptionsByCustomer(ctx context.Context, providerCustomerID string) ([]*entitle.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE provider_customer_id = $1 ORDER BY created_at`,
		providerCustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*entitle.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
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

	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (product_id, reference_id,
			provider_customer_id, provider_subscription_id,
			provider_order_id, status, period_start, period_end,
			cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+subscriptionColumns,
		sub.ProductID, sub.ReferenceID, sub.ProviderCustomerID,
		sub.ProviderSubscriptionID, sub.ProviderOrderID, string(status),
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd)

	created, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return created, nil
}

// UpdateSubscription implements entitle.Store. The partial update is a
// single UPDATE statement; COALESCE-style guards keep nil fields from
// touching stored values.
func (s *Store) UpdateSubscription(ctx context.Context, id string, upd entitle.SubscriptionUpdate) error {
	if upd.Status != nil && !upd.Status.Valid() {
		return entitle.ErrInvalidStatus
	}

	var status *string
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			status = COALESCE($2, status),
			period_start = COALESCE($3, period_start),
			period_end = COALESCE($4, period_end),
			cancel_at_period_end = COALESCE($5, cancel_at_period_end),
			updated_at = now()
		WHERE id = $1`,
		id, status, upd.PeriodStart, upd.PeriodEnd, upd.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

// UserByReference implements entitle.Store.
func (s *Store) UserByReference(ctx context.Context, referenceID string) (*entitle.User, error) {
	var user entitle.User
	err := s.pool.QueryRow(ctx,
		`SELECT reference_id, provider_customer_id, had_trial
			FROM billing_users WHERE reference_id = $1`,
		referenceID).Scan(&user.ReferenceID, &user.ProviderCustomerID, &user.HadTrial)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitle.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// SetUserCustomerID implements entitle.Store. The WHERE clause enforces
// first-write-wins at the database, so a concurrent duplicate checkout
// cannot clobber an already linked customer id.
func (s *Store) SetUserCustomerID(ctx context.Context, referenceID, providerCustomerID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_users WHERE reference_id = $1)`,
		referenceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return entitle.ErrUserNotFound
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE billing_users SET provider_customer_id = $2
			WHERE reference_id = $1 AND provider_customer_id = ''`,
		referenceID, providerCustomerID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

// MarkUserTrialed implements entitle.Store. Setting TRUE is idempotent.
func (s *Store) MarkUserTrialed(ctx context.Context, referenceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_users SET had_trial = TRUE WHERE reference_id = $1`,
		referenceID)
	if err != nil {
		return fmt.Errorf("failed to mark trial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrUserNotFound
	}
	return nil
}

// PutUser seeds or replaces a user record. Intended for tests and for
// hosts that mirror their user table into this store.
func (s *Store) PutUser(ctx context.Context, user *entitle.User) error {
	if user == nil || user.ReferenceID == "" {
		return fmt.Errorf("invalid user")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_users (reference_id, provider_customer_id, had_trial)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference_id) DO UPDATE SET
			provider_customer_id = EXCLUDED.provider_customer_id,
			had_trial = EXCLUDED.had_trial`,
		user.ReferenceID, user.ProviderCustomerID, user.HadTrial)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
