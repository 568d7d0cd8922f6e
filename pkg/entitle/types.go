// Package entitle defines the core domain model for subscription
// reconciliation: the durable subscription record, the two user fields the
// engine is allowed to touch, and the narrow Store interface that decouples
// the webhook engine from any specific database.
package entitle

import (
	"strings"
	"time"
)

// Status is the subscription lifecycle status as recorded locally.
// It is a closed enumeration; values outside this set are rejected at parse
// time rather than stored.
type Status string

const (
	StatusPending         Status = "pending"
	StatusActive          Status = "active"
	StatusTrialing        Status = "trialing"
	StatusCanceled        Status = "canceled"
	StatusPaid            Status = "paid"
	StatusExpired         Status = "expired"
	StatusUnpaid          Status = "unpaid"
	StatusPastDue         Status = "past_due"
	StatusPaused          Status = "paused"
	StatusScheduledCancel Status = "scheduled_cancel"
)

// validStatuses is the closed set accepted by ParseStatus.
var validStatuses = map[Status]struct{}{
	StatusPending:         {},
	StatusActive:          {},
	StatusTrialing:        {},
	StatusCanceled:        {},
	StatusPaid:            {},
	StatusExpired:         {},
	StatusUnpaid:          {},
	StatusPastDue:         {},
	StatusPaused:          {},
	StatusScheduledCancel: {},
}

// ParseStatus maps a provider status string onto the local enumeration.
// Unknown or empty values return StatusPending and false so callers can
// decide whether to keep the record's current status instead.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validStatuses[st]; ok {
		return st, true
	}
	return StatusPending, false
}

// Valid reports whether the status is a member of the closed enumeration.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Subscription is the durable local record reconciled from provider events.
// It is created by the first checkout completion (or, failing that, never by
// a bare status event) and updated, never deleted, afterwards.
type Subscription struct {
	// ID is the local identifier, generated by the Store on creation.
	ID string

	// ProductID is the provider's product identifier. Required.
	ProductID string

	// ReferenceID is the host application's own user/org identifier,
	// carried through provider metadata. Required for correlation and
	// never inferred from other fields.
	ReferenceID string

	// Provider-side correlation identifiers. ProviderSubscriptionID is the
	// preferred lookup key; (ProviderCustomerID, ProductID) is the
	// fallback for records created before the subscription id was known.
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderOrderID        string

	// Status defaults to StatusPending on creation.
	Status Status

	// PeriodStart and PeriodEnd describe the current billing period.
	// Nil means unknown; an event that carries no period bounds must not
	// clear previously stored values.
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// CancelAtPeriodEnd is true only while Status is
	// StatusScheduledCancel and is cleared when the cancellation lands.
	CancelAtPeriodEnd bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionUpdate is a partial update applied as a single per-row write.
// Nil pointer fields leave the stored value untouched.
type SubscriptionUpdate struct {
	Status            *Status
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
}

// User is the slice of the host's user record this engine reads and writes.
// Only two fields are ever mutated: ProviderCustomerID (first write wins)
// and HadTrial (one-way false -> true).
type User struct {
	// ReferenceID is the host's identifier, the same value that arrives in
	// event metadata.
	ReferenceID string

	// ProviderCustomerID links the user to the payment provider's
	// customer object. Set exactly once.
	ProviderCustomerID string

	// HadTrial is set once the user has consumed a trial on any product
	// and is never reset by this engine.
	HadTrial bool
}
