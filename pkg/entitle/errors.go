package entitle

import "errors"

var (
	// ErrSubscriptionNotFound is returned by Store lookups that match no
	// record. A status event for an unknown subscription is benign under
	// out-of-order delivery, so callers typically log and skip.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotFound is returned when no user matches a reference id.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidSubscription is returned when a subscription record is
	// missing required fields (product id, reference id).
	ErrInvalidSubscription = errors.New("invalid subscription record")

	// ErrInvalidStatus is returned when a status outside the closed
	// enumeration would be stored.
	ErrInvalidStatus = errors.New("invalid subscription status")
)
