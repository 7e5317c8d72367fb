// Package services defines the business logic of the booking core. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Lookup errors.
var (
	// ErrBusinessNotFound indicates the referenced business does not exist.
	ErrBusinessNotFound = errors.New("business not found")

	// ErrServiceNotFound indicates the referenced service does not exist or
	// is inactive.
	ErrServiceNotFound = errors.New("service not found")

	// ErrStaffNotFound indicates the referenced staff member does not exist
	// or is inactive.
	ErrStaffNotFound = errors.New("staff member not found")

	// ErrBookingNotFound indicates the referenced booking does not exist for
	// the business.
	ErrBookingNotFound = errors.New("booking not found")
)

// Validation errors: rejected before any write, never retried.
var (
	// ErrInvalidID is returned when a supplied identifier is not a UUID.
	ErrInvalidID = errors.New("identifier must be a UUID")

	// ErrInvalidName is returned when the customer name is blank.
	ErrInvalidName = errors.New("customer name is required")

	// ErrInvalidEmail is returned when the customer email does not match a
	// basic address grammar.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidPhone is returned when the optional phone number does not
	// match a loose international grammar.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidBookingTime is returned when the requested date/time pair
	// cannot be resolved in the business's timezone (malformed, or a DST gap).
	ErrInvalidBookingTime = errors.New("invalid booking time")

	// ErrPastBookingTime is returned when the requested time is not in the
	// future.
	ErrPastBookingTime = errors.New("booking time is in the past")
)

// Business-rule errors: terminal for the request.
var (
	// ErrSubscriptionInactive is returned when the business has no active
	// subscription.
	ErrSubscriptionInactive = errors.New("business subscription is not active")

	// ErrQuotaExceeded is returned when the business has used up its plan's
	// monthly booking quota.
	ErrQuotaExceeded = errors.New("monthly booking limit exceeded")
)

// ErrSlotTaken is returned when the requested slot was claimed by a
// concurrent booking between listing and creation. Retryable by the client
// after re-fetching slots.
var ErrSlotTaken = errors.New("slot no longer available")
