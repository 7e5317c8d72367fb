// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail() helper
// and give clients a stable, machine-readable error taxonomy that supplements
// human-readable messages. Generic codes mirror common HTTP status semantics;
// domain-specific codes cover business outcomes a status alone cannot convey
// (e.g. slot_conflict tells the client to re-fetch slots and retry, while
// booking_limit_exceeded is terminal for the month).
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSlotConflict         = "slot_conflict"
	ErrCodeBookingLimitExceeded = "BOOKING_LIMIT_EXCEEDED"
	ErrCodeSubscriptionInactive = "subscription_inactive"
	ErrCodeInvalidBookingTime   = "invalid_booking_time"
	ErrCodeCreateFailed         = "create_failed"
	ErrCodeListFailed           = "list_failed"
	ErrCodeMethodNotAllowed     = "method_not_allowed"
)
