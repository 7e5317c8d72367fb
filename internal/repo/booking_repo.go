// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Booking
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Multi-tenancy: the bookings table is shared across every business on the
// platform, so every query here is scoped by business id. That scoping is a
// correctness requirement, not an optimization.
//
// Error semantics:
//   - When a booking is not found, functions return ErrNotFound
//     (alias of gorm.ErrRecordNotFound).
//   - Unique-index violations surface as ErrDuplicate so callers can map the
//     slot race and idempotency replays to domain errors.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation, e.g. a second live
// booking targeting an already-claimed slot key.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognizes unique-index failures across gorm and the
// glebarez/sqlite driver, which often reports them as plain-text errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateBooking inserts the booking row. The caller prepares identity,
// slot key, and timestamps. On a unique-index violation (slot already taken
// by a concurrent writer, or idempotency key reused) it returns ErrDuplicate.
func CreateBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetBooking fetches a single booking by id scoped to its business, or
// ErrNotFound.
func GetBooking(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Booking, error) {
	var b domain.Booking
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessID, id).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByIdempotencyKey returns the booking previously created with the
// given client-supplied key, or ErrNotFound. Used by the creation guard to
// short-circuit retried requests.
func GetBookingByIdempotencyKey(ctx context.Context, db *gorm.DB, businessID, key string) (*domain.Booking, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var b domain.Booking
	err := db.WithContext(ctx).
		Where("business_id = ? AND idempotency_key = ?", businessID, key).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookedInstants returns the start instants of all non-cancelled bookings
// for the service within [from, to), optionally narrowed to one staff member.
// The availability engine uses these to exclude conflicting slots.
func ListBookedInstants(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, from, to time.Time) ([]time.Time, error) {
	q := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("business_id = ? AND service_id = ?", businessID, serviceID).
		Where("status <> ?", domain.BookingStatusCancelled).
		Where("booking_date >= ? AND booking_date < ?", from, to)
	if staffID != nil {
		q = q.Where("staff_id = ? OR staff_id IS NULL", *staffID)
	}

	var instants []time.Time
	err := q.Order("booking_date asc").Pluck("booking_date", &instants).Error
	return instants, err
}

// HasConflictingBooking re-verifies at write time that no non-cancelled
// booking occupies the same (service, staff-or-null, instant) within the
// given tolerance. Time passes between slot listing and creation, so the
// engine's earlier check cannot be trusted here.
func HasConflictingBooking(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, at time.Time, tolerance time.Duration) (bool, error) {
	q := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("business_id = ? AND service_id = ?", businessID, serviceID).
		Where("status <> ?", domain.BookingStatusCancelled).
		Where("booking_date >= ? AND booking_date <= ?", at.Add(-tolerance), at.Add(tolerance))
	if staffID != nil {
		q = q.Where("staff_id = ? OR staff_id IS NULL", *staffID)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountBookingsSince returns the number of non-cancelled bookings created for
// the business at or after the given instant. Backs the monthly plan quota.
func CountBookingsSince(ctx context.Context, db *gorm.DB, businessID string, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("business_id = ?", businessID).
		Where("status <> ?", domain.BookingStatusCancelled).
		Where("created_at >= ?", since).
		Count(&n).Error
	return n, err
}

// CancelBooking transitions a booking to cancelled and releases its slot key
// so the instant becomes bookable again. Returns ErrNotFound when the booking
// does not exist, is owned by another business, or is already cancelled.
func CancelBooking(ctx context.Context, db *gorm.DB, businessID, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("business_id = ? AND id = ?", businessID, id).
		Where("status <> ?", domain.BookingStatusCancelled).
		Updates(map[string]any{
			"status":       domain.BookingStatusCancelled,
			"cancelled_at": now,
			"slot_key":     nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailSent flips one of the duplicate-send guard flags on the booking.
// kind must be a notification type with a corresponding flag; other kinds are
// a no-op.
func MarkEmailSent(ctx context.Context, db *gorm.DB, businessID, id, kind string) error {
	var column string
	switch kind {
	case domain.NotificationTypeConfirmation:
		column = "confirmation_sent"
	case domain.NotificationTypeReminder:
		column = "reminder_sent"
	case domain.NotificationTypeReview:
		column = "review_sent"
	default:
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("business_id = ? AND id = ?", businessID, id).
		Update(column, true).Error
}
