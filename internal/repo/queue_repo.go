// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// NotificationQueueItem model used by the asynchronous delivery worker.
//
// The claim/release pair implements leasing: selection and ownership of a due
// item are two separate steps, and ownership is taken with a conditional
// update so that concurrent worker replicas can never both deliver the same
// item.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// EnqueueNotification inserts a new queue item. Defaults are applied for
// zero-valued MaxAttempts and Priority.
func EnqueueNotification(ctx context.Context, db *gorm.DB, item *domain.NotificationQueueItem) error {
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = domain.DefaultMaxAttempts
	}
	if item.Priority <= 0 {
		item.Priority = 5
	}
	if item.Status == "" {
		item.Status = domain.NotificationStatusPending
	}
	return db.WithContext(ctx).Create(item).Error
}

// DueNotifications selects pending items ready for a delivery attempt:
// scheduled_for has passed, any retry hold has elapsed, and the attempt cap
// is not exhausted. Results are ordered by descending priority then ascending
// scheduled_for and bounded by limit so one cycle never does unbounded work.
func DueNotifications(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.NotificationQueueItem, error) {
	var items []domain.NotificationQueueItem
	err := db.WithContext(ctx).
		Where("status = ?", domain.NotificationStatusPending).
		Where("scheduled_for <= ?", now).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Where("attempts < max_attempts").
		Order("priority desc, scheduled_for asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// ClaimNotification atomically transitions an item pending → sending and
// records the lease owner. It reports false when another worker won the claim
// first (or the item left pending for any other reason); acting on an
// unclaimed item is never allowed.
func ClaimNotification(ctx context.Context, db *gorm.DB, id, owner string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("id = ? AND status = ?", id, domain.NotificationStatusPending).
		Updates(map[string]any{
			"status":     domain.NotificationStatusSending,
			"claimed_by": owner,
			"claimed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseNotification returns a claimed item to pending after a retryable
// failure, recording the error, the attempt, and when the next try may run.
func ReleaseNotification(ctx context.Context, db *gorm.DB, id string, attempts int, lastErr string, nextRetryAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.NotificationStatusPending,
			"attempts":      attempts,
			"last_error":    lastErr,
			"next_retry_at": nextRetryAt,
			"claimed_by":    "",
			"claimed_at":    nil,
		}).Error
}

// MarkNotificationSent finalizes a successful delivery.
func MarkNotificationSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.NotificationStatusSent,
			"sent_at":    now,
			"claimed_by": "",
			"claimed_at": nil,
		}).Error
}

// MarkNotificationFailed finalizes an item whose attempts are exhausted or
// whose failure is permanent. failed is a terminal state.
func MarkNotificationFailed(ctx context.Context, db *gorm.DB, id string, attempts int, lastErr string) error {
	return db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.NotificationStatusFailed,
			"attempts":      attempts,
			"last_error":    lastErr,
			"next_retry_at": nil,
			"claimed_by":    "",
			"claimed_at":    nil,
		}).Error
}

// CancelPendingForBooking transitions every still-pending item of a booking
// to cancelled, e.g. when the booking itself is cancelled. Items already
// sent, failed, or claimed are left untouched.
func CancelPendingForBooking(ctx context.Context, db *gorm.DB, businessID, bookingID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("business_id = ? AND booking_id = ?", businessID, bookingID).
		Where("status = ?", domain.NotificationStatusPending).
		Update("status", domain.NotificationStatusCancelled)
	return res.RowsAffected, res.Error
}

// PurgeTerminalBefore deletes terminal items last updated before the cutoff.
// Backs the 30-day retention cleanup job.
func PurgeTerminalBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ?", []string{
			domain.NotificationStatusSent,
			domain.NotificationStatusFailed,
			domain.NotificationStatusCancelled,
		}).
		Where("updated_at < ?", cutoff).
		Delete(&domain.NotificationQueueItem{})
	return res.RowsAffected, res.Error
}

// CountPendingNotifications reports the current queue depth (pending items),
// used for the worker gauge metric.
func CountPendingNotifications(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.NotificationQueueItem{}).
		Where("status = ?", domain.NotificationStatusPending).
		Count(&n).Error
	return n, err
}
