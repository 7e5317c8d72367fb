// Package domain defines the core persistence models for the application.
// This file holds the outbound notification queue item used by the
// asynchronous delivery worker.
package domain

import "time"

// Notification queue item types.
const (
	NotificationTypeConfirmation = "confirmation"
	NotificationTypeReminder     = "reminder"
	NotificationTypeReview       = "review"
	NotificationTypeNotification = "notification"
	NotificationTypeCustom       = "custom"
)

// Notification queue item states. Items move monotonically along
// pending → {sent | failed | cancelled}; "sending" is a transient in-worker
// claim and is never a terminal outcome.
const (
	NotificationStatusPending   = "pending"
	NotificationStatusSending   = "sending"
	NotificationStatusSent      = "sent"
	NotificationStatusFailed    = "failed"
	NotificationStatusCancelled = "cancelled"
)

// DefaultMaxAttempts bounds delivery retries per queue item.
const DefaultMaxAttempts = 3

// NotificationQueueItem is one scheduled outbound message. Items reference
// the owning business and (optionally) the triggering booking by id only, so
// a booking can be soft-deleted independently of its notification history.
//
// Invariants:
//   - Attempts never exceeds MaxAttempts; once the cap is reached the item is
//     terminal (failed).
//   - ClaimedBy/ClaimedAt form the delivery lease: a worker may only act on an
//     item after atomically moving it pending → sending, and must release the
//     lease back to pending when the attempt fails with retries remaining.
type NotificationQueueItem struct {
	ID         string  `json:"id"          gorm:"type:char(36);primaryKey"`
	BusinessID string  `json:"business_id" gorm:"type:char(36);not null;index:idx_business_queue"`
	BookingID  *string `json:"booking_id,omitempty" gorm:"type:char(36);index"`

	Type      string `json:"type"      gorm:"type:varchar(16);not null"`
	Recipient string `json:"recipient" gorm:"type:varchar(255);not null"`
	Subject   string `json:"subject"   gorm:"type:varchar(255);not null"`
	Body      string `json:"body"      gorm:"type:text"`
	HTMLBody  string `json:"html_body,omitempty" gorm:"type:text"`
	Language  string `json:"language,omitempty"  gorm:"type:varchar(8)"`

	ScheduledFor time.Time  `json:"scheduled_for" gorm:"not null;index"`
	Status       string     `json:"status"        gorm:"type:varchar(16);not null;default:'pending';index"`
	Attempts     int        `json:"attempts"      gorm:"not null;default:0"`
	MaxAttempts  int        `json:"max_attempts"  gorm:"not null;default:3"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Priority     int        `json:"priority"      gorm:"not null;default:5"`
	LastError    string     `json:"last_error,omitempty" gorm:"type:text"`

	ClaimedBy string     `json:"-" gorm:"type:char(36)"`
	ClaimedAt *time.Time `json:"-"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for NotificationQueueItem.
func (NotificationQueueItem) TableName() string { return "notification_queue" }

// Terminal reports whether the item has reached a state the worker will never
// move it out of.
func (n *NotificationQueueItem) Terminal() bool {
	switch n.Status {
	case NotificationStatusSent, NotificationStatusFailed, NotificationStatusCancelled:
		return true
	}
	return false
}
