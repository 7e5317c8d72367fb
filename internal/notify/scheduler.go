package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"
)

// Queue priorities per notification type. Confirmations jump the line;
// reviews can wait behind everything else.
const (
	priorityConfirmation = 8
	priorityReminder     = 5
	priorityReview       = 2
)

// Waker lets the scheduler nudge the delivery worker out of its polling
// sleep so a confirmation goes out immediately after booking creation.
type Waker interface {
	Wake()
}

// Scheduler translates booking lifecycle events into queue items. It
// implements the service layer's NotificationScheduler contract.
type Scheduler struct {
	DB  *gorm.DB
	Now func() time.Time
	// Worker, when set, is woken after a confirmation is enqueued.
	Worker Waker
}

// NewScheduler constructs a Scheduler.
func NewScheduler(db *gorm.DB) *Scheduler {
	return &Scheduler{DB: db, Now: time.Now}
}

// BookingCreated enqueues the customer's follow-up notifications:
//
//   - a confirmation due immediately (the worker is woken to send it now);
//   - a reminder at bookingDate − reminderHoursBefore, skipped entirely when
//     that instant has already passed (booking made too close to its own time);
//   - a review request at bookingDate + reviewHoursAfter, unconditionally.
func (s *Scheduler) BookingCreated(ctx context.Context, biz *domain.Business, b *domain.Booking) error {
	now := s.Now().UTC()

	if err := s.enqueue(ctx, biz, b, domain.NotificationTypeConfirmation, now, priorityConfirmation); err != nil {
		return err
	}

	reminderAt := b.BookingDate.Add(-time.Duration(biz.ReminderHoursBefore) * time.Hour)
	if reminderAt.After(now) {
		if err := s.enqueue(ctx, biz, b, domain.NotificationTypeReminder, reminderAt, priorityReminder); err != nil {
			return err
		}
	} else {
		log.Debug().
			Str("booking_id", b.ID).
			Time("reminder_at", reminderAt).
			Msg("reminder window already passed; not scheduling")
	}

	reviewAt := b.BookingDate.Add(time.Duration(biz.ReviewHoursAfter) * time.Hour)
	if err := s.enqueue(ctx, biz, b, domain.NotificationTypeReview, reviewAt, priorityReview); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.Wake()
	}
	return nil
}

// BookingCancelled moves all of the booking's pending queue items to
// cancelled. Sent and failed items are history and stay untouched.
func (s *Scheduler) BookingCancelled(ctx context.Context, businessID, bookingID string) error {
	n, err := repo.CancelPendingForBooking(ctx, s.DB, businessID, bookingID)
	if err != nil {
		return err
	}
	log.Info().
		Str("business_id", businessID).
		Str("booking_id", bookingID).
		Int64("cancelled", n).
		Msg("cancelled pending notifications")
	return nil
}

// Enqueue inserts an on-demand item (type notification/custom) with
// caller-provided content. Booking-driven items go through BookingCreated.
func (s *Scheduler) Enqueue(ctx context.Context, item *domain.NotificationQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return repo.EnqueueNotification(ctx, s.DB, item)
}

// enqueue writes one templated queue item. Subject and body stay empty here:
// the worker re-resolves the booking and renders at delivery time, so the
// message reflects the state at send time, not at creation.
func (s *Scheduler) enqueue(ctx context.Context, biz *domain.Business, b *domain.Booking, kind string, due time.Time, priority int) error {
	item := &domain.NotificationQueueItem{
		ID:           uuid.NewString(),
		BusinessID:   biz.ID,
		BookingID:    &b.ID,
		Type:         kind,
		Recipient:    b.CustomerEmail,
		Language:     b.Language,
		ScheduledFor: due.UTC(),
		Status:       domain.NotificationStatusPending,
		MaxAttempts:  domain.DefaultMaxAttempts,
		Priority:     priority,
	}
	return repo.EnqueueNotification(ctx, s.DB, item)
}
