package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"
	"github.com/tbourn/go-booking-backend/internal/schedule"
)

var (
	// notificationsSent counts successful deliveries by notification type.
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered successfully.",
		},
		[]string{"type"},
	)

	// notificationsFailed counts terminal delivery failures by type.
	notificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of notifications that reached a terminal failure.",
		},
		[]string{"type"},
	)

	// notificationRetries counts retryable failures that were pushed back
	// into the queue with a backoff hold.
	notificationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Total number of delivery attempts rescheduled with backoff.",
		},
	)

	// queueDepth gauges the number of pending queue items at the end of each
	// worker cycle.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Pending notification queue items.",
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsSent, notificationsFailed, notificationRetries, queueDepth)
}

// retryBaseDelay is the first backoff hold; each further failed attempt
// doubles it (5, 10, 20 minutes for attempts 1..3).
const retryBaseDelay = 5 * time.Minute

// Worker is the polling delivery loop of the notification queue. One Run
// loop serves deliveries at Interval and retention cleanup at
// CleanupInterval, with an immediate first pass at startup.
//
// Multiple replicas are safe: every item is claimed with an atomic
// pending → sending transition before any delivery work happens, so two
// workers can never send the same item.
type Worker struct {
	DB       *gorm.DB
	Mailer   Mailer
	Renderer Renderer

	// Interval is the delivery polling period (default one minute).
	Interval time.Duration
	// CleanupInterval is the retention purge period (default one day).
	CleanupInterval time.Duration
	// BatchSize bounds items processed per cycle (default 50).
	BatchSize int
	// Retention is how long terminal items are kept (default 30 days).
	Retention time.Duration
	// SendTimeout caps one delivery attempt (default 30s).
	SendTimeout time.Duration
	// Now returns the true current time; overridable in tests.
	Now func() time.Time

	owner string
	wake  chan struct{}
	log   zerolog.Logger
}

// NewWorker constructs a Worker with defaults applied.
func NewWorker(db *gorm.DB, mailer Mailer, renderer Renderer) *Worker {
	return &Worker{
		DB:              db,
		Mailer:          mailer,
		Renderer:        renderer,
		Interval:        time.Minute,
		CleanupInterval: 24 * time.Hour,
		BatchSize:       50,
		Retention:       30 * 24 * time.Hour,
		SendTimeout:     30 * time.Second,
		Now:             time.Now,
		owner:           uuid.NewString(),
		wake:            make(chan struct{}, 1),
		log:             log.With().Str("component", "notify.worker").Logger(),
	}
}

// Wake nudges the worker to run a delivery cycle as soon as possible.
// Non-blocking; redundant wakes collapse into one.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the worker loops until ctx is cancelled. An immediate first
// pass runs at startup rather than waiting for the first tick. Cycles are
// panic-safe: one failing item never blocks the rest of the batch, and a
// cycle-level failure never stops subsequent cycles.
func (w *Worker) Run(ctx context.Context) {
	deliver := time.NewTicker(w.Interval)
	defer deliver.Stop()
	cleanup := time.NewTicker(w.CleanupInterval)
	defer cleanup.Stop()

	w.log.Info().
		Dur("interval", w.Interval).
		Int("batch_size", w.BatchSize).
		Msg("notification worker started")

	w.safeCycle(ctx)
	w.safeCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("notification worker stopped")
			return
		case <-w.wake:
			w.safeCycle(ctx)
		case <-deliver.C:
			w.safeCycle(ctx)
		case <-cleanup.C:
			w.safeCleanup(ctx)
		}
	}
}

// safeCycle runs one delivery cycle, converting panics into error logs.
func (w *Worker) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("delivery cycle panicked")
		}
	}()
	if err := w.runCycle(ctx); err != nil {
		w.log.Error().Err(err).Msg("delivery cycle failed")
	}
}

// runCycle selects due items and processes them one by one.
func (w *Worker) runCycle(ctx context.Context) error {
	now := w.Now().UTC()
	items, err := repo.DueNotifications(ctx, w.DB, now, w.BatchSize)
	if err != nil {
		return fmt.Errorf("select due notifications: %w", err)
	}

	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processItem(ctx, &items[i])
	}

	if depth, err := repo.CountPendingNotifications(ctx, w.DB); err == nil {
		queueDepth.Set(float64(depth))
	}
	return nil
}

// processItem claims, delivers, and finalizes one queue item.
func (w *Worker) processItem(ctx context.Context, item *domain.NotificationQueueItem) {
	now := w.Now().UTC()
	claimed, err := repo.ClaimNotification(ctx, w.DB, item.ID, w.owner, now)
	if err != nil {
		w.log.Error().Err(err).Str("item_id", item.ID).Msg("claim failed")
		return
	}
	if !claimed {
		// Another replica won the claim in this polling window.
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	err = w.deliver(sendCtx, item)
	cancel()

	if err == nil {
		w.finishSent(ctx, item)
		return
	}
	w.finishFailed(ctx, item, err)
}

// deliver resolves current state, renders, and hands off to the mailer.
// Booking-driven items re-resolve the booking and business at delivery time
// so the message reflects the state at send time; a booking or template that
// has since disappeared is a permanent failure.
func (w *Worker) deliver(ctx context.Context, item *domain.NotificationQueueItem) error {
	msg := Message{To: item.Recipient, Subject: item.Subject, Text: item.Body, HTML: item.HTMLBody}

	switch item.Type {
	case domain.NotificationTypeConfirmation, domain.NotificationTypeReminder, domain.NotificationTypeReview:
		rendered, err := w.render(ctx, item)
		if err != nil {
			return err
		}
		msg.Subject = rendered.Subject
		msg.Text = rendered.Text
		msg.HTML = rendered.HTML
	default:
		// notification/custom items carry pre-rendered content.
		if msg.Subject == "" {
			return Permanent(errors.New("custom item without subject"))
		}
	}

	if _, err := w.Mailer.Send(ctx, msg); err != nil {
		return err
	}
	return nil
}

// render builds the templated message body for a booking-driven item.
func (w *Worker) render(ctx context.Context, item *domain.NotificationQueueItem) (Rendered, error) {
	if item.BookingID == nil {
		return Rendered{}, Permanent(errors.New("templated item without booking reference"))
	}
	booking, err := repo.GetBooking(ctx, w.DB, item.BusinessID, *item.BookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Rendered{}, Permanent(fmt.Errorf("booking %s gone", *item.BookingID))
		}
		return Rendered{}, err
	}
	biz, err := repo.GetBusiness(ctx, w.DB, item.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Rendered{}, Permanent(fmt.Errorf("business %s gone", item.BusinessID))
		}
		return Rendered{}, err
	}

	data := TemplateData{
		BusinessName: biz.Name,
		CustomerName: booking.CustomerName,
	}
	if svc, err := repo.GetService(ctx, w.DB, item.BusinessID, booking.ServiceID); err == nil {
		data.ServiceName = svc.Name
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rendered{}, Permanent(fmt.Errorf("service %s gone", booking.ServiceID))
	} else {
		return Rendered{}, err
	}
	if booking.StaffID != nil {
		if st, err := repo.GetStaff(ctx, w.DB, item.BusinessID, *booking.StaffID); err == nil {
			data.StaffName = st.Name
		}
	}

	when, err := schedule.FromUTC(booking.BookingDate, biz.Timezone)
	if err != nil {
		return Rendered{}, Permanent(err)
	}
	data.When = when

	rendered, err := w.Renderer.Render(item.Type, item.Language, data)
	if err != nil {
		return Rendered{}, Permanent(err)
	}
	return rendered, nil
}

// finishSent records a successful delivery and flips the booking's
// duplicate-send guard flag for the delivered type.
func (w *Worker) finishSent(ctx context.Context, item *domain.NotificationQueueItem) {
	now := w.Now().UTC()
	if err := repo.MarkNotificationSent(ctx, w.DB, item.ID, now); err != nil {
		w.log.Error().Err(err).Str("item_id", item.ID).Msg("mark sent failed")
		return
	}
	if item.BookingID != nil {
		if err := repo.MarkEmailSent(ctx, w.DB, item.BusinessID, *item.BookingID, item.Type); err != nil {
			w.log.Error().Err(err).Str("item_id", item.ID).Msg("mark email flag failed")
		}
	}
	notificationsSent.WithLabelValues(item.Type).Inc()
	w.log.Info().
		Str("item_id", item.ID).
		Str("type", item.Type).
		Str("recipient", item.Recipient).
		Msg("notification sent")
}

// finishFailed records a failed attempt: permanent errors and exhausted
// attempts become terminal, everything else is released back to pending with
// an exponential backoff hold (5, 10, 20 minutes).
func (w *Worker) finishFailed(ctx context.Context, item *domain.NotificationQueueItem, cause error) {
	now := w.Now().UTC()
	attempts := item.Attempts + 1

	terminal := IsPermanent(cause) || attempts >= item.MaxAttempts
	if terminal {
		if err := repo.MarkNotificationFailed(ctx, w.DB, item.ID, attempts, cause.Error()); err != nil {
			w.log.Error().Err(err).Str("item_id", item.ID).Msg("mark failed failed")
			return
		}
		notificationsFailed.WithLabelValues(item.Type).Inc()
		w.log.Error().Err(cause).
			Str("item_id", item.ID).
			Str("type", item.Type).
			Int("attempts", attempts).
			Bool("permanent", IsPermanent(cause)).
			Msg("notification failed terminally")
		return
	}

	nextRetry := now.Add(retryBaseDelay * time.Duration(1<<(attempts-1)))
	if err := repo.ReleaseNotification(ctx, w.DB, item.ID, attempts, cause.Error(), nextRetry); err != nil {
		w.log.Error().Err(err).Str("item_id", item.ID).Msg("release failed")
		return
	}
	notificationRetries.Inc()
	w.log.Warn().Err(cause).
		Str("item_id", item.ID).
		Int("attempts", attempts).
		Time("next_retry_at", nextRetry).
		Msg("delivery failed; retry scheduled")
}

// safeCleanup runs one retention purge, converting panics into error logs.
func (w *Worker) safeCleanup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("cleanup cycle panicked")
		}
	}()
	cutoff := w.Now().UTC().Add(-w.Retention)
	n, err := repo.PurgeTerminalBefore(ctx, w.DB, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	if n > 0 {
		w.log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("purged terminal queue items")
	}
}
