// Package services – BookingService
//
// This file implements the booking creation guard: the sole path that
// persists a new Booking. It validates input, re-checks slot availability at
// write time, enforces subscription and quota rules, and guarantees
// at-most-once creation per client idempotency key. The database's unique
// slot-key index is the final arbiter of the slot race; the in-service
// conflict re-check only exists to answer most losers before the write.
//
// Side effects (confirmation send, reminder/review enqueue) are best-effort:
// their failure is logged and never fails the created booking.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"
	"github.com/tbourn/go-booking-backend/internal/schedule"
)

var (
	// emailRE is a deliberately basic address grammar; deliverability is the
	// mail collaborator's problem, not the guard's.
	emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// phoneRE accepts loose international formats: optional +, digits,
	// spaces, dashes, parentheses; 7–20 significant characters.
	phoneRE = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,18}[0-9]$`)
)

// BookingRepo defines the persistence contract required by BookingService.
type BookingRepo interface {
	GetBusiness(ctx context.Context, db *gorm.DB, id string) (*domain.Business, error)
	GetService(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Service, error)
	GetStaff(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Staff, error)
	GetBookingByIdempotencyKey(ctx context.Context, db *gorm.DB, businessID, key string) (*domain.Booking, error)
	HasConflictingBooking(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, at time.Time, tolerance time.Duration) (bool, error)
	CountBookingsSince(ctx context.Context, db *gorm.DB, businessID string, since time.Time) (int64, error)
	CreateBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) error
	CancelBooking(ctx context.Context, db *gorm.DB, businessID, id string, now time.Time) error
}

// SubscriptionChecker is the external billing collaborator contract: it
// answers whether the business may accept new public bookings.
type SubscriptionChecker interface {
	// Active reports whether the business holds an active subscription.
	Active(ctx context.Context, biz *domain.Business) (bool, error)
}

// SubscriptionFromBusiness is the default SubscriptionChecker; it reads the
// subscription status replicated onto the business row.
type SubscriptionFromBusiness struct{}

// Active implements SubscriptionChecker.
func (SubscriptionFromBusiness) Active(_ context.Context, biz *domain.Business) (bool, error) {
	return biz.SubscriptionStatus == domain.SubscriptionActive, nil
}

// NotificationScheduler is the contract through which booking-side events
// reach the notification pipeline.
type NotificationScheduler interface {
	// BookingCreated triggers the confirmation send and schedules
	// reminder/review notifications for a freshly created booking.
	BookingCreated(ctx context.Context, biz *domain.Business, b *domain.Booking) error

	// BookingCancelled cancels all pending queue items of the booking.
	BookingCancelled(ctx context.Context, businessID, bookingID string) error
}

// CreateBookingRequest carries the public booking-creation input. BookingDate
// (legacy ISO-8601 absolute string) and the Date/Time local pair are mutually
// exclusive ways to express the appointment start; the pair wins when both
// are present.
type CreateBookingRequest struct {
	ServiceID      string
	StaffID        *string
	BookingDate    string // legacy: RFC 3339 absolute timestamp
	Date           string // "YYYY-MM-DD" local
	Time           string // "HH:MM" local
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Notes          string
	Language       string
	IdempotencyKey *string
}

// BookingService owns the booking creation and cancellation paths.
type BookingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the booking repository used by this service.
	Repo BookingRepo
	// Subs answers subscription questions; defaults to the business row.
	Subs SubscriptionChecker
	// Scheduler receives booking lifecycle events; may be nil in tests.
	Scheduler NotificationScheduler
	// Now returns the true current time; overridable in tests.
	Now func() time.Time
}

// NewBookingService constructs a BookingService with default collaborators.
func NewBookingService(db *gorm.DB, r BookingRepo, sched NotificationScheduler) *BookingService {
	return &BookingService{
		DB:        db,
		Repo:      r,
		Subs:      SubscriptionFromBusiness{},
		Scheduler: sched,
		Now:       time.Now,
	}
}

// Create persists a new booking. The second return value reports a duplicate:
// when the request's idempotency key matches an existing booking, that
// booking is returned unchanged with duplicate=true and nothing is written.
func (s *BookingService) Create(ctx context.Context, businessID string, req CreateBookingRequest) (*domain.Booking, bool, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("business.id", businessID),
			attribute.String("service.id", req.ServiceID),
		),
	)
	defer span.End()

	biz, err := s.Repo.GetBusiness(ctx, s.DB, businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrBusinessNotFound
		}
		return nil, false, err
	}

	// Step 1: idempotency short-circuit. A retried request (double-submit,
	// network retry) must map to the original booking, not a new one.
	if req.IdempotencyKey != nil && strings.TrimSpace(*req.IdempotencyKey) != "" {
		existing, err := s.Repo.GetBookingByIdempotencyKey(ctx, s.DB, businessID, *req.IdempotencyKey)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("booking.duplicate", true))
			return existing, true, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// proceed with creation
		default:
			return nil, false, err
		}
	}

	// Step 2: input validation, before any write.
	svc, staffID, err := s.validate(ctx, businessID, &req)
	if err != nil {
		return nil, false, err
	}
	instant, err := s.resolveInstant(biz, req)
	if err != nil {
		return nil, false, err
	}

	// Step 3: business rules.
	active, err := s.Subs.Active(ctx, biz)
	if err != nil {
		return nil, false, err
	}
	if !active {
		return nil, false, ErrSubscriptionInactive
	}
	if biz.MonthlyBookingLimit > 0 {
		used, err := s.Repo.CountBookingsSince(ctx, s.DB, businessID, startOfMonth(s.Now(), biz.Timezone))
		if err != nil {
			return nil, false, err
		}
		if used >= int64(biz.MonthlyBookingLimit) {
			return nil, false, ErrQuotaExceeded
		}
	}

	// Step 4: collision re-check at write time. Another client may have
	// claimed the slot since it was listed.
	taken, err := s.Repo.HasConflictingBooking(ctx, s.DB, businessID, req.ServiceID, staffID, instant, schedule.ConflictTolerance)
	if err != nil {
		return nil, false, err
	}
	if taken {
		return nil, false, ErrSlotTaken
	}

	// Step 5: persist, confirmed immediately for public bookings.
	now := s.Now().UTC()
	slotKey := domain.SlotKeyFor(businessID, req.ServiceID, staffID, instant)
	booking := &domain.Booking{
		ID:            uuid.NewString(),
		BusinessID:    businessID,
		ServiceID:     req.ServiceID,
		StaffID:       staffID,
		SlotKey:       &slotKey,
		BookingDate:   instant,
		DurationMin:   svc.DurationMin,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Notes:         req.Notes,
		Language:      req.Language,
		Status:        domain.BookingStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		ConfirmedAt:   &now,
	}
	if req.IdempotencyKey != nil && strings.TrimSpace(*req.IdempotencyKey) != "" {
		k := strings.TrimSpace(*req.IdempotencyKey)
		booking.IdempotencyKey = &k
	}

	if err := s.Repo.CreateBooking(ctx, s.DB, booking); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// The unique slot index elected another winner between the
			// re-check and the insert.
			return nil, false, ErrSlotTaken
		}
		return nil, false, err
	}

	// Step 6: notifications, best-effort. The booking stands even if the
	// pipeline is down.
	if s.Scheduler != nil {
		if err := s.Scheduler.BookingCreated(ctx, biz, booking); err != nil {
			log.Error().Err(err).
				Str("business_id", businessID).
				Str("booking_id", booking.ID).
				Msg("scheduling notifications failed; booking kept")
		}
	}

	return booking, false, nil
}

// Cancel transitions a booking to cancelled and cancels its pending queue
// items. Already-sent notifications are untouched.
func (s *BookingService) Cancel(ctx context.Context, businessID, bookingID string) error {
	if _, err := uuid.Parse(bookingID); err != nil {
		return ErrInvalidID
	}
	if err := s.Repo.CancelBooking(ctx, s.DB, businessID, bookingID, s.Now().UTC()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBookingNotFound
		}
		return err
	}
	if s.Scheduler != nil {
		if err := s.Scheduler.BookingCancelled(ctx, businessID, bookingID); err != nil {
			log.Error().Err(err).
				Str("business_id", businessID).
				Str("booking_id", bookingID).
				Msg("cancelling pending notifications failed")
		}
	}
	return nil
}

// validate performs the syntactic checks of step 2 and resolves the service
// and optional staff member.
func (s *BookingService) validate(ctx context.Context, businessID string, req *CreateBookingRequest) (*domain.Service, *string, error) {
	if _, err := uuid.Parse(req.ServiceID); err != nil {
		return nil, nil, ErrInvalidID
	}
	var staffID *string
	if req.StaffID != nil && *req.StaffID != "" {
		if _, err := uuid.Parse(*req.StaffID); err != nil {
			return nil, nil, ErrInvalidID
		}
		staffID = req.StaffID
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, nil, ErrInvalidName
	}
	if !emailRE.MatchString(strings.TrimSpace(req.CustomerEmail)) {
		return nil, nil, ErrInvalidEmail
	}
	if p := strings.TrimSpace(req.CustomerPhone); p != "" && !phoneRE.MatchString(p) {
		return nil, nil, ErrInvalidPhone
	}

	svc, err := s.Repo.GetService(ctx, s.DB, businessID, req.ServiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrServiceNotFound
		}
		return nil, nil, err
	}
	if staffID != nil {
		if _, err := s.Repo.GetStaff(ctx, s.DB, businessID, *staffID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, ErrStaffNotFound
			}
			return nil, nil, err
		}
	}
	return svc, staffID, nil
}

// resolveInstant maps the request's time expression to a UTC instant and
// rejects past times against business-local "now".
func (s *BookingService) resolveInstant(biz *domain.Business, req CreateBookingRequest) (time.Time, error) {
	now := s.Now()

	if req.Date != "" || req.Time != "" {
		if err := schedule.ValidateBookingTime(req.Date, req.Time, biz.Timezone); err != nil {
			return time.Time{}, ErrInvalidBookingTime
		}
		past, err := schedule.IsInPast(req.Date, req.Time, biz.Timezone, now)
		if err != nil {
			return time.Time{}, ErrInvalidBookingTime
		}
		if past {
			return time.Time{}, ErrPastBookingTime
		}
		instant, err := schedule.ToUTC(req.Date, req.Time, biz.Timezone)
		if err != nil {
			return time.Time{}, ErrInvalidBookingTime
		}
		return instant, nil
	}

	// Legacy absolute timestamp.
	instant, err := time.Parse(time.RFC3339, req.BookingDate)
	if err != nil {
		return time.Time{}, ErrInvalidBookingTime
	}
	instant = instant.UTC().Truncate(time.Second)
	if !instant.After(now) {
		return time.Time{}, ErrPastBookingTime
	}
	return instant, nil
}

// startOfMonth returns the first instant of the current calendar month in the
// business's timezone; the quota counts bookings created since then.
func startOfMonth(now time.Time, timezone string) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
}
