// Package services – AvailabilityService
//
// This file implements the slot availability engine: given a service, a
// local calendar date, and an optional staff member, it produces the ordered
// list of bookable start instants from the business's opening hours and the
// day's existing bookings.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// business/service identifiers and the requested date.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/schedule"
)

// AvailabilityRepo defines the persistence contract required by
// AvailabilityService.
type AvailabilityRepo interface {
	// GetBusiness fetches a business by id.
	GetBusiness(ctx context.Context, db *gorm.DB, id string) (*domain.Business, error)

	// GetService fetches an active service scoped to the business.
	GetService(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Service, error)

	// GetStaff fetches an active staff member scoped to the business.
	GetStaff(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Staff, error)

	// ListBookedInstants returns non-cancelled booking starts in [from, to).
	ListBookedInstants(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, from, to time.Time) ([]time.Time, error)
}

// AvailabilityService computes bookable slots for a (service, date, optional
// staff) tuple.
type AvailabilityService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo AvailabilityRepo
	// Now returns the true current time; overridable in tests.
	Now func() time.Time
}

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(db *gorm.DB, r AvailabilityRepo) *AvailabilityService {
	return &AvailabilityService{DB: db, Repo: r, Now: time.Now}
}

// ListSlots returns the bookable start times for serviceID on the given local
// date (YYYY-MM-DD), optionally narrowed to one staff member.
//
// A day the business marks closed, or omits from its hours entirely, yields
// an empty list and no error: "nothing bookable" is an answer, not a failure.
func (s *AvailabilityService) ListSlots(ctx context.Context, businessID, serviceID, date string, staffID *string) ([]schedule.Slot, error) {
	tr := otel.Tracer("services/AvailabilityService")
	ctx, span := tr.Start(ctx, "ListSlots",
		trace.WithAttributes(
			attribute.String("business.id", businessID),
			attribute.String("service.id", serviceID),
			attribute.String("date", date),
		),
	)
	defer span.End()

	biz, err := s.Repo.GetBusiness(ctx, s.DB, businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}
	svc, err := s.Repo.GetService(ctx, s.DB, businessID, serviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	if staffID != nil {
		if _, err := s.Repo.GetStaff(ctx, s.DB, businessID, *staffID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrStaffNotFound
			}
			return nil, err
		}
	}

	day, err := openingFor(biz, date)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return []schedule.Slot{}, nil
	}

	openUTC, err := schedule.ToUTC(date, day.Open, biz.Timezone)
	if err != nil {
		return nil, ErrInvalidBookingTime
	}
	closeUTC, err := schedule.ToUTC(date, day.Close, biz.Timezone)
	if err != nil {
		return nil, ErrInvalidBookingTime
	}

	// Conflicts are looked up across the whole local day, not just the open
	// window, so bookings placed outside current hours still exclude slots.
	dayStart, dayEnd, err := schedule.DayRangeUTC(date, biz.Timezone)
	if err != nil {
		return nil, ErrInvalidBookingTime
	}
	booked, err := s.Repo.ListBookedInstants(ctx, s.DB, businessID, serviceID, staffID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	step := time.Duration(svc.DurationMin+biz.BookingBufferMin) * time.Minute
	loc, err := time.LoadLocation(biz.Timezone)
	if err != nil {
		return nil, ErrInvalidBookingTime
	}

	slots := schedule.Enumerate(openUTC, closeUTC, step, booked, s.Now(), loc)
	span.SetAttributes(attribute.Int("slots.count", len(slots)))
	return slots, nil
}

// openingFor resolves the day's opening window from the business hours.
// Returns nil (no error) when the day is closed or absent.
func openingFor(biz *domain.Business, date string) (*domain.DayHours, error) {
	d, err := time.Parse(schedule.DateLayout, date)
	if err != nil {
		return nil, ErrInvalidBookingTime
	}
	hours, err := biz.WeekHours()
	if err != nil {
		return nil, err
	}
	day, ok := hours[weekdayKey(d.Weekday())]
	if !ok || day.Closed || day.Open == "" || day.Close == "" {
		return nil, nil
	}
	return &day, nil
}

// weekdayKey lowercases a weekday to the hours-map key form.
func weekdayKey(w time.Weekday) string {
	switch w {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}
