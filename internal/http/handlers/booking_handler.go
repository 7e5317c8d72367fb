// Booking HTTP handlers.
//
// This file exposes the public REST endpoints of the scheduling core:
//   - GET    /businesses/{id}/slots      (list bookable slots)
//   - POST   /businesses/{id}/bookings   (create a booking)
//   - DELETE /businesses/{id}/bookings/{bookingID} (cancel)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results (including domain sentinels) into HTTP
// responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/http/middleware"
	"github.com/tbourn/go-booking-backend/internal/schedule"
	"github.com/tbourn/go-booking-backend/internal/services"
)

var (
	// bookingsCreated counts successful booking creations (excluding
	// idempotent replays).
	bookingsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created.",
	})

	// slotConflicts counts creation attempts that lost the slot race.
	slotConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_slot_conflicts_total",
		Help: "Total number of booking attempts rejected because the slot was taken.",
	})
)

func init() {
	prometheus.MustRegister(bookingsCreated, slotConflicts)
}

//
// Service contracts (context-aware)
//

// AvailabilityService lists bookable slots. Implementations must be safe for
// concurrent use and honor the provided context.
type AvailabilityService interface {
	// ListSlots returns the bookable start times for a service on a date.
	ListSlots(ctx context.Context, businessID, serviceID, date string, staffID *string) ([]schedule.Slot, error)
}

// BookingService creates and cancels bookings. Implementations must be safe
// for concurrent use and honor the provided context.
type BookingService interface {
	// Create persists a booking; the bool reports an idempotent replay.
	Create(ctx context.Context, businessID string, req services.CreateBookingRequest) (*domain.Booking, bool, error)
	// Cancel transitions a booking to cancelled.
	Cancel(ctx context.Context, businessID, bookingID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the booking core. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	availSvc   AvailabilityService
	bookingSvc BookingService
}

// New constructs a Handlers instance bound to the given services.
func New(availSvc AvailabilityService, bookingSvc BookingService) *Handlers {
	return &Handlers{availSvc: availSvc, bookingSvc: bookingSvc}
}

//
// DTOs
//

// LocalTimeRequest is the timezone-aware way to express a booking start.
type LocalTimeRequest struct {
	// Date is the business-local calendar date.
	Date string `json:"date" binding:"required" example:"2025-06-12"`
	// Time is the business-local wall-clock time.
	Time string `json:"time" binding:"required" example:"14:30"`
}

// CreateBookingRequest is the JSON payload for creating a booking.
// BookingDate (legacy ISO-8601 absolute timestamp) and Start (local pair)
// are alternative ways to express the appointment start.
type CreateBookingRequest struct {
	ServiceID     string            `json:"service_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	StaffID       *string           `json:"staff_id,omitempty"`
	BookingDate   string            `json:"booking_date,omitempty" example:"2025-06-12T12:30:00Z"`
	Start         *LocalTimeRequest `json:"start,omitempty"`
	CustomerName  string            `json:"customer_name" binding:"required"`
	CustomerEmail string            `json:"customer_email" binding:"required"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Language      string            `json:"language,omitempty" example:"en"`
}

// BookingResponse wraps the created (or replayed) booking.
type BookingResponse struct {
	Booking *domain.Booking `json:"booking"`
	// Duplicate is true when the idempotency key matched an existing booking.
	Duplicate bool `json:"duplicate,omitempty"`
	// ConfirmationPending is set on duplicate responses whose confirmation
	// email has not gone out yet.
	ConfirmationPending bool `json:"confirmation_pending,omitempty"`
}

// SlotsResponse wraps a day's bookable slots.
type SlotsResponse struct {
	Date  string          `json:"date"`
	Slots []schedule.Slot `json:"slots"`
}

//
// Handlers
//

// ListSlots godoc
// @ID          listSlots
// @Summary     List bookable slots
// @Description Returns the ordered bookable start times for a service on a date, optionally narrowed to one staff member.
// @Tags        Slots
// @Produce     json
//
// @Param       id         path   string true  "Business ID (UUID)" format(uuid)
// @Param       service_id query  string true  "Service ID (UUID)"  format(uuid)
// @Param       date       query  string true  "Local date (YYYY-MM-DD)"
// @Param       staff_id   query  string false "Staff ID (UUID)"    format(uuid)
//
// @Success     200 {object} handlers.SlotsResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     404 {object} handlers.ErrorResponse "Unknown business or service"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /businesses/{id}/slots [get]
func (h *Handlers) ListSlots(c *gin.Context) {
	businessID := c.Param("id")
	if _, err := uuid.Parse(businessID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "business id must be a UUID")
		return
	}
	serviceID := strings.TrimSpace(c.Query("service_id"))
	date := strings.TrimSpace(c.Query("date"))
	if serviceID == "" || date == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "service_id and date are required")
		return
	}
	var staffID *string
	if v := strings.TrimSpace(c.Query("staff_id")); v != "" {
		staffID = &v
	}

	slots, err := h.availSvc.ListSlots(c.Request.Context(), businessID, serviceID, date, staffID)
	if err != nil {
		h.failFromService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, SlotsResponse{Date: date, Slots: slots})
}

// CreateBooking godoc
// @ID          createBooking
// @Summary     Create a booking
// @Description Creates a confirmed booking for the business. Retried requests carrying the same Idempotency-Key return the original booking with duplicate=true.
// @Tags        Bookings
// @Accept      json
// @Produce     json
//
// @Param       id              path   string true "Business ID (UUID)" format(uuid)
// @Param       Idempotency-Key header string false "Client-supplied idempotency key"
// @Param       body            body   handlers.CreateBookingRequest true "Create booking payload"
//
// @Success     201 {object} handlers.BookingResponse
// @Success     200 {object} handlers.BookingResponse "Idempotent replay"
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     402 {object} handlers.ErrorResponse "Subscription inactive"
// @Failure     409 {object} handlers.ErrorResponse "Slot conflict"
// @Failure     429 {object} handlers.ErrorResponse "Booking limit exceeded"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /businesses/{id}/bookings [post]
func (h *Handlers) CreateBooking(c *gin.Context) {
	businessID := c.Param("id")
	if _, err := uuid.Parse(businessID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "business id must be a UUID")
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	svcReq := services.CreateBookingRequest{
		ServiceID:     req.ServiceID,
		StaffID:       req.StaffID,
		BookingDate:   req.BookingDate,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Notes:         req.Notes,
		Language:      req.Language,
	}
	if req.Start != nil {
		svcReq.Date = req.Start.Date
		svcReq.Time = req.Start.Time
	}
	if key, present := middleware.GetIdempotencyKey(c); present {
		svcReq.IdempotencyKey = &key
	}

	booking, duplicate, err := h.bookingSvc.Create(c.Request.Context(), businessID, svcReq)
	if err != nil {
		h.failFromService(c, err, ErrCodeCreateFailed)
		return
	}

	resp := BookingResponse{Booking: booking, Duplicate: duplicate}
	if duplicate {
		resp.ConfirmationPending = !booking.ConfirmationSent
		ok(c, http.StatusOK, resp)
		return
	}
	bookingsCreated.Inc()
	ok(c, http.StatusCreated, resp)
}

// CancelBooking godoc
// @ID          cancelBooking
// @Summary     Cancel a booking
// @Description Cancels a booking and all of its still-pending notifications.
// @Tags        Bookings
// @Produce     json
//
// @Param       id        path string true "Business ID (UUID)" format(uuid)
// @Param       bookingID path string true "Booking ID (UUID)"  format(uuid)
//
// @Success     204 {string} string "No Content"
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     404 {object} handlers.ErrorResponse "Booking not found"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /businesses/{id}/bookings/{bookingID} [delete]
func (h *Handlers) CancelBooking(c *gin.Context) {
	businessID := c.Param("id")
	if _, err := uuid.Parse(businessID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "business id must be a UUID")
		return
	}
	if err := h.bookingSvc.Cancel(c.Request.Context(), businessID, c.Param("bookingID")); err != nil {
		h.failFromService(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// failFromService maps service-layer sentinels to HTTP status and code.
func (h *Handlers) failFromService(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrBusinessNotFound),
		errors.Is(err, services.ErrServiceNotFound),
		errors.Is(err, services.ErrStaffNotFound),
		errors.Is(err, services.ErrBookingNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidID),
		errors.Is(err, services.ErrInvalidName),
		errors.Is(err, services.ErrInvalidEmail),
		errors.Is(err, services.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidBookingTime),
		errors.Is(err, services.ErrPastBookingTime):
		fail(c, http.StatusBadRequest, ErrCodeInvalidBookingTime, err.Error())
	case errors.Is(err, services.ErrSubscriptionInactive):
		fail(c, http.StatusPaymentRequired, ErrCodeSubscriptionInactive, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeBookingLimitExceeded, err.Error())
	case errors.Is(err, services.ErrSlotTaken):
		slotConflicts.Inc()
		fail(c, http.StatusConflict, ErrCodeSlotConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}
