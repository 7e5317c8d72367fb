// Package domain defines the persistence models for businesses, services,
// staff, and bookings. These types are mapped with GORM and form the core
// data layer of the booking platform.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking lifecycle states.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
	BookingStatusNoShow    = "no_show"
)

// Payment states. Payments are an independent axis from the booking lifecycle:
// a confirmed booking may still be unpaid, and a cancelled one refunded.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// SubscriptionActive is the business subscription state that permits new
// public bookings.
const SubscriptionActive = "active"

// DayHours describes one weekday's opening window in the business's local
// wall-clock time ("HH:MM"). A day with Closed set (or absent from the map
// entirely) accepts no bookings.
type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

// WeekHours maps lowercase English weekday names ("monday".."sunday") to
// their opening windows.
type WeekHours map[string]DayHours

// Business represents a tenant on the platform. It is read-only input to the
// scheduling core; profile management happens elsewhere.
//
// Fields:
//   - Timezone: IANA zone name (e.g. "Europe/Berlin") in which Hours are read.
//   - Hours: JSON-encoded WeekHours.
//   - BookingBufferMin: minutes appended after each service when stepping slots.
//   - ReminderHoursBefore / ReviewHoursAfter: notification scheduling offsets.
//   - MonthlyBookingLimit: plan quota; 0 means unlimited.
type Business struct {
	ID                  string         `json:"id"        gorm:"type:char(36);primaryKey"`
	Name                string         `json:"name"      gorm:"type:varchar(255);not null"`
	Timezone            string         `json:"timezone"  gorm:"type:varchar(64);not null;default:'UTC'"`
	Hours               datatypes.JSON `json:"hours"     gorm:"type:jsonb"`
	BookingBufferMin    int            `json:"booking_buffer_min"    gorm:"not null;default:0"`
	ReminderHoursBefore int            `json:"reminder_hours_before" gorm:"not null;default:24"`
	ReviewHoursAfter    int            `json:"review_hours_after"    gorm:"not null;default:24"`
	SubscriptionStatus  string         `json:"subscription_status"   gorm:"type:varchar(32);not null;default:'active'"`
	MonthlyBookingLimit int            `json:"monthly_booking_limit" gorm:"not null;default:0"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Business.
func (Business) TableName() string { return "businesses" }

// WeekHours decodes the stored opening hours. A missing document yields an
// empty map, which the availability engine treats as "closed every day".
func (b *Business) WeekHours() (WeekHours, error) {
	if len(b.Hours) == 0 {
		return WeekHours{}, nil
	}
	var wh WeekHours
	if err := json.Unmarshal(b.Hours, &wh); err != nil {
		return nil, fmt.Errorf("business %s: malformed hours: %w", b.ID, err)
	}
	return wh, nil
}

// Service is a bookable offering (haircut, massage, …) owned by a business.
type Service struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	BusinessID  string         `json:"business_id" gorm:"type:char(36);not null;index:idx_business_services"`
	Name        string         `json:"name"        gorm:"type:varchar(255);not null"`
	DurationMin int            `json:"duration_min" gorm:"not null"`
	Active      bool           `json:"active"      gorm:"not null;default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Service.
func (Service) TableName() string { return "services" }

// Staff is an employee who can be booked for a service. Booking a specific
// staff member is optional; a nil staff reference means "anyone".
type Staff struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	BusinessID string         `json:"business_id" gorm:"type:char(36);not null;index:idx_business_staff"`
	Name       string         `json:"name"        gorm:"type:varchar(255);not null"`
	Active     bool           `json:"active"      gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Staff.
func (Staff) TableName() string { return "staff" }

// Booking is one customer appointment. Customers are captured inline; no
// separate customer identity is required for public bookings.
//
// Concurrency invariants:
//   - SlotKey is a unique composite of (business, service, staff-or-empty,
//     instant). It is set while the booking is live and cleared on
//     cancellation, so the database guarantees a single winner for any slot
//     regardless of how many requests race past the application-level check.
//   - IdempotencyKey, when present, is unique: a retried client request maps
//     to exactly one persisted booking ever.
type Booking struct {
	ID             string  `json:"id"          gorm:"type:char(36);primaryKey"`
	BusinessID     string  `json:"business_id" gorm:"type:char(36);not null;index:idx_business_bookings,priority:1"`
	ServiceID      string  `json:"service_id"  gorm:"type:char(36);not null;index"`
	StaffID        *string `json:"staff_id,omitempty" gorm:"type:char(36);index"`
	IdempotencyKey *string `json:"-" gorm:"type:varchar(200);uniqueIndex:ux_bookings_idem"`
	SlotKey        *string `json:"-" gorm:"type:varchar(200);uniqueIndex:ux_bookings_slot"`

	// BookingDate is the appointment start as an absolute instant, always
	// stored in UTC. Local wall-clock time exists only at the API boundary.
	BookingDate time.Time `json:"booking_date" gorm:"not null;index:idx_business_bookings,priority:2"`
	DurationMin int       `json:"duration_min" gorm:"not null"`

	CustomerName  string `json:"customer_name"  gorm:"type:varchar(255);not null"`
	CustomerEmail string `json:"customer_email" gorm:"type:varchar(255);not null"`
	CustomerPhone string `json:"customer_phone,omitempty" gorm:"type:varchar(32)"`
	Notes         string `json:"notes,omitempty" gorm:"type:text"`
	Language      string `json:"language,omitempty" gorm:"type:varchar(8)"`

	Status        string `json:"status"         gorm:"type:varchar(16);not null;default:'pending';index"`
	PaymentStatus string `json:"payment_status" gorm:"type:varchar(24);not null;default:'pending'"`

	// Email flags gate duplicate sends; they are flipped by the notification
	// worker after a successful delivery, never by request handlers.
	ConfirmationSent bool `json:"confirmation_sent" gorm:"not null;default:false"`
	ReminderSent     bool `json:"reminder_sent"     gorm:"not null;default:false"`
	ReviewSent       bool `json:"review_sent"       gorm:"not null;default:false"`

	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
	DeletedBy   *string        `json:"-" gorm:"type:varchar(64)"`
}

// TableName returns the database table name for Booking.
func (Booking) TableName() string { return "bookings" }

// SlotKeyFor builds the composite uniqueness key for a live booking. A nil
// staff id collapses to the empty sentinel so "any staff" bookings collide
// with each other at the same instant. The instant is truncated to the second
// in UTC so equal wall times always produce equal keys.
func SlotKeyFor(businessID, serviceID string, staffID *string, at time.Time) string {
	staff := ""
	if staffID != nil {
		staff = *staffID
	}
	return strings.Join([]string{
		businessID,
		serviceID,
		staff,
		fmt.Sprintf("%d", at.UTC().Truncate(time.Second).Unix()),
	}, "|")
}
