package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func strPtr(s string) *string { return &s }

func seedBooking(t *testing.T, db *gorm.DB, b domain.Booking) domain.Booking {
	t.Helper()
	if b.Status == "" {
		b.Status = domain.BookingStatusConfirmed
	}
	if b.CustomerName == "" {
		b.CustomerName = "Ada"
	}
	if b.CustomerEmail == "" {
		b.CustomerEmail = "ada@example.com"
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("seed booking %s: %v", b.ID, err)
	}
	return b
}

func TestCreateBooking_SlotKeyRace_SecondWriterGetsDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	at := time.Date(2025, 6, 12, 12, 30, 0, 0, time.UTC)
	key := domain.SlotKeyFor("b1", "s1", nil, at)

	first := &domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		SlotKey: strPtr(key), BookingDate: at, DurationMin: 60,
		CustomerName: "Ada", CustomerEmail: "ada@example.com",
		Status: domain.BookingStatusConfirmed,
	}
	if err := CreateBooking(context.Background(), db, first); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := &domain.Booking{
		ID: "bk2", BusinessID: "b1", ServiceID: "s1",
		SlotKey: strPtr(key), BookingDate: at, DurationMin: 60,
		CustomerName: "Bob", CustomerEmail: "bob@example.com",
		Status: domain.BookingStatusConfirmed,
	}
	if err := CreateBooking(context.Background(), db, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on slot-key collision, got %v", err)
	}
}

func TestCancelBooking_ReleasesSlotKeyForRebooking(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	at := time.Date(2025, 6, 12, 12, 30, 0, 0, time.UTC)
	key := domain.SlotKeyFor("b1", "s1", nil, at)

	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		SlotKey: strPtr(key), BookingDate: at, DurationMin: 60,
	})

	if err := CancelBooking(context.Background(), db, "b1", "bk1", time.Now().UTC()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var got domain.Booking
	if err := db.First(&got, "id = ?", "bk1").Error; err != nil {
		t.Fatalf("load cancelled booking: %v", err)
	}
	if got.Status != domain.BookingStatusCancelled || got.CancelledAt == nil {
		t.Fatalf("booking not marked cancelled: %+v", got)
	}
	if got.SlotKey != nil {
		t.Fatalf("slot key should be released on cancellation, got %q", *got.SlotKey)
	}

	// The same instant is bookable again.
	rebook := &domain.Booking{
		ID: "bk2", BusinessID: "b1", ServiceID: "s1",
		SlotKey: strPtr(key), BookingDate: at, DurationMin: 60,
		CustomerName: "Bob", CustomerEmail: "bob@example.com",
		Status: domain.BookingStatusConfirmed,
	}
	if err := CreateBooking(context.Background(), db, rebook); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestCancelBooking_NotFoundCases(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		BookingDate: time.Now().UTC(), DurationMin: 30,
	})

	if err := CancelBooking(context.Background(), db, "b1", "missing", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: want ErrNotFound, got %v", err)
	}
	// Scoped to the owning business.
	if err := CancelBooking(context.Background(), db, "other-biz", "bk1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong business: want ErrNotFound, got %v", err)
	}
	// Second cancel is a no-op not-found.
	if err := CancelBooking(context.Background(), db, "b1", "bk1", time.Now().UTC()); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := CancelBooking(context.Background(), db, "b1", "bk1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double cancel: want ErrNotFound, got %v", err)
	}
}

func TestGetBookingByIdempotencyKey(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		IdempotencyKey: strPtr("req-abc"),
		BookingDate:    time.Now().UTC(), DurationMin: 30,
	})

	got, err := GetBookingByIdempotencyKey(context.Background(), db, "b1", "req-abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "bk1" {
		t.Fatalf("wrong booking: %+v", got)
	}

	if _, err := GetBookingByIdempotencyKey(context.Background(), db, "b1", "other-key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key: want ErrNotFound, got %v", err)
	}
	// Tenant scoping: the key belongs to b1 only.
	if _, err := GetBookingByIdempotencyKey(context.Background(), db, "b2", "req-abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other business: want ErrNotFound, got %v", err)
	}
	if _, err := GetBookingByIdempotencyKey(context.Background(), db, "b1", "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key: want ErrNotFound, got %v", err)
	}
}

func TestListBookedInstants_FiltersCancelledAndStaff(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	day := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)

	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		BookingDate: day.Add(10 * time.Hour), DurationMin: 60,
	})
	seedBooking(t, db, domain.Booking{
		ID: "bk2", BusinessID: "b1", ServiceID: "s1", StaffID: strPtr("st1"),
		BookingDate: day.Add(11 * time.Hour), DurationMin: 60,
	})
	seedBooking(t, db, domain.Booking{
		ID: "bk3", BusinessID: "b1", ServiceID: "s1", StaffID: strPtr("st2"),
		BookingDate: day.Add(12 * time.Hour), DurationMin: 60,
	})
	seedBooking(t, db, domain.Booking{
		ID: "bk4", BusinessID: "b1", ServiceID: "s1",
		BookingDate: day.Add(13 * time.Hour), DurationMin: 60,
		Status:      domain.BookingStatusCancelled,
	})

	// No staff filter: every non-cancelled booking counts.
	all, err := ListBookedInstants(context.Background(), db, "b1", "s1", nil, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 instants, got %d", len(all))
	}

	// Staff filter: st1's own booking plus "any staff" bookings block st1.
	st1, err := ListBookedInstants(context.Background(), db, "b1", "s1", strPtr("st1"), day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list st1: %v", err)
	}
	if len(st1) != 2 {
		t.Fatalf("expected 2 instants for st1 (own + unassigned), got %d", len(st1))
	}
}

func TestHasConflictingBooking_ToleranceWindow(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	at := time.Date(2025, 6, 12, 12, 0, 0, 0, time.UTC)

	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		BookingDate: at, DurationMin: 60,
	})

	tol := 60 * time.Second
	if taken, err := HasConflictingBooking(context.Background(), db, "b1", "s1", nil, at.Add(30*time.Second), tol); err != nil || !taken {
		t.Fatalf("30s away should conflict (taken=%v, err=%v)", taken, err)
	}
	if taken, err := HasConflictingBooking(context.Background(), db, "b1", "s1", nil, at.Add(2*time.Minute), tol); err != nil || taken {
		t.Fatalf("2m away should not conflict (taken=%v, err=%v)", taken, err)
	}
}

func TestCountBookingsSince_ExcludesCancelled(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	monthStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		BookingDate: monthStart.Add(24 * time.Hour), DurationMin: 30,
		CreatedAt:   monthStart.Add(time.Hour),
	})
	seedBooking(t, db, domain.Booking{
		ID: "bk2", BusinessID: "b1", ServiceID: "s1",
		BookingDate: monthStart.Add(48 * time.Hour), DurationMin: 30,
		CreatedAt:   monthStart.Add(2 * time.Hour),
		Status:      domain.BookingStatusCancelled,
	})
	seedBooking(t, db, domain.Booking{
		ID: "bk3", BusinessID: "b1", ServiceID: "s1",
		BookingDate: monthStart.Add(-24 * time.Hour), DurationMin: 30,
		CreatedAt:   monthStart.Add(-time.Hour), // previous month
	})

	n, err := CountBookingsSince(context.Background(), db, "b1", monthStart)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 countable booking, got %d", n)
	}
}

func TestMarkEmailSent_FlipsOnlyMatchingFlag(t *testing.T) {
	db := newRepoDB(t, &domain.Booking{})
	seedBooking(t, db, domain.Booking{
		ID: "bk1", BusinessID: "b1", ServiceID: "s1",
		BookingDate: time.Now().UTC(), DurationMin: 30,
	})

	if err := MarkEmailSent(context.Background(), db, "b1", "bk1", domain.NotificationTypeReminder); err != nil {
		t.Fatalf("mark reminder: %v", err)
	}
	var got domain.Booking
	if err := db.First(&got, "id = ?", "bk1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.ReminderSent || got.ConfirmationSent || got.ReviewSent {
		t.Fatalf("unexpected flags: %+v", got)
	}

	// Unknown kinds are a no-op.
	if err := MarkEmailSent(context.Background(), db, "b1", "bk1", "custom"); err != nil {
		t.Fatalf("unknown kind should be a no-op: %v", err)
	}
}
