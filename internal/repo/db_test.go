package repo

import (
	"path/filepath"
	"testing"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

func TestOpenSQLite_CreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booking.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"businesses", "services", "staff", "bookings", "notification_queue"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %s missing after migration", table)
		}
	}
	// The slot-key unique index is the double-booking enforcement point.
	if !db.Migrator().HasIndex(&domain.Booking{}, "ux_bookings_slot") {
		t.Errorf("ux_bookings_slot index missing")
	}
	if !db.Migrator().HasIndex(&domain.Booking{}, "ux_bookings_idem") {
		t.Errorf("ux_bookings_idem index missing")
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "no-such-dir", "x.db")); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestOpenSQLite_PoolConfigured(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if got := sqlDB.Stats().MaxOpenConnections; got != 10 {
		t.Errorf("MaxOpenConnections = %d; want 10", got)
	}
}
