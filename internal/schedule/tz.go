// Package schedule implements the clock arithmetic of the booking core: all
// conversions between a business's local civil time and absolute UTC
// instants, plus the pure slot enumeration used by the availability engine.
//
// Storing booking instants in UTC while accepting and displaying local
// wall-clock time is the only correct approach for per-business timezones;
// this package is the single place where the conversion happens, with
// explicit DST-safety checks at the boundary.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Wire formats for local civil time at the API boundary.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// InvalidTimeError reports a local civil time that cannot be mapped to an
// instant: either it is syntactically malformed, or it falls into a
// spring-forward DST gap and never occurs on the given date in the given zone.
type InvalidTimeError struct {
	Date     string
	Clock    string
	Timezone string
	Reason   string
}

// Error implements the error interface.
func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("invalid local time %s %s in %s: %s", e.Date, e.Clock, e.Timezone, e.Reason)
}

// ToUTC interprets the (date, clock) pair as local civil time in the given
// IANA timezone and returns the corresponding UTC instant.
//
// It fails with *InvalidTimeError when the wall time does not exist in that
// zone (spring-forward gap): Go normalizes nonexistent times forward, so the
// round trip through the location is compared against the requested clock.
func ToUTC(date, clock, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}

	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, &InvalidTimeError{Date: date, Clock: clock, Timezone: timezone, Reason: "malformed date"}
	}
	c, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, &InvalidTimeError{Date: date, Clock: clock, Timezone: timezone, Reason: "malformed time"}
	}

	local := time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc)
	if local.Hour() != c.Hour() || local.Minute() != c.Minute() || local.Day() != d.Day() {
		return time.Time{}, &InvalidTimeError{
			Date: date, Clock: clock, Timezone: timezone,
			Reason: "time does not exist (DST transition)",
		}
	}
	return local.UTC(), nil
}

// LocalTime is the display decomposition of an instant in a business's zone.
type LocalTime struct {
	Date      string `json:"date"`
	Clock     string `json:"time"`
	Weekday   string `json:"weekday"`
	Formatted string `json:"formatted"`
}

// FromUTC converts an instant to the business's local civil time for display
// purposes only. Booking validity decisions must go through
// ValidateBookingTime / ToUTC, never through this inverse.
func FromUTC(instant time.Time, timezone string) (LocalTime, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return LocalTime{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	local := instant.In(loc)
	return LocalTime{
		Date:      local.Format(DateLayout),
		Clock:     local.Format(ClockLayout),
		Weekday:   strings.ToLower(local.Weekday().String()),
		Formatted: local.Format("Monday, 2 January 2006 at 15:04"),
	}, nil
}

// ValidateBookingTime rejects local times that do not exist in the given
// zone. Times that are valid but fall within one hour of a UTC-offset change
// (the ambiguous fall-back window) are accepted with a warning log, since the
// customer's intent is still unambiguous enough to honor.
func ValidateBookingTime(date, clock, timezone string) error {
	instant, err := ToUTC(date, clock, timezone)
	if err != nil {
		return err
	}

	loc, _ := time.LoadLocation(timezone)
	_, before := instant.Add(-time.Hour).In(loc).Zone()
	_, after := instant.Add(time.Hour).In(loc).Zone()
	if before != after {
		log.Warn().
			Str("date", date).
			Str("time", clock).
			Str("timezone", timezone).
			Msg("requested booking time is within one hour of a UTC offset change")
	}
	return nil
}

// IsInPast reports whether the requested local time is not after "now" as
// experienced in the business's timezone. The caller supplies now (true
// current time); comparing against server-local wall clock would be wrong
// whenever the server and the business sit in different zones.
func IsInPast(date, clock, timezone string, now time.Time) (bool, error) {
	instant, err := ToUTC(date, clock, timezone)
	if err != nil {
		return false, err
	}
	return !instant.After(now), nil
}

// DayRangeUTC returns the local midnight-to-midnight window of the given date
// as UTC instants. The range is recomputed per call because a DST transition
// can stretch or shrink the day to 25 or 23 hours.
func DayRangeUTC(date, timezone string) (startUTC, endUTC time.Time, err error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidTimeError{Date: date, Timezone: timezone, Reason: "malformed date"}
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC(), nil
}
