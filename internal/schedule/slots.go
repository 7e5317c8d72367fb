package schedule

import "time"

// ConflictTolerance is the window within which an existing booking instant
// excludes a candidate slot. It absorbs sub-second storage precision and
// clock skew between writers; it is not meant to allow near-duplicates.
const ConflictTolerance = 60 * time.Second

// Slot is a candidate appointment start offered to customers.
type Slot struct {
	// Time is the absolute start instant (UTC).
	Time time.Time `json:"time"`
	// Display is the start rendered in the business's local clock ("HH:MM").
	Display string `json:"display"`
	// Available is kept for API compatibility; enumeration only emits
	// bookable slots, so it is always true today.
	Available bool `json:"available"`
}

// Enumerate produces the ordered, finite list of bookable start instants
// between openUTC (inclusive) and closeUTC (exclusive), stepping at the given
// size (service duration plus booking buffer).
//
// A candidate is dropped when an existing booking instant lies within
// ConflictTolerance of it, or when it is not strictly in the future relative
// to now (true current time, not business-local wall clock: "exactly now"
// must always be excluded). A trailing window shorter than one full step
// yields no slot; truncated appointments are never offered.
func Enumerate(openUTC, closeUTC time.Time, step time.Duration, booked []time.Time, now time.Time, loc *time.Location) []Slot {
	slots := []Slot{}
	if step <= 0 || !closeUTC.After(openUTC) {
		return slots
	}

	for cur := openUTC; !cur.Add(step).After(closeUTC); cur = cur.Add(step) {
		if !cur.After(now) {
			continue
		}
		if conflicts(cur, booked) {
			continue
		}
		slots = append(slots, Slot{
			Time:      cur,
			Display:   cur.In(loc).Format(ClockLayout),
			Available: true,
		})
	}
	return slots
}

// conflicts reports whether any existing booking instant lies within
// ConflictTolerance of the candidate.
func conflicts(candidate time.Time, booked []time.Time) bool {
	for _, b := range booked {
		d := candidate.Sub(b)
		if d < 0 {
			d = -d
		}
		if d <= ConflictTolerance {
			return true
		}
	}
	return false
}
