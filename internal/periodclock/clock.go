// Package periodclock maps wall-clock instants to deterministic period
// identifiers. It is pure: no I/O, no shared state, safe to call from any
// process at any time. Any two processes computing the period for the same
// instant get the same id, which is what lets N scheduler replicas agree on
// lifecycle transitions without leader election.
package periodclock

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// The betting day is anchored at 02:00 in this timezone, not midnight.
// Sequence numbers reset at the anchor.
const (
	anchorHour   = 2
	anchorZone   = "Asia/Kolkata"
	datePartLen  = 8 // YYYYMMDD
	seqPartLen   = 9 // zero-padded sequence
	periodIDLen  = datePartLen + seqPartLen
	dateLayout   = "20060102"
	istOffsetSec = 5*3600 + 30*60
)

var (
	locOnce sync.Once
	loc     *time.Location
)

// Location returns the anchor timezone, falling back to a fixed IST offset
// when the tz database is unavailable. IST has no DST, so the fallback is
// exact.
func Location() *time.Location {
	locOnce.Do(func() {
		l, err := time.LoadLocation(anchorZone)
		if err != nil {
			l = time.FixedZone("IST", istOffsetSec)
		}
		loc = l
	})
	return loc
}

// AnchorFor returns the most recent 02:00 anchor at or before instant.
// An instant before 02:00 local time belongs to the previous betting day.
func AnchorFor(instant time.Time) time.Time {
	t := instant.In(Location())
	anchor := time.Date(t.Year(), t.Month(), t.Day(), anchorHour, 0, 0, 0, Location())
	if t.Before(anchor) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return anchor
}

// PeriodID computes the period identifier covering instant for the room:
// the anchor date followed by the zero-padded sequence of full durations
// elapsed since the anchor.
func PeriodID(room models.Room, instant time.Time) string {
	anchor := AnchorFor(instant)
	seq := int64(instant.Sub(anchor) / room.Duration)
	return fmt.Sprintf("%s%0*d", anchor.Format(dateLayout), seqPartLen, seq)
}

// Sequence extracts the in-day sequence number from a period id.
func Sequence(periodID string) (int64, error) {
	if len(periodID) != periodIDLen {
		return 0, fmt.Errorf("malformed period id %q", periodID)
	}
	seq, err := strconv.ParseInt(periodID[datePartLen:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed period sequence in %q: %w", periodID, err)
	}
	return seq, nil
}

// AnchorDate extracts the betting-day date part (YYYYMMDD) from a period id.
func AnchorDate(periodID string) (string, error) {
	if len(periodID) != periodIDLen {
		return "", fmt.Errorf("malformed period id %q", periodID)
	}
	return periodID[:datePartLen], nil
}

// Bounds recovers the [start, end) window of a period id for rooms of the
// given duration. It is the inverse of PeriodID.
func Bounds(periodID string, duration time.Duration) (start, end time.Time, err error) {
	if len(periodID) != periodIDLen {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed period id %q", periodID)
	}
	day, err := time.ParseInLocation(dateLayout, periodID[:datePartLen], Location())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed period date in %q: %w", periodID, err)
	}
	seq, err := Sequence(periodID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	anchor := time.Date(day.Year(), day.Month(), day.Day(), anchorHour, 0, 0, 0, Location())
	start = anchor.Add(time.Duration(seq) * duration)
	return start, start.Add(duration), nil
}
