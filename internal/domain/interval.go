package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidInterval = errors.New("interval end must be after start")

// TimeInterval is the half-open range [Start, End).
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if !end.After(start) {
		return TimeInterval{}, ErrInvalidInterval
	}
	return TimeInterval{Start: start, End: end}, nil
}

func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether the two half-open intervals share any instant.
// Touching intervals (one ends exactly where the other starts) do not overlap.
func (i TimeInterval) Overlaps(o TimeInterval) bool {
	return o.Start.Before(i.End) && o.End.After(i.Start)
}

// Contains reports whether o lies entirely inside i.
func (i TimeInterval) Contains(o TimeInterval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

type ConflictReason string

const ConflictReasonOverlap ConflictReason = "overlaps_active_booking"

type Conflict struct {
	BookingID uuid.UUID
	Interval  TimeInterval
	Reason    ConflictReason
}

// DetectConflicts returns every active booking overlapping proposed, skipping exclude.
// It is the only overlap predicate in the engine: slot generation, availability checks,
// creation and modification all go through it.
func DetectConflicts(bookings []Booking, proposed TimeInterval, exclude uuid.UUID) []Conflict {
	var out []Conflict
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		if exclude != uuid.Nil && b.ID == exclude {
			continue
		}
		if b.Interval().Overlaps(proposed) {
			out = append(out, Conflict{
				BookingID: b.ID,
				Interval:  b.Interval(),
				Reason:    ConflictReasonOverlap,
			})
		}
	}
	return out
}
