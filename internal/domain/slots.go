package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidGranularity = errors.New("slot granularity must be 15, 30, 60 or 120 minutes")
	ErrNoOperatingHours   = errors.New("no operating hours for weekday")
)

var allowedGranularities = map[int]struct{}{15: {}, 30: {}, 60: {}, 120: {}}

func ValidGranularity(minutes int) bool {
	_, ok := allowedGranularities[minutes]
	return ok
}

type Slot struct {
	Start     time.Time
	End       time.Time
	Duration  time.Duration
	Available bool
}

// GenerateSlots lays out back-to-back slots from opening to closing time on date.
// A closing remainder shorter than one slot is dropped. A slot is unavailable when
// any active booking overlaps it.
func GenerateSlots(hours OperatingHours, date Date, loc *time.Location, granularityMinutes int, active []Booking) ([]Slot, error) {
	if !ValidGranularity(granularityMinutes) {
		return nil, ErrInvalidGranularity
	}
	day, ok := hours[date.Weekday()]
	if !ok {
		return nil, ErrNoOperatingHours
	}
	window, open := day.Window(date, loc)
	if !open {
		return []Slot{}, nil
	}

	step := time.Duration(granularityMinutes) * time.Minute
	out := make([]Slot, 0, int(window.Duration()/step))
	for start := window.Start; !start.Add(step).After(window.End); start = start.Add(step) {
		iv := TimeInterval{Start: start, End: start.Add(step)}
		out = append(out, Slot{
			Start:     iv.Start,
			End:       iv.End,
			Duration:  step,
			Available: len(DetectConflicts(active, iv, uuid.Nil)) == 0,
		})
	}
	return out, nil
}
