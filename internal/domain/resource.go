package domain

import (
	"time"

	"github.com/uptrace/bun"
)

const DefaultDayThresholdHours = 24.0

// RateSchedule prices are in minor currency units (cents).
type RateSchedule struct {
	PricePerHour      int64   `bun:"price_per_hour,notnull"`
	PricePerDay       int64   `bun:"price_per_day,notnull"`
	DayThresholdHours float64 `bun:"day_threshold_hours,notnull"`
}

func (r RateSchedule) threshold() float64 {
	if r.DayThresholdHours <= 0 {
		return DefaultDayThresholdHours
	}
	return r.DayThresholdHours
}

type Resource struct {
	bun.BaseModel `bun:"table:resources"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	RateSchedule
}

// DayHours is the operating window of a resource on one weekday.
type DayHours struct {
	bun.BaseModel `bun:"table:resource_hours"`

	ResourceID string       `bun:"resource_id,pk"`
	Weekday    time.Weekday `bun:"weekday,pk"`
	Open       ClockTime    `bun:"open_minute,notnull"`
	Close      ClockTime    `bun:"close_minute,notnull"`
	Closed     bool         `bun:"closed,notnull"`
}

// Window returns the open interval on date in loc. ok is false on closed days
// and on malformed rows where close does not come after open.
func (h DayHours) Window(date Date, loc *time.Location) (TimeInterval, bool) {
	if h.Closed || h.Close <= h.Open {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: date.At(h.Open, loc), End: date.At(h.Close, loc)}, true
}

type OperatingHours map[time.Weekday]DayHours

func NewOperatingHours(days ...DayHours) OperatingHours {
	out := make(OperatingHours, len(days))
	for _, d := range days {
		out[d.Weekday] = d
	}
	return out
}
