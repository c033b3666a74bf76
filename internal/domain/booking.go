package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Active bookings occupy their time window and take part in conflict checks.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type DurationType string

const (
	DurationTypeHour DurationType = "hour"
	DurationTypeDay  DurationType = "day"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID           uuid.UUID     `bun:"id,pk,type:uuid"`
	ResourceID   string        `bun:"resource_id,notnull"`
	UserID       string        `bun:"user_id,notnull"`
	Date         Date          `bun:"booking_date,type:date,notnull"`
	StartTime    time.Time     `bun:"start_time,notnull"`
	EndTime      time.Time     `bun:"end_time,notnull"`
	Status       BookingStatus `bun:"status,notnull"`
	DurationType DurationType  `bun:"duration_type,notnull"`
	TotalPrice   int64         `bun:"total_price,notnull"`
	CancelledAt  *time.Time    `bun:"cancelled_at"`
	CreatedAt    time.Time     `bun:"created_at,notnull"`
	UpdatedAt    time.Time     `bun:"updated_at,notnull"`
}

func (b Booking) Interval() TimeInterval {
	return TimeInterval{Start: b.StartTime, End: b.EndTime}
}

func (b Booking) DurationHours() float64 {
	return b.EndTime.Sub(b.StartTime).Hours()
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}
