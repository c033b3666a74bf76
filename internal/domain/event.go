package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	EventBookingCreated   = "booking.created.v1"
	EventBookingModified  = "booking.modified.v1"
	EventBookingCancelled = "booking.cancelled.v1"
)

const AggregateBooking = "booking"

type OutboxEvent struct {
	bun.BaseModel `bun:"table:outbox_events"`

	ID            int64           `bun:"id,pk,autoincrement"`
	EventID       uuid.UUID       `bun:"event_id,type:uuid,notnull"`
	AggregateType string          `bun:"aggregate_type,notnull"`
	AggregateID   string          `bun:"aggregate_id,notnull"`
	EventType     string          `bun:"event_type,notnull"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	Traceparent   string          `bun:"traceparent,notnull"`
	Tracestate    string          `bun:"tracestate,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	PublishedAt   *time.Time      `bun:"published_at"`
}

// BookingEvent is the payload of every booking.* event.
type BookingEvent struct {
	BookingID    uuid.UUID     `json:"booking_id"`
	ResourceID   string        `json:"resource_id"`
	UserID       string        `json:"user_id"`
	Date         Date          `json:"date"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Status       BookingStatus `json:"status"`
	DurationType DurationType  `json:"duration_type"`
	TotalPrice   int64         `json:"total_price"`
	PriceChanged bool          `json:"price_changed,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// NewBookingEvent snapshots b into an outbox row. Trace context is filled in by the store.
func NewBookingEvent(eventType string, b Booking, priceChanged bool, occurredAt time.Time) (OutboxEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return OutboxEvent{}, err
	}
	payload, err := json.Marshal(BookingEvent{
		BookingID:    b.ID,
		ResourceID:   b.ResourceID,
		UserID:       b.UserID,
		Date:         b.Date,
		StartTime:    b.StartTime.UTC(),
		EndTime:      b.EndTime.UTC(),
		Status:       b.Status,
		DurationType: b.DurationType,
		TotalPrice:   b.TotalPrice,
		PriceChanged: priceChanged,
		OccurredAt:   occurredAt.UTC(),
	})
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		EventID:       id,
		AggregateType: AggregateBooking,
		AggregateID:   b.ID.String(),
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
