package grpc

import (
	"strings"
	"time"

	"spacebook/backend/internal/domain"
)

// Times on the wire are either "HH:MM" wall clock on the request date in the service
// time zone, or RFC 3339 instants for bookings that run past midnight.

type GetAvailabilityRequest struct {
	ResourceID             string `json:"resource_id"`
	Date                   string `json:"date"`
	StartTime              string `json:"start_time,omitempty"`
	EndTime                string `json:"end_time,omitempty"`
	MinDurationMinutes     int    `json:"min_duration_minutes,omitempty"`
	SlotGranularityMinutes int    `json:"slot_granularity_minutes,omitempty"`
}

type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Available bool      `json:"available"`
}

type FreeBlock struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int64     `json:"duration_minutes"`
}

type Conflict struct {
	BookingID string    `json:"booking_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
}

type GetAvailabilityResponse struct {
	Available        bool        `json:"available"`
	Slots            []Slot      `json:"slots"`
	FreeBlocks       []FreeBlock `json:"free_blocks"`
	ConsecutiveSlots []FreeBlock `json:"consecutive_slots"`
	Conflicts        []Conflict  `json:"conflicts"`
}

type CreateBookingRequest struct {
	ResourceID  string `json:"resource_id"`
	RequesterID string `json:"requester_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type ModifyBookingRequest struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type CancelBookingRequest struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
}

type GetBookingRequest struct {
	BookingID   string `json:"booking_id"`
	RequesterID string `json:"requester_id"`
}

type Booking struct {
	ID           string     `json:"id"`
	ResourceID   string     `json:"resource_id"`
	UserID       string     `json:"user_id"`
	Date         string     `json:"date"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	Status       string     `json:"status"`
	DurationType string     `json:"duration_type"`
	TotalPrice   int64      `json:"total_price"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type BookingResponse struct {
	Booking *Booking `json:"booking"`
}

func toWireBooking(b domain.Booking) *Booking {
	out := &Booking{
		ID:           b.ID.String(),
		ResourceID:   b.ResourceID,
		UserID:       b.UserID,
		Date:         b.Date.String(),
		StartTime:    b.StartTime.UTC(),
		EndTime:      b.EndTime.UTC(),
		Status:       string(b.Status),
		DurationType: string(b.DurationType),
		TotalPrice:   b.TotalPrice,
		CreatedAt:    b.CreatedAt.UTC(),
		UpdatedAt:    b.UpdatedAt.UTC(),
	}
	if b.CancelledAt != nil {
		t := b.CancelledAt.UTC()
		out.CancelledAt = &t
	}
	return out
}

func toWireSlots(in []domain.Slot) []Slot {
	out := make([]Slot, 0, len(in))
	for _, s := range in {
		out = append(out, Slot{StartTime: s.Start, EndTime: s.End, Available: s.Available})
	}
	return out
}

func toWireBlocks(in []domain.FreeBlock) []FreeBlock {
	out := make([]FreeBlock, 0, len(in))
	for _, b := range in {
		out = append(out, FreeBlock{StartTime: b.Start, EndTime: b.End, DurationMinutes: int64(b.Duration / time.Minute)})
	}
	return out
}

func toWireConflicts(in []domain.Conflict) []Conflict {
	out := make([]Conflict, 0, len(in))
	for _, c := range in {
		out = append(out, Conflict{
			BookingID: c.BookingID.String(),
			StartTime: c.Interval.Start.UTC(),
			EndTime:   c.Interval.End.UTC(),
			Reason:    string(c.Reason),
		})
	}
	return out
}

// parseWireTime reads a request time. Wall clock values are placed on date in loc.
func parseWireTime(raw string, date domain.Date, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if c, err := domain.ParseClockTime(raw); err == nil {
		return date.At(c, loc), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
