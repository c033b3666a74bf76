package store

import (
	"context"

	"github.com/google/uuid"

	"spacebook/backend/internal/domain"
)

// BookingReader is satisfied by both the repository and an open resource transaction,
// so conflict checks run against whichever view the caller holds.
type BookingReader interface {
	FindActiveBookings(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error)
}

type BookingRepository interface {
	BookingReader

	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	InResourceTransaction(ctx context.Context, resourceID string, fn func(ctx context.Context, tx BookingTx) error) error
}

// BookingTx runs with the resource lock held. All writes commit or roll back together.
type BookingTx interface {
	BookingReader

	GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	UpdateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	InsertOutboxEvent(ctx context.Context, evt domain.OutboxEvent) error
}
