package conflicts

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/store"
)

var tracer = otel.Tracer("spacebook/backend/internal/service/conflicts")

type Query struct {
	ResourceID       string
	Interval         domain.TimeInterval
	ExcludeBookingID uuid.UUID
}

// Detector is the one place proposed intervals are checked against stored bookings.
// Availability reads pass the repository; writers pass their open transaction so the
// check and the write see the same locked state.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

func (d *Detector) Check(ctx context.Context, reader store.BookingReader, q Query) ([]domain.Conflict, error) {
	ctx, span := tracer.Start(ctx, "conflicts.Check", trace.WithAttributes(
		attribute.String("resource.id", q.ResourceID),
	))
	defer span.End()

	active, err := reader.FindActiveBookings(ctx, q.ResourceID, q.Interval)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := domain.DetectConflicts(active, q.Interval, q.ExcludeBookingID)
	span.SetAttributes(attribute.Int("conflicts", len(out)))
	return out, nil
}
