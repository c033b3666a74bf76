package conflicts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"spacebook/backend/internal/domain"
)

type fakeReader struct {
	findActiveFn func(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error)
}

func (f *fakeReader) FindActiveBookings(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
	if f.findActiveFn == nil {
		panic("FindActiveBookings not configured")
	}
	return f.findActiveFn(ctx, resourceID, window)
}

func TestDetectorCheck_QueriesProposedWindowAndExcludesSelf(t *testing.T) {
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	self := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	other := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	var gotResource string
	var gotWindow domain.TimeInterval
	reader := &fakeReader{
		findActiveFn: func(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
			gotResource = resourceID
			gotWindow = window
			return []domain.Booking{
				{ID: self, StartTime: start, EndTime: start.Add(time.Hour), Status: domain.BookingStatusConfirmed},
				{ID: other, StartTime: start.Add(30 * time.Minute), EndTime: start.Add(2 * time.Hour), Status: domain.BookingStatusPending},
			}, nil
		},
	}

	proposed := domain.TimeInterval{Start: start, End: start.Add(time.Hour)}
	got, err := NewDetector().Check(context.Background(), reader, Query{
		ResourceID:       "room-1",
		Interval:         proposed,
		ExcludeBookingID: self,
	})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if gotResource != "room-1" || gotWindow != proposed {
		t.Fatalf("queried %s %v, want room-1 %v", gotResource, gotWindow, proposed)
	}
	if len(got) != 1 || got[0].BookingID != other {
		t.Fatalf("conflicts = %v, want only %s", got, other)
	}
}

func TestDetectorCheck_PropagatesReaderError(t *testing.T) {
	boom := errors.New("boom")
	reader := &fakeReader{
		findActiveFn: func(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
			return nil, boom
		},
	}
	_, err := NewDetector().Check(context.Background(), reader, Query{ResourceID: "r"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
