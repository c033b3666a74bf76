package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/service/conflicts"
	"spacebook/backend/internal/service/svcerr"
	"spacebook/backend/internal/store"
)

var tracer = otel.Tracer("spacebook/backend/internal/service/availability")

const DefaultGranularityMinutes = 60

// Cache stores computed results per resource and date. Implementations must treat
// every failure as a miss.
type Cache interface {
	Get(ctx context.Context, resourceID string, date domain.Date, variant string, dst any) bool
	Set(ctx context.Context, resourceID string, date domain.Date, variant string, v any)
}

type noCache struct{}

func (noCache) Get(context.Context, string, domain.Date, string, any) bool { return false }
func (noCache) Set(context.Context, string, domain.Date, string, any)      {}

type Config struct {
	Location                  *time.Location
	DefaultGranularityMinutes int
}

type Service struct {
	resources store.ResourceRepository
	bookings  store.BookingReader
	detector  *conflicts.Detector
	cache     Cache

	loc                *time.Location
	defaultGranularity int
}

func NewService(resources store.ResourceRepository, bookings store.BookingReader, detector *conflicts.Detector, cache Cache, cfg Config) *Service {
	if cache == nil {
		cache = noCache{}
	}
	if detector == nil {
		detector = conflicts.NewDetector()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	granularity := cfg.DefaultGranularityMinutes
	if granularity == 0 {
		granularity = DefaultGranularityMinutes
	}
	return &Service{
		resources:          resources,
		bookings:           bookings,
		detector:           detector,
		cache:              cache,
		loc:                loc,
		defaultGranularity: granularity,
	}
}

// Query asks for the availability of one resource on one date. Interval, when set,
// is checked directly against stored bookings and the opening hours.
type Query struct {
	ResourceID         string
	Date               domain.Date
	Interval           *domain.TimeInterval
	MinDuration        time.Duration
	GranularityMinutes int
}

func (q Query) variant() string {
	v := fmt.Sprintf("g%d:m%d", q.GranularityMinutes, int64(q.MinDuration/time.Minute))
	if q.Interval != nil {
		v += fmt.Sprintf(":i%d-%d", q.Interval.Start.Unix(), q.Interval.End.Unix())
	}
	return v
}

type Result struct {
	Available        bool
	Slots            []domain.Slot
	FreeBlocks       []domain.FreeBlock
	ConsecutiveSlots []domain.FreeBlock
	Conflicts        []domain.Conflict
}

// GetAvailability is a read-only snapshot; it takes no locks and may be stale by the
// time a booking is attempted.
func (s *Service) GetAvailability(ctx context.Context, q Query) (Result, error) {
	if q.GranularityMinutes == 0 {
		q.GranularityMinutes = s.defaultGranularity
	}
	if err := s.validate(q); err != nil {
		return Result{}, err
	}

	ctx, span := tracer.Start(ctx, "availability.GetAvailability", trace.WithAttributes(
		attribute.String("resource.id", q.ResourceID),
		attribute.String("date", q.Date.String()),
		attribute.Int("granularity_minutes", q.GranularityMinutes),
	))
	defer span.End()

	var cached Result
	if s.cache.Get(ctx, q.ResourceID, q.Date, q.variant(), &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	res, err := s.compute(ctx, q)
	if err != nil {
		if svcerr.KindOf(err) == svcerr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "availability failed")
		}
		return Result{}, err
	}

	s.cache.Set(ctx, q.ResourceID, q.Date, q.variant(), res)
	return res, nil
}

// FindConsecutiveFreeSlots returns every free block of at least minDuration, unsliced.
func (s *Service) FindConsecutiveFreeSlots(ctx context.Context, resourceID string, date domain.Date, minDuration time.Duration) ([]domain.FreeBlock, error) {
	if minDuration <= 0 {
		return nil, svcerr.Validation("min_duration must be positive")
	}
	res, err := s.GetAvailability(ctx, Query{
		ResourceID:  resourceID,
		Date:        date,
		MinDuration: minDuration,
	})
	if err != nil {
		return nil, err
	}
	return res.ConsecutiveSlots, nil
}

func (s *Service) validate(q Query) error {
	if q.ResourceID == "" {
		return svcerr.Validation("resource_id is required")
	}
	if q.Date.IsZero() {
		return svcerr.Validation("date is required")
	}
	if !domain.ValidGranularity(q.GranularityMinutes) {
		return svcerr.Validation(domain.ErrInvalidGranularity.Error())
	}
	if q.MinDuration < 0 {
		return svcerr.Validation("min_duration must not be negative")
	}
	if q.Interval != nil && !q.Interval.End.After(q.Interval.Start) {
		return svcerr.InvalidRange("end_time must be after start_time")
	}
	return nil
}

func (s *Service) compute(ctx context.Context, q Query) (Result, error) {
	hours, err := s.resources.GetOperatingHours(ctx, q.ResourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, svcerr.NotFound("resource not found")
		}
		return Result{}, svcerr.Internal(err)
	}

	day := q.Date.Window(s.loc)
	active, err := s.bookings.FindActiveBookings(ctx, q.ResourceID, day)
	if err != nil {
		return Result{}, svcerr.Internal(err)
	}

	slots, err := domain.GenerateSlots(hours, q.Date, s.loc, q.GranularityMinutes, active)
	if err != nil {
		if errors.Is(err, domain.ErrNoOperatingHours) {
			return Result{}, svcerr.Validation(fmt.Sprintf("resource has no operating hours on %s", q.Date.Weekday()))
		}
		return Result{}, svcerr.Validation(err.Error())
	}

	blocks := domain.MergeFreeBlocks(slots)
	res := Result{
		Slots:            slots,
		FreeBlocks:       blocks,
		ConsecutiveSlots: []domain.FreeBlock{},
		Conflicts:        []domain.Conflict{},
	}
	if q.MinDuration > 0 {
		res.ConsecutiveSlots = domain.FilterBlocks(blocks, q.MinDuration)
	}

	switch {
	case q.Interval != nil:
		found, err := s.detector.Check(ctx, s.bookings, conflicts.Query{
			ResourceID: q.ResourceID,
			Interval:   *q.Interval,
		})
		if err != nil {
			return Result{}, svcerr.Internal(err)
		}
		res.Conflicts = append(res.Conflicts, found...)
		open, ok := hours[q.Date.Weekday()].Window(q.Date, s.loc)
		res.Available = ok && open.Contains(*q.Interval) && len(found) == 0
	case q.MinDuration > 0:
		res.Available = len(res.ConsecutiveSlots) > 0
	default:
		res.Available = len(blocks) > 0
	}
	return res, nil
}
