package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/service/conflicts"
	"spacebook/backend/internal/service/svcerr"
	"spacebook/backend/internal/store"
)

var tracer = otel.Tracer("spacebook/backend/internal/service/bookings")

const DefaultMaxDuration = 30 * 24 * time.Hour

// Invalidator drops cached availability for the given resource dates.
type Invalidator interface {
	Invalidate(ctx context.Context, resourceID string, dates ...domain.Date)
}

type noInvalidator struct{}

func (noInvalidator) Invalidate(context.Context, string, ...domain.Date) {}

type Config struct {
	Location    *time.Location
	MaxDuration time.Duration
	Now         func() time.Time
}

type Service struct {
	resources   store.ResourceRepository
	bookings    store.BookingRepository
	detector    *conflicts.Detector
	invalidator Invalidator
	log         *slog.Logger

	loc         *time.Location
	maxDuration time.Duration
	now         func() time.Time
}

func NewService(resources store.ResourceRepository, bookings store.BookingRepository, detector *conflicts.Detector, invalidator Invalidator, log *slog.Logger, cfg Config) *Service {
	if detector == nil {
		detector = conflicts.NewDetector()
	}
	if invalidator == nil {
		invalidator = noInvalidator{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		resources:   resources,
		bookings:    bookings,
		detector:    detector,
		invalidator: invalidator,
		log:         log.With("component", "service.bookings"),
		loc:         cfg.Location,
		maxDuration: cfg.MaxDuration,
		now:         cfg.Now,
	}
}

type CreateInput struct {
	ResourceID     string
	RequesterID    string
	Date           domain.Date
	StartTime      time.Time
	EndTime        time.Time
	IdempotencyKey string
}

// Create books [StartTime, EndTime) on a resource. The conflict check and the insert
// share one resource-locked transaction, so two overlapping requests cannot both commit.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Create", trace.WithAttributes(
		attribute.String("resource.id", in.ResourceID),
	))
	defer span.End()

	if in.ResourceID == "" {
		return domain.Booking{}, svcerr.Validation("resource_id is required")
	}
	if in.RequesterID == "" {
		return domain.Booking{}, svcerr.Validation("requester_id is required")
	}
	if in.Date.IsZero() {
		return domain.Booking{}, svcerr.Validation("date is required")
	}

	now := s.now()
	if in.Date.Before(s.today(now)) {
		return domain.Booking{}, svcerr.InvalidDate("date must not be in the past")
	}
	interval, err := s.checkRange(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Booking{}, err
	}
	if interval.Start.Before(now) {
		return domain.Booking{}, svcerr.InvalidDate("start_time must not be in the past")
	}

	resource, err := s.resources.GetResource(ctx, in.ResourceID)
	if err != nil {
		return domain.Booking{}, s.storeError(ctx, span, "get resource", err, "resource not found")
	}
	if err := s.checkOperatingHours(ctx, in.ResourceID, in.Date, interval); err != nil {
		return domain.Booking{}, s.storeError(ctx, span, "get operating hours", err, "resource not found")
	}

	hours := interval.Duration().Hours()
	price, durationType := domain.ComputePrice(hours, resource.RateSchedule)

	booking := domain.Booking{
		ResourceID:   in.ResourceID,
		UserID:       in.RequesterID,
		Date:         in.Date,
		StartTime:    interval.Start.UTC(),
		EndTime:      interval.End.UTC(),
		Status:       domain.BookingStatusConfirmed,
		DurationType: durationType,
		TotalPrice:   price,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Booking{}, svcerr.Validation("idempotency_key too long")
		}
		booking.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("spacebook:create_booking:"+in.RequesterID+":"+key))
	}

	var (
		out      domain.Booking
		replayed bool
	)
	err = s.bookings.InResourceTransaction(ctx, in.ResourceID, func(ctx context.Context, tx store.BookingTx) error {
		if booking.ID != uuid.Nil {
			existing, err := tx.GetBookingForUpdate(ctx, booking.ID)
			switch {
			case err == nil:
				if !sameBooking(existing, booking) {
					return store.ErrIdempotencyConflict
				}
				if !existing.Status.Active() {
					return svcerr.Conflict(fmt.Sprintf("idempotency key refers to a booking that is now %s", existing.Status))
				}
				out, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		found, err := s.detector.Check(ctx, tx, conflicts.Query{
			ResourceID: in.ResourceID,
			Interval:   interval,
		})
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return &conflictError{conflicts: found}
		}

		created, err := tx.CreateBooking(ctx, booking)
		if err != nil {
			return err
		}
		evt, err := domain.NewBookingEvent(domain.EventBookingCreated, created, false, now)
		if err != nil {
			return err
		}
		if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Booking{}, s.txError(ctx, span, "create booking", err)
	}

	span.SetAttributes(attribute.String("booking.id", out.ID.String()), attribute.Bool("replayed", replayed))
	if !replayed {
		s.invalidator.Invalidate(ctx, out.ResourceID, s.datesSpanned(out)...)
		s.log.InfoContext(ctx, "booking created", "booking_id", out.ID, "resource_id", out.ResourceID, "duration_type", out.DurationType, "total_price", out.TotalPrice)
	}
	return out, nil
}

type ModifyInput struct {
	BookingID   uuid.UUID
	RequesterID string
	Date        domain.Date
	StartTime   time.Time
	EndTime     time.Time
}

// Modify moves a confirmed future booking to a new interval. Gates run in a fixed
// order and the first failure aborts without writing anything.
func (s *Service) Modify(ctx context.Context, in ModifyInput) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Modify", trace.WithAttributes(
		attribute.String("booking.id", in.BookingID.String()),
	))
	defer span.End()

	if in.BookingID == uuid.Nil {
		return domain.Booking{}, svcerr.Validation("booking_id is required")
	}
	if in.RequesterID == "" {
		return domain.Booking{}, svcerr.Validation("requester_id is required")
	}

	current, err := s.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		return domain.Booking{}, s.storeError(ctx, span, "get booking", err, "booking not found")
	}

	now := s.now()
	today := s.today(now)

	var (
		before       domain.Booking
		out          domain.Booking
		priceChanged bool
	)
	err = s.bookings.InResourceTransaction(ctx, current.ResourceID, func(ctx context.Context, tx store.BookingTx) error {
		b, err := tx.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}
		before = b

		if b.UserID != in.RequesterID {
			return svcerr.Forbidden("booking belongs to another user")
		}
		if b.Status != domain.BookingStatusConfirmed {
			return svcerr.State(fmt.Sprintf("only confirmed bookings can be modified, booking is %s", b.Status))
		}
		if !b.Date.After(today) {
			return svcerr.State("bookings can only be modified before their date")
		}
		if in.Date.IsZero() {
			return svcerr.Validation("date is required")
		}
		if !in.Date.After(today) {
			return svcerr.InvalidDate("new date must be after today")
		}
		interval, err := s.checkRange(in.Date, in.StartTime, in.EndTime)
		if err != nil {
			return err
		}
		if err := s.checkOperatingHours(ctx, b.ResourceID, in.Date, interval); err != nil {
			return resourceError(err)
		}

		found, err := s.detector.Check(ctx, tx, conflicts.Query{
			ResourceID:       b.ResourceID,
			Interval:         interval,
			ExcludeBookingID: b.ID,
		})
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return &conflictError{conflicts: found}
		}

		resource, err := s.resources.GetResource(ctx, b.ResourceID)
		if err != nil {
			return resourceError(err)
		}
		oldHours := b.DurationHours()
		newHours := interval.Duration().Hours()
		b.DurationType = domain.DurationTypeFor(newHours, resource.RateSchedule)
		if domain.ShouldRecomputePrice(oldHours, newHours) {
			b.TotalPrice, _ = domain.ComputePrice(newHours, resource.RateSchedule)
			priceChanged = b.TotalPrice != before.TotalPrice
		}

		b.Date = in.Date
		b.StartTime = interval.Start.UTC()
		b.EndTime = interval.End.UTC()

		updated, err := tx.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		evt, err := domain.NewBookingEvent(domain.EventBookingModified, updated, priceChanged, now)
		if err != nil {
			return err
		}
		if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Booking{}, s.txError(ctx, span, "modify booking", err)
	}

	s.invalidator.Invalidate(ctx, out.ResourceID, append(s.datesSpanned(before), s.datesSpanned(out)...)...)
	s.log.InfoContext(ctx, "booking modified", "booking_id", out.ID, "resource_id", out.ResourceID, "price_changed", priceChanged, "total_price", out.TotalPrice)
	return out, nil
}

type CancelInput struct {
	BookingID   uuid.UUID
	RequesterID string
}

// Cancel moves an active booking to cancelled. The row is kept for history.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Cancel", trace.WithAttributes(
		attribute.String("booking.id", in.BookingID.String()),
	))
	defer span.End()

	if in.BookingID == uuid.Nil {
		return domain.Booking{}, svcerr.Validation("booking_id is required")
	}
	if in.RequesterID == "" {
		return domain.Booking{}, svcerr.Validation("requester_id is required")
	}

	current, err := s.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		return domain.Booking{}, s.storeError(ctx, span, "get booking", err, "booking not found")
	}

	now := s.now()
	var out domain.Booking
	err = s.bookings.InResourceTransaction(ctx, current.ResourceID, func(ctx context.Context, tx store.BookingTx) error {
		b, err := tx.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if b.UserID != in.RequesterID {
			return svcerr.Forbidden("booking belongs to another user")
		}
		if !b.Status.Active() {
			return svcerr.State(fmt.Sprintf("booking is already %s", b.Status))
		}

		cancelledAt := now.UTC()
		b.Status = domain.BookingStatusCancelled
		b.CancelledAt = &cancelledAt

		updated, err := tx.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		evt, err := domain.NewBookingEvent(domain.EventBookingCancelled, updated, false, now)
		if err != nil {
			return err
		}
		if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Booking{}, s.txError(ctx, span, "cancel booking", err)
	}

	s.invalidator.Invalidate(ctx, out.ResourceID, s.datesSpanned(out)...)
	s.log.InfoContext(ctx, "booking cancelled", "booking_id", out.ID, "resource_id", out.ResourceID)
	return out, nil
}

func (s *Service) Get(ctx context.Context, bookingID uuid.UUID, requesterID string) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, svcerr.Validation("booking_id is required")
	}
	if requesterID == "" {
		return domain.Booking{}, svcerr.Validation("requester_id is required")
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, s.storeError(ctx, trace.SpanFromContext(ctx), "get booking", err, "booking not found")
	}
	if b.UserID != requesterID {
		return domain.Booking{}, svcerr.Forbidden("booking belongs to another user")
	}
	return b, nil
}

func (s *Service) today(now time.Time) domain.Date {
	return domain.DateOf(now.In(s.loc))
}

// checkRange validates the requested interval against its calendar date.
func (s *Service) checkRange(date domain.Date, start, end time.Time) (domain.TimeInterval, error) {
	if start.IsZero() || end.IsZero() {
		return domain.TimeInterval{}, svcerr.Validation("start_time and end_time are required")
	}
	if !end.After(start) {
		return domain.TimeInterval{}, svcerr.InvalidRange("end_time must be after start_time")
	}
	if domain.DateOf(start.In(s.loc)) != date {
		return domain.TimeInterval{}, svcerr.InvalidRange("start_time must fall on date")
	}
	if end.Sub(start) > s.maxDuration {
		return domain.TimeInterval{}, svcerr.InvalidRange("duration too long")
	}
	return domain.TimeInterval{Start: start, End: end}, nil
}

// checkOperatingHours requires same-day bookings to sit inside the opening window.
// Bookings running past midnight are day rentals and are not bound by the hours.
func (s *Service) checkOperatingHours(ctx context.Context, resourceID string, date domain.Date, iv domain.TimeInterval) error {
	if iv.End.After(date.AddDays(1).Midnight(s.loc)) {
		return nil
	}
	hours, err := s.resources.GetOperatingHours(ctx, resourceID)
	if err != nil {
		return err
	}
	day, ok := hours[date.Weekday()]
	if !ok {
		return svcerr.Validation(fmt.Sprintf("resource has no operating hours on %s", date.Weekday()))
	}
	window, open := day.Window(date, s.loc)
	if !open {
		return svcerr.InvalidDate(fmt.Sprintf("resource is closed on %s", date))
	}
	if !window.Contains(iv) {
		return svcerr.InvalidRange(fmt.Sprintf("booking must be within opening hours %s-%s", day.Open, day.Close))
	}
	return nil
}

// datesSpanned lists every local date touched by b.
func (s *Service) datesSpanned(b domain.Booking) []domain.Date {
	first := domain.DateOf(b.StartTime.In(s.loc))
	last := domain.DateOf(b.EndTime.Add(-time.Nanosecond).In(s.loc))
	out := []domain.Date{first}
	for d := first.AddDays(1); !d.After(last); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func sameBooking(a, b domain.Booking) bool {
	return a.ResourceID == b.ResourceID &&
		a.UserID == b.UserID &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime)
}

// resourceError keeps a missing resource from surfacing as a missing booking.
func resourceError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return svcerr.Wrap(svcerr.KindNotFound, "resource not found", err)
	}
	return err
}

type conflictError struct {
	conflicts []domain.Conflict
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("interval overlaps %d active booking(s)", len(e.conflicts))
}

// txError turns an error escaping a resource transaction into a service error.
func (s *Service) txError(ctx context.Context, span trace.Span, op string, err error) error {
	var cErr *conflictError
	if errors.As(err, &cErr) {
		s.log.InfoContext(ctx, "booking conflict", "op", op, "conflicting_booking_id", cErr.conflicts[0].BookingID, "conflicts", len(cErr.conflicts))
		return svcerr.Wrap(svcerr.KindConflict, "requested interval conflicts with an existing booking", err)
	}
	var sErr *svcerr.Error
	if errors.As(err, &sErr) {
		if sErr.Kind.IsValidation() {
			s.log.WarnContext(ctx, "booking rejected", "op", op, "kind", sErr.Kind, "reason", sErr.Msg)
		}
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		s.log.InfoContext(ctx, "booking conflict", "op", op, "source", "constraint")
		return svcerr.Wrap(svcerr.KindConflict, "requested interval conflicts with an existing booking", err)
	}
	if errors.Is(err, store.ErrIdempotencyConflict) {
		return svcerr.Wrap(svcerr.KindConflict, "idempotency key was already used for a different booking", err)
	}
	return s.storeError(ctx, span, op, err, "booking not found")
}

func (s *Service) storeError(ctx context.Context, span trace.Span, op string, err error, notFoundMsg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return svcerr.Wrap(svcerr.KindNotFound, notFoundMsg, err)
	}
	var sErr *svcerr.Error
	if errors.As(err, &sErr) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	s.log.ErrorContext(ctx, "storage failure", "op", op, "err", err)
	return svcerr.Internal(err)
}
