package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/service/availability"
	"spacebook/backend/internal/service/bookings"
	"spacebook/backend/internal/service/svcerr"
)

type availabilityService interface {
	GetAvailability(ctx context.Context, q availability.Query) (availability.Result, error)
}

type bookingService interface {
	Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	Modify(ctx context.Context, in bookings.ModifyInput) (domain.Booking, error)
	Cancel(ctx context.Context, in bookings.CancelInput) (domain.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID, requesterID string) (domain.Booking, error)
}

type BookingServer struct {
	availability availabilityService
	bookings     bookingService
	loc          *time.Location
	log          *slog.Logger
}

var _ BookingServiceServer = (*BookingServer)(nil)

func NewBookingServer(avail availabilityService, svc bookingService, loc *time.Location, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BookingServer{
		availability: avail,
		bookings:     svc,
		loc:          loc,
		log:          log.With(slog.String("component", "grpc.bookings")),
	}
}

func (s *BookingServer) GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error) {
	log := s.rpcLogger(ctx, "GetAvailability")

	if req == nil {
		return nil, s.fail(ctx, log, svcerr.Validation("request is required"))
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("resource_id", req.ResourceID))
	}

	q := availability.Query{
		ResourceID:         req.ResourceID,
		Date:               date,
		MinDuration:        time.Duration(req.MinDurationMinutes) * time.Minute,
		GranularityMinutes: req.SlotGranularityMinutes,
	}
	if req.StartTime != "" || req.EndTime != "" {
		start, end, err := s.parseRange(date, req.StartTime, req.EndTime)
		if err != nil {
			return nil, s.fail(ctx, log, err, slog.String("resource_id", req.ResourceID))
		}
		q.Interval = &domain.TimeInterval{Start: start, End: end}
	}

	res, err := s.availability.GetAvailability(ctx, q)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("resource_id", req.ResourceID), slog.String("date", req.Date))
	}

	log.Debug(
		"availability computed",
		slog.String("resource_id", req.ResourceID),
		slog.String("date", date.String()),
		slog.Bool("available", res.Available),
		slog.Int("free_blocks", len(res.FreeBlocks)),
	)

	return &GetAvailabilityResponse{
		Available:        res.Available,
		Slots:            toWireSlots(res.Slots),
		FreeBlocks:       toWireBlocks(res.FreeBlocks),
		ConsecutiveSlots: toWireBlocks(res.ConsecutiveSlots),
		Conflicts:        toWireConflicts(res.Conflicts),
	}, nil
}

func (s *BookingServer) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*BookingResponse, error) {
	log := s.rpcLogger(ctx, "CreateBooking")

	if req == nil {
		return nil, s.fail(ctx, log, svcerr.Validation("request is required"))
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("requester_id", req.RequesterID))
	}
	start, end, err := s.parseRange(date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("requester_id", req.RequesterID))
	}

	b, err := s.bookings.Create(ctx, bookings.CreateInput{
		ResourceID:     req.ResourceID,
		RequesterID:    req.RequesterID,
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.fail(ctx, log, err,
			slog.String("resource_id", req.ResourceID),
			slog.String("requester_id", req.RequesterID),
			slog.Time("start_time", start),
			slog.Time("end_time", end),
		)
	}

	log.Info(
		"booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("resource_id", b.ResourceID),
		slog.String("requester_id", b.UserID),
		slog.Time("start_time", b.StartTime),
		slog.Time("end_time", b.EndTime),
	)
	return &BookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) ModifyBooking(ctx context.Context, req *ModifyBookingRequest) (*BookingResponse, error) {
	log := s.rpcLogger(ctx, "ModifyBooking")

	if req == nil {
		return nil, s.fail(ctx, log, svcerr.Validation("request is required"))
	}
	id, err := parseBookingID(req.BookingID)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("requester_id", req.RequesterID))
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("booking_id", id.String()))
	}
	start, end, err := s.parseRange(date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("booking_id", id.String()))
	}

	b, err := s.bookings.Modify(ctx, bookings.ModifyInput{
		BookingID:   id,
		RequesterID: req.RequesterID,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
	})
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("booking_id", id.String()), slog.String("requester_id", req.RequesterID))
	}

	log.Info("booking modified", slog.String("booking_id", b.ID.String()), slog.Int64("total_price", b.TotalPrice))
	return &BookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*BookingResponse, error) {
	log := s.rpcLogger(ctx, "CancelBooking")

	if req == nil {
		return nil, s.fail(ctx, log, svcerr.Validation("request is required"))
	}
	id, err := parseBookingID(req.BookingID)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("requester_id", req.RequesterID))
	}

	b, err := s.bookings.Cancel(ctx, bookings.CancelInput{BookingID: id, RequesterID: req.RequesterID})
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("booking_id", id.String()), slog.String("requester_id", req.RequesterID))
	}

	log.Info("booking cancelled", slog.String("booking_id", b.ID.String()))
	return &BookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) GetBooking(ctx context.Context, req *GetBookingRequest) (*BookingResponse, error) {
	log := s.rpcLogger(ctx, "GetBooking")

	if req == nil {
		return nil, s.fail(ctx, log, svcerr.Validation("request is required"))
	}
	id, err := parseBookingID(req.BookingID)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("requester_id", req.RequesterID))
	}

	b, err := s.bookings.Get(ctx, id, req.RequesterID)
	if err != nil {
		return nil, s.fail(ctx, log, err, slog.String("booking_id", id.String()))
	}
	return &BookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) rpcLogger(ctx context.Context, rpc string) *slog.Logger {
	log := s.log.With(slog.String("rpc", rpc))
	if id := RequestIDFromContext(ctx); id != "" {
		log = log.With(slog.String("request_id", id))
	}
	return log
}

// fail logs err at a level matching its kind and converts it to a gRPC status.
func (s *BookingServer) fail(ctx context.Context, log *slog.Logger, err error, attrs ...any) error {
	kind := svcerr.KindOf(err)
	attrs = append(attrs, slog.String("kind", string(kind)))
	switch {
	case kind == svcerr.KindInternal:
		log.ErrorContext(ctx, "request failed", append(attrs, slog.Any("err", err))...)
	case kind.IsValidation():
		log.WarnContext(ctx, "invalid request", append(attrs, slog.String("reason", svcerr.Message(err)))...)
	default:
		log.InfoContext(ctx, "request rejected", append(attrs, slog.String("reason", svcerr.Message(err)))...)
	}
	return statusFromError(err)
}

func (s *BookingServer) parseRange(date domain.Date, rawStart, rawEnd string) (time.Time, time.Time, error) {
	if strings.TrimSpace(rawStart) == "" || strings.TrimSpace(rawEnd) == "" {
		return time.Time{}, time.Time{}, svcerr.Validation("start_time and end_time are required")
	}
	start, ok := parseWireTime(rawStart, date, s.loc)
	if !ok {
		return time.Time{}, time.Time{}, svcerr.Validation("start_time must be HH:MM or RFC 3339")
	}
	end, ok := parseWireTime(rawEnd, date, s.loc)
	if !ok {
		return time.Time{}, time.Time{}, svcerr.Validation("end_time must be HH:MM or RFC 3339")
	}
	return start, end, nil
}

func parseDate(raw string) (domain.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.Date{}, svcerr.Validation("date is required")
	}
	d, err := domain.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return domain.Date{}, svcerr.Validation("date must be YYYY-MM-DD")
	}
	return d, nil
}

func parseBookingID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, svcerr.Validation("booking_id must be a UUID")
	}
	return id, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
