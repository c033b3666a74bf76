package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/store"
	"spacebook/backend/internal/telemetry"
)

const bookingsNoOverlapConstraint = "bookings_no_overlap"

var activeStatuses = []domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusConfirmed}

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) FindActiveBookings(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
	return findActiveBookings(ctx, r.db, resourceID, window)
}

func (r *BookingRepo) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

// InResourceTransaction serializes writers per resource with a transaction-scoped
// advisory lock. The exclusion constraint backs it up for writers that bypass the lock.
func (r *BookingRepo) InResourceTransaction(ctx context.Context, resourceID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockResource(ctx, tx, resourceID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockResource(ctx context.Context, tx bun.Tx, resourceID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", resourceID).Exec(ctx)
	return err
}

func findActiveBookings(ctx context.Context, db bun.IDB, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("status IN (?)", bun.In(activeStatuses)).
		Where("start_time < ?", window.End).
		Where("end_time > ?", window.Start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) FindActiveBookings(ctx context.Context, resourceID string, window domain.TimeInterval) ([]domain.Booking, error) {
	return findActiveBookings(ctx, r.tx, resourceID, window)
}

func (r bookingTx) GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.tx.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

// CreateBooking inserts b. Replaying an insert with a known id returns the stored row
// when it describes the same booking and ErrIdempotencyConflict otherwise.
func (r bookingTx) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, err
	}
	if affected > 0 {
		return m, nil
	}

	var existing domain.Booking
	err = r.tx.NewSelect().
		Model(&existing).
		Where("id = ?", m.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	if existing.ResourceID != b.ResourceID ||
		existing.UserID != b.UserID ||
		!existing.StartTime.Equal(b.StartTime) ||
		!existing.EndTime.Equal(b.EndTime) {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

// UpdateBooking writes the mutable columns of b in a single statement.
func (r bookingTx) UpdateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	res, err := r.tx.NewUpdate().
		Model(&m).
		Column("booking_date", "start_time", "end_time", "status", "duration_type", "total_price", "cancelled_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, err
	}
	if affected == 0 {
		return domain.Booking{}, store.ErrNotFound
	}
	return m, nil
}

func (r bookingTx) InsertOutboxEvent(ctx context.Context, evt domain.OutboxEvent) error {
	evt.Traceparent, evt.Tracestate = telemetry.TraceContextStrings(ctx)
	_, err := r.tx.NewInsert().
		Model(&evt).
		ExcludeColumn("id", "created_at", "published_at").
		Exec(ctx)
	return err
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23P01" && pgErr.ConstraintName == bookingsNoOverlapConstraint {
			return store.ErrConflict
		}
	}
	return err
}
