package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/store"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	databaseURL := strings.TrimSpace(os.Getenv("SPACEBOOK_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("SPACEBOOK_TEST_DATABASE_URL not set")
	}
	return databaseURL
}

func seedResource(ctx context.Context, db bun.IDB, id string) error {
	res := domain.Resource{
		ID:        id,
		Name:      "Room " + id,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		RateSchedule: domain.RateSchedule{
			PricePerHour:      1000,
			PricePerDay:       6000,
			DayThresholdHours: 24,
		},
	}
	if _, err := db.NewInsert().Model(&res).Exec(ctx); err != nil {
		return err
	}
	hours := []domain.DayHours{
		{ResourceID: id, Weekday: time.Monday, Open: 9 * 60, Close: 18 * 60},
		{ResourceID: id, Weekday: time.Sunday, Closed: true},
	}
	_, err := db.NewInsert().Model(&hours).Exec(ctx)
	return err
}

func TestPostgresIntegration_BookingCreateOverlapUpdateAndIdempotency(t *testing.T) {
	databaseURL := testDatabaseURL(t)

	db, err := Open(context.Background(), databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "spacebook_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}
		if err := seedResource(ctx, tx, "room-a"); err != nil {
			return err
		}

		b := bookingTx{tx: tx}

		start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
		end := start.Add(2 * time.Hour)

		b1, err := b.CreateBooking(ctx, domain.Booking{
			ID:           uuid.MustParse("00000000-0000-0000-0000-000000000901"),
			ResourceID:   "room-a",
			UserID:       "u1",
			Date:         domain.DateOf(start),
			StartTime:    start,
			EndTime:      end,
			Status:       domain.BookingStatusConfirmed,
			DurationType: domain.DurationTypeHour,
			TotalPrice:   2000,
		})
		if err != nil {
			return err
		}

		rows, err := b.FindActiveBookings(ctx, "room-a", domain.TimeInterval{Start: start.Add(-time.Minute), End: end.Add(time.Minute)})
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != b1.ID {
			return fmt.Errorf("active rows = %v, want [%s]", rows, b1.ID)
		}
		if rows[0].Date != domain.DateOf(start) {
			return fmt.Errorf("booking_date = %s, want %s", rows[0].Date, domain.DateOf(start))
		}

		// Touching interval is allowed.
		b2, err := b.CreateBooking(ctx, domain.Booking{
			ID:           uuid.MustParse("00000000-0000-0000-0000-000000000903"),
			ResourceID:   "room-a",
			UserID:       "u2",
			Date:         domain.DateOf(end),
			StartTime:    end,
			EndTime:      end.Add(time.Hour),
			Status:       domain.BookingStatusConfirmed,
			DurationType: domain.DurationTypeHour,
			TotalPrice:   1000,
		})
		if err != nil {
			return err
		}

		// Replay with identical content returns the stored row.
		replayed, err := b.CreateBooking(ctx, domain.Booking{
			ID:           b1.ID,
			ResourceID:   "room-a",
			UserID:       "u1",
			Date:         domain.DateOf(start),
			StartTime:    start,
			EndTime:      end,
			Status:       domain.BookingStatusConfirmed,
			DurationType: domain.DurationTypeHour,
			TotalPrice:   2000,
		})
		if err != nil {
			return err
		}
		if replayed.ID != b1.ID || replayed.TotalPrice != 2000 {
			return fmt.Errorf("replayed = %+v", replayed)
		}

		_, err = b.CreateBooking(ctx, domain.Booking{
			ID:         b1.ID,
			ResourceID: "room-a",
			UserID:     "someone-else",
			Date:       domain.DateOf(start),
			StartTime:  start,
			EndTime:    end,
			Status:     domain.BookingStatusConfirmed,
		})
		if err != store.ErrIdempotencyConflict {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		locked, err := b.GetBookingForUpdate(ctx, b2.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.BookingStatusCancelled
		cancelledAt := time.Now().UTC()
		locked.CancelledAt = &cancelledAt
		if _, err := b.UpdateBooking(ctx, locked); err != nil {
			return err
		}

		rows, err = b.FindActiveBookings(ctx, "room-a", domain.TimeInterval{Start: end, End: end.Add(time.Hour)})
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			return fmt.Errorf("cancelled booking still active: %v", rows)
		}

		if _, err := b.GetBookingForUpdate(ctx, uuid.MustParse("00000000-0000-0000-0000-000000000999")); err != store.ErrNotFound {
			return fmt.Errorf("missing booking err = %v, want %v", err, store.ErrNotFound)
		}

		evt, err := domain.NewBookingEvent(domain.EventBookingCreated, b1, false, time.Now())
		if err != nil {
			return err
		}
		if err := b.InsertOutboxEvent(ctx, evt); err != nil {
			return err
		}
		var stored domain.OutboxEvent
		if err := tx.NewSelect().Model(&stored).Where("event_id = ?", evt.EventID).Scan(ctx); err != nil {
			return err
		}
		if stored.AggregateID != b1.ID.String() || stored.EventType != domain.EventBookingCreated || stored.PublishedAt != nil {
			return fmt.Errorf("stored event = %+v", stored)
		}

		if _, err := tx.NewRaw("SAVEPOINT overlap").Exec(ctx); err != nil {
			return err
		}
		_, err = b.CreateBooking(ctx, domain.Booking{
			ID:           uuid.MustParse("00000000-0000-0000-0000-000000000902"),
			ResourceID:   "room-a",
			UserID:       "u3",
			Date:         domain.DateOf(start),
			StartTime:    start.Add(30 * time.Minute),
			EndTime:      end.Add(30 * time.Minute),
			Status:       domain.BookingStatusPending,
			DurationType: domain.DurationTypeHour,
			TotalPrice:   2000,
		})
		if err != store.ErrConflict {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}
		_, err = tx.NewRaw("ROLLBACK TO SAVEPOINT overlap").Exec(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func TestPostgresIntegration_ConcurrentCreateAdmitsOneBooking(t *testing.T) {
	databaseURL := testDatabaseURL(t)

	admin, err := Open(context.Background(), databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(admin)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	schema := "spacebook_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}
		return seedResource(ctx, tx, "room-b")
	})
	if err != nil {
		t.Fatalf("setup error: %v", err)
	}

	db, err := Open(context.Background(), withSearchPath(t, databaseURL, schema), PoolConfig{MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	repo := NewBookingRepo(db)
	start := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.InResourceTransaction(ctx, "room-b", func(ctx context.Context, tx store.BookingTx) error {
				_, err := tx.CreateBooking(ctx, domain.Booking{
					ResourceID:   "room-b",
					UserID:       fmt.Sprintf("u%d", i),
					Date:         domain.DateOf(start),
					StartTime:    start,
					EndTime:      end,
					Status:       domain.BookingStatusConfirmed,
					DurationType: domain.DurationTypeHour,
					TotalPrice:   1000,
				})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if conflicts != workers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, workers-1)
	}

	rows, err := repo.FindActiveBookings(ctx, "room-b", domain.TimeInterval{Start: start, End: end})
	if err != nil {
		t.Fatalf("FindActiveBookings error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}

	hours, err := NewResourceRepo(db).GetOperatingHours(ctx, "room-b")
	if err != nil {
		t.Fatalf("GetOperatingHours error: %v", err)
	}
	if got := hours[time.Monday]; got.Open != 9*60 || got.Close != 18*60 {
		t.Fatalf("monday hours = %+v", got)
	}
	if !hours[time.Sunday].Closed {
		t.Fatalf("sunday should be closed")
	}
	if _, err := NewResourceRepo(db).GetOperatingHours(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("missing resource err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestPostgresIntegration_OutboxClaimMarksPublishedOnSuccessOnly(t *testing.T) {
	databaseURL := testDatabaseURL(t)

	admin, err := Open(context.Background(), databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(admin)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := "spacebook_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		return applyMigrations(ctx, tx)
	})
	if err != nil {
		t.Fatalf("setup error: %v", err)
	}

	db, err := Open(context.Background(), withSearchPath(t, databaseURL, schema), PoolConfig{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	for i := 0; i < 3; i++ {
		evt, err := domain.NewBookingEvent(domain.EventBookingCreated, domain.Booking{ID: uuid.New(), ResourceID: "r"}, false, time.Now())
		if err != nil {
			t.Fatalf("NewBookingEvent error: %v", err)
		}
		err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return bookingTx{tx: tx}.InsertOutboxEvent(ctx, evt)
		})
		if err != nil {
			t.Fatalf("InsertOutboxEvent error: %v", err)
		}
	}

	repo := NewOutboxRepo(db)
	boom := errors.New("broker down")
	err = repo.ClaimUnpublished(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		if len(events) != 3 {
			t.Errorf("first claim len = %d, want 3", len(events))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("claim err = %v, want %v", err, boom)
	}

	var claimed []int64
	err = repo.ClaimUnpublished(ctx, 2, func(ctx context.Context, events []domain.OutboxEvent) error {
		for _, e := range events {
			claimed = append(claimed, e.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(claimed) != 2 || claimed[0] >= claimed[1] {
		t.Fatalf("claimed = %v, want two ascending ids", claimed)
	}

	remaining, err := db.NewSelect().Model((*domain.OutboxEvent)(nil)).Where("published_at IS NULL").Count(ctx)
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
}

// withSearchPath pins every pooled connection to schema. pgx forwards unknown
// connection parameters to the server as runtime settings.
func withSearchPath(t *testing.T, databaseURL, schema string) string {
	t.Helper()
	if !strings.Contains(databaseURL, "://") {
		return databaseURL + " search_path=" + schema + ",public"
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		t.Fatalf("parse database url: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	return u.String()
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		stmts := splitSQLStatements(upSQL)
		for _, stmt := range stmts {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
