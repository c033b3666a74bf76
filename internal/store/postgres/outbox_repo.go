package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"spacebook/backend/internal/domain"
)

type OutboxRepo struct {
	db *bun.DB
}

func NewOutboxRepo(db *bun.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// ClaimUnpublished locks up to limit unpublished events, skipping rows held by other
// publishers, and marks them published once fn succeeds.
func (r *OutboxRepo) ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.OutboxEvent) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var events []domain.OutboxEvent
		err := tx.NewSelect().
			Model(&events).
			Where("published_at IS NULL").
			OrderExpr("id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		if err := fn(ctx, events); err != nil {
			return err
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		_, err = tx.NewUpdate().
			Model((*domain.OutboxEvent)(nil)).
			Set("published_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
}
