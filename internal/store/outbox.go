package store

import (
	"context"

	"spacebook/backend/internal/domain"
)

// OutboxRepository hands out batches of unpublished events. Events are marked
// published only when fn returns nil; a failed batch is retried on the next claim.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.OutboxEvent) error) error
}
