package store

import (
	"context"

	"spacebook/backend/internal/domain"
)

type ResourceRepository interface {
	GetResource(ctx context.Context, resourceID string) (domain.Resource, error)
	GetOperatingHours(ctx context.Context, resourceID string) (domain.OperatingHours, error)
}
