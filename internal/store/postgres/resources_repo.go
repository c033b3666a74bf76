package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"spacebook/backend/internal/domain"
	"spacebook/backend/internal/store"
)

type ResourceRepo struct {
	db *bun.DB
}

func NewResourceRepo(db *bun.DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

func (r *ResourceRepo) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	var res domain.Resource
	err := r.db.NewSelect().
		Model(&res).
		Where("id = ?", resourceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, store.ErrNotFound
		}
		return domain.Resource{}, err
	}
	return res, nil
}

// GetOperatingHours returns the weekly schedule of a resource. Weekdays without a row
// are absent from the map. An unknown resource yields ErrNotFound.
func (r *ResourceRepo) GetOperatingHours(ctx context.Context, resourceID string) (domain.OperatingHours, error) {
	exists, err := r.db.NewSelect().
		Model((*domain.Resource)(nil)).
		Where("id = ?", resourceID).
		Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	var rows []domain.DayHours
	err = r.db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		OrderExpr("weekday ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewOperatingHours(rows...), nil
}
