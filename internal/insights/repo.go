package insights

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	"github.com/subradar/subradar-backend/pkg/pagination"
)

// Repository exposes persistence helpers for insights.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, insight *models.Insight) error
	List(ctx context.Context, params listInsightsParams) ([]models.Insight, *pagination.Cursor, error)
	ExistsSince(ctx context.Context, key dedupeKey, since time.Time) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an insights repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listInsightsParams struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Type           *enums.InsightType
	Limit          int
	Cursor         *pagination.Cursor
}

type dedupeKey struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Type           enums.InsightType
	Message        string
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, insight *models.Insight) error {
	return r.db.WithContext(ctx).Create(insight).Error
}

func (r *repositoryImpl) List(ctx context.Context, params listInsightsParams) ([]models.Insight, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Insight{}).Where("user_id = ?", params.UserID)
	if params.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *params.SubscriptionID)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Insight
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.FetchSize(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(rows, params.Limit, func(in models.Insight) pagination.Cursor {
		return pagination.Cursor{CreatedAt: in.CreatedAt, ID: in.ID}
	})
	return page, next, nil
}

func (r *repositoryImpl) ExistsSince(ctx context.Context, key dedupeKey, since time.Time) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Insight{}).
		Where("user_id = ? AND type = ? AND message = ? AND created_at >= ?", key.UserID, key.Type, key.Message, since)
	if key.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *key.SubscriptionID)
	} else {
		query = query.Where("subscription_id IS NULL")
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
