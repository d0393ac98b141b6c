package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	"github.com/subradar/subradar-backend/pkg/pagination"
)

// Repository exposes persistence helpers for subscriptions and the rows hanging off them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context, params listSubscriptionsParams) ([]models.Subscription, *pagination.Cursor, error)
	ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, ids ...uuid.UUID) error
	RepointInsights(ctx context.Context, from []uuid.UUID, to uuid.UUID) error
	UsageFor(ctx context.Context, ids ...uuid.UUID) ([]models.UsageRecord, error)
	SaveUsage(ctx context.Context, rec *models.UsageRecord) error
	InsightsFor(ctx context.Context, id uuid.UUID) ([]models.Insight, error)
}

type listSubscriptionsParams struct {
	UserID uuid.UUID
	Status *enums.SubscriptionStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a subscriptions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repositoryImpl) FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listSubscriptionsParams) ([]models.Subscription, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var subs []models.Subscription
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.FetchSize(params.Limit)).Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(subs, params.Limit, subscriptionCursor)
	return page, next, nil
}

func subscriptionCursor(sub models.Subscription) pagination.Cursor {
	return pagination.Cursor{CreatedAt: sub.CreatedAt, ID: sub.ID}
}

func (r *repositoryImpl) ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *repositoryImpl) Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(fields).Error
}

// Delete hard-deletes subscriptions along with their usage records and detaches their insights.
func (r *repositoryImpl) Delete(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Where("subscription_id IN ?", ids).Delete(&models.UsageRecord{}).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Insight{}).Where("subscription_id IN ?", ids).Update("subscription_id", nil).Error; err != nil {
		return err
	}
	return db.Where("id IN ?", ids).Delete(&models.Subscription{}).Error
}

func (r *repositoryImpl) RepointInsights(ctx context.Context, from []uuid.UUID, to uuid.UUID) error {
	if len(from) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Insight{}).
		Where("subscription_id IN ?", from).
		Update("subscription_id", to).Error
}

func (r *repositoryImpl) UsageFor(ctx context.Context, ids ...uuid.UUID) ([]models.UsageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []models.UsageRecord
	err := r.db.WithContext(ctx).Where("subscription_id IN ?", ids).Find(&recs).Error
	return recs, err
}

func (r *repositoryImpl) SaveUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		return r.db.WithContext(ctx).Create(rec).Error
	}
	return r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"last_email_date": rec.LastEmailDate,
			"last_api_use":    rec.LastAPIUse,
			"last_login":      rec.LastLogin,
		}).Error
}

func (r *repositoryImpl) InsightsFor(ctx context.Context, id uuid.UUID) ([]models.Insight, error) {
	var insights []models.Insight
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", id).
		Order("created_at DESC, id DESC").
		Find(&insights).Error
	return insights, err
}
