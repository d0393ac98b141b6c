package usage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subradar/subradar-backend/pkg/db/models"
)

// Repository exposes persistence helpers for usage records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBySubscription(ctx context.Context, subscriptionID uuid.UUID, forUpdate bool) (*models.UsageRecord, error)
	Create(ctx context.Context, rec *models.UsageRecord) error
	SaveSignals(ctx context.Context, rec *models.UsageRecord) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]RecordWithSubscription, error)
	FindOwned(ctx context.Context, userID, usageID uuid.UUID) (*models.UsageRecord, error)
	Delete(ctx context.Context, usageID uuid.UUID) error
	SubscriptionOwned(ctx context.Context, userID, subscriptionID uuid.UUID) (bool, error)
}

// RecordWithSubscription pairs a usage record with the subscription it belongs to.
type RecordWithSubscription struct {
	models.UsageRecord
	Subscription models.Subscription `json:"subscription"`
}

type repositoryImpl struct {
	db       *gorm.DB
	rowLocks bool
}

// NewRepository returns a usage repository bound to the provided database. rowLocks
// enables SELECT ... FOR UPDATE, which only Postgres supports.
func NewRepository(db *gorm.DB, rowLocks bool) Repository {
	return &repositoryImpl{db: db, rowLocks: rowLocks}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx, rowLocks: r.rowLocks}
}

func (r *repositoryImpl) FindBySubscription(ctx context.Context, subscriptionID uuid.UUID, forUpdate bool) (*models.UsageRecord, error) {
	query := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID)
	if forUpdate && r.rowLocks {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec models.UsageRecord
	if err := query.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repositoryImpl) Create(ctx context.Context, rec *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repositoryImpl) SaveSignals(ctx context.Context, rec *models.UsageRecord) error {
	return r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"last_email_date": rec.LastEmailDate,
			"last_api_use":    rec.LastAPIUse,
			"last_login":      rec.LastLogin,
		}).Error
}

func (r *repositoryImpl) ListForUser(ctx context.Context, userID uuid.UUID) ([]RecordWithSubscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return []RecordWithSubscription{}, nil
	}

	ids := make([]uuid.UUID, 0, len(subs))
	byID := make(map[uuid.UUID]models.Subscription, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
		byID[sub.ID] = sub
	}

	var recs []models.UsageRecord
	if err := r.db.WithContext(ctx).Where("subscription_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	recBySub := make(map[uuid.UUID]models.UsageRecord, len(recs))
	for _, rec := range recs {
		recBySub[rec.SubscriptionID] = rec
	}

	out := make([]RecordWithSubscription, 0, len(recs))
	for _, sub := range subs {
		rec, ok := recBySub[sub.ID]
		if !ok {
			continue
		}
		out = append(out, RecordWithSubscription{UsageRecord: rec, Subscription: byID[sub.ID]})
	}
	return out, nil
}

func (r *repositoryImpl) FindOwned(ctx context.Context, userID, usageID uuid.UUID) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Joins("JOIN subscriptions ON subscriptions.id = usage_records.subscription_id").
		Where("usage_records.id = ? AND subscriptions.user_id = ?", usageID, userID).
		Select("usage_records.*").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repositoryImpl) Delete(ctx context.Context, usageID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", usageID).Delete(&models.UsageRecord{}).Error
}

func (r *repositoryImpl) SubscriptionOwned(ctx context.Context, userID, subscriptionID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND user_id = ?", subscriptionID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
