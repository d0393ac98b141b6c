package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

// Result is the outcome of one score computation.
type Result struct {
	SubscriptionID uuid.UUID                 `json:"subscription_id"`
	Score          float64                   `json:"score"`
	Classification enums.UsageClassification `json:"classification"`
}

// Engine computes and persists usage scores.
type Engine struct {
	db    *gorm.DB
	model Model
	logg  *logger.Logger
	now   func() time.Time
}

// EngineParams wires the engine.
type EngineParams struct {
	DB     *gorm.DB
	Model  Model
	Logger *logger.Logger
	Now    func() time.Time
}

// NewEngine builds a scoring engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "scoring database required")
	}
	model := params.Model
	if model.Curve == "" {
		model = DefaultModel
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{db: params.DB, model: model, logg: params.Logger, now: now}, nil
}

// ComputeScore recomputes the score for subscriptionID and persists it on the usage
// record, creating the record when the subscription has none yet.
func (e *Engine) ComputeScore(ctx context.Context, subscriptionID uuid.UUID) (Result, error) {
	return e.ComputeScoreTx(ctx, e.db, subscriptionID)
}

// ComputeScoreTx is ComputeScore bound to an open transaction.
func (e *Engine) ComputeScoreTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) (Result, error) {
	if subscriptionID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}

	var sub models.Subscription
	if err := tx.WithContext(ctx).Select("id").Where("id = ?", subscriptionID).Take(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, pkgerrors.NotFound("subscription")
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}

	var rec models.UsageRecord
	err := tx.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec = models.UsageRecord{SubscriptionID: subscriptionID}
	case err != nil:
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage record")
	}

	score := Score(&rec, e.now().UTC(), e.model)
	class := Classify(score)

	if rec.ID == uuid.Nil {
		rec.Score = score
		rec.Classification = class
		if err := tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create usage record")
		}
	} else if rec.Score != score || rec.Classification != class {
		if err := tx.WithContext(ctx).Model(&models.UsageRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]any{"score": score, "classification": class}).Error; err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist score")
		}
	}

	if e.logg != nil {
		logCtx := e.logg.WithSubscriptionID(ctx, subscriptionID.String())
		e.logg.Debug(e.logg.WithFields(logCtx, map[string]any{
			"score":          score,
			"classification": class,
		}), "usage score computed")
	}

	return Result{SubscriptionID: subscriptionID, Score: score, Classification: class}, nil
}
