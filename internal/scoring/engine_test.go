package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/dbtest"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

func seedSubscription(t *testing.T, conn *gorm.DB) uuid.UUID {
	t.Helper()
	sub := models.Subscription{
		UserID:       dbtest.SeedUser(t, conn),
		ServiceName:  "ChatGPT",
		Amount:       decimal.NewFromInt(20),
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		Source:       enums.SubscriptionSourceGmail,
		Status:       enums.SubscriptionStatusActive,
	}
	if err := conn.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub.ID
}

func newTestEngine(t *testing.T, conn *gorm.DB) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineParams{DB: conn, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestComputeScoreCreatesMissingRecord(t *testing.T) {
	conn := dbtest.Open(t)
	subID := seedSubscription(t, conn)
	engine := newTestEngine(t, conn)

	res, err := engine.ComputeScore(context.Background(), subID)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Score != 0 || res.Classification != enums.UsageClassificationUnused {
		t.Fatalf("unexpected result %+v", res)
	}

	var rec models.UsageRecord
	if err := conn.Where("subscription_id = ?", subID).Take(&rec).Error; err != nil {
		t.Fatalf("load usage record: %v", err)
	}
	if rec.Classification != enums.UsageClassificationUnused {
		t.Fatalf("expected persisted unused, got %s", rec.Classification)
	}
}

func TestComputeScoreIsIdempotent(t *testing.T) {
	conn := dbtest.Open(t)
	subID := seedSubscription(t, conn)
	if err := conn.Create(&models.UsageRecord{SubscriptionID: subID, LastAPIUse: daysAgo(20)}).Error; err != nil {
		t.Fatalf("seed usage record: %v", err)
	}
	engine := newTestEngine(t, conn)

	first, err := engine.ComputeScore(context.Background(), subID)
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	second, err := engine.ComputeScore(context.Background(), subID)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}

	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
	if math.Abs(first.Score-80) > 1e-6 || first.Classification != enums.UsageClassificationActive {
		t.Fatalf("unexpected result %+v", first)
	}

	var count int64
	if err := conn.Model(&models.UsageRecord{}).Where("subscription_id = ?", subID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 usage record, got %d", count)
	}
}

func TestComputeScoreUnknownSubscription(t *testing.T) {
	conn := dbtest.Open(t)
	engine := newTestEngine(t, conn)

	if _, err := engine.ComputeScore(context.Background(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := engine.ComputeScore(context.Background(), uuid.Nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
