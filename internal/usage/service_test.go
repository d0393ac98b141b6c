package usage

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/internal/scoring"
	"github.com/subradar/subradar-backend/pkg/db/dbtest"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	conn   *gorm.DB
	svc    Service
	userID uuid.UUID
	subID  uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.OpenClient(t)
	conn := client.DB()
	engine, err := scoring.NewEngine(scoring.EngineParams{DB: conn, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn, false),
		Tx:     client,
		Scorer: engine,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	userID := dbtest.SeedUser(t, conn)
	return fixture{conn: conn, svc: svc, userID: userID, subID: seedSubscription(t, conn, userID, "Claude")}
}

func seedSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID, name string) uuid.UUID {
	t.Helper()
	sub := models.Subscription{
		UserID:       userID,
		ServiceName:  name,
		Amount:       decimal.NewFromInt(20),
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		Source:       enums.SubscriptionSourceManualUpload,
		Status:       enums.SubscriptionStatusActive,
	}
	if err := conn.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub.ID
}

func TestRecordSignalIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := now.Add(-24 * time.Hour)
	t0 := now.Add(-10 * 24 * time.Hour)

	rec, err := f.svc.RecordSignal(ctx, f.subID, enums.SignalKindAPIUse, t1)
	if err != nil {
		t.Fatalf("record t1: %v", err)
	}
	if !rec.LastAPIUse.Equal(t1) {
		t.Fatalf("expected api use %v, got %v", t1, rec.LastAPIUse)
	}

	rec, err = f.svc.RecordSignal(ctx, f.subID, enums.SignalKindAPIUse, t0)
	if err != nil {
		t.Fatalf("record t0: %v", err)
	}
	if !rec.LastAPIUse.Equal(t1) {
		t.Fatalf("stale signal moved timestamp backward to %v", rec.LastAPIUse)
	}

	stored, err := f.svc.GetBySubscription(ctx, f.userID, f.subID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.LastAPIUse.Equal(t1) {
		t.Fatalf("stored api use %v", stored.LastAPIUse)
	}
	if math.Abs(stored.Score-99) > 1e-6 || stored.Classification != enums.UsageClassificationActive {
		t.Fatalf("unexpected score %v (%s)", stored.Score, stored.Classification)
	}

	var count int64
	if err := f.conn.Model(&models.UsageRecord{}).Where("subscription_id = ?", f.subID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 usage record, got %d", count)
	}
}

func TestRecordSignalFieldsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RecordSignal(ctx, f.subID, enums.SignalKindEmail, now.Add(-50*24*time.Hour)); err != nil {
		t.Fatalf("record email: %v", err)
	}
	rec, err := f.svc.RecordSignal(ctx, f.subID, enums.SignalKindLogin, now.Add(-5*24*time.Hour))
	if err != nil {
		t.Fatalf("record login: %v", err)
	}

	if rec.LastEmailDate == nil || rec.LastLogin == nil || rec.LastAPIUse != nil {
		t.Fatalf("unexpected signal fields %+v", rec)
	}
	if math.Abs(rec.Score-95) > 1e-6 {
		t.Fatalf("expected score 95, got %v", rec.Score)
	}
}

func TestRecordSignalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		subID uuid.UUID
		kind  enums.SignalKind
		at    time.Time
		code  pkgerrors.Code
	}{
		{"nil subscription", uuid.Nil, enums.SignalKindLogin, now, pkgerrors.CodeValidation},
		{"unknown kind", f.subID, enums.SignalKind("sms"), now, pkgerrors.CodeValidation},
		{"zero time", f.subID, enums.SignalKindLogin, time.Time{}, pkgerrors.CodeValidation},
		{"missing subscription", uuid.New(), enums.SignalKindLogin, now, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		if _, err := f.svc.RecordSignal(ctx, tc.subID, tc.kind, tc.at); !pkgerrors.IsCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}
}

func TestUpsertRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := now.Add(-2 * 24 * time.Hour)

	stranger := dbtest.SeedUser(t, f.conn)
	if _, err := f.svc.Upsert(ctx, stranger, UpsertInput{SubscriptionID: f.subID, LastLogin: &ts}); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for stranger, got %v", err)
	}

	rec, err := f.svc.Upsert(ctx, f.userID, UpsertInput{SubscriptionID: f.subID, LastLogin: &ts})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !rec.LastLogin.Equal(ts) || rec.Classification != enums.UsageClassificationActive {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestDeleteForUserChecksOwnershipThroughSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.RecordSignal(ctx, f.subID, enums.SignalKindEmail, now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	stranger := dbtest.SeedUser(t, f.conn)
	if err := f.svc.DeleteForUser(ctx, stranger, rec.ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
	if err := f.svc.DeleteForUser(ctx, f.userID, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetBySubscription(ctx, f.userID, f.subID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
	if err := f.svc.DeleteForUser(ctx, f.userID, rec.ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListForUserJoinsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := seedSubscription(t, f.conn, f.userID, "Cursor")

	if _, err := f.svc.RecordSignal(ctx, f.subID, enums.SignalKindEmail, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := f.svc.RecordSignal(ctx, other, enums.SignalKindLogin, now); err != nil {
		t.Fatalf("record: %v", err)
	}

	stranger := dbtest.SeedUser(t, f.conn)
	strangerSub := seedSubscription(t, f.conn, stranger, "Notion AI")
	if _, err := f.svc.RecordSignal(ctx, strangerSub, enums.SignalKindLogin, now); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := f.svc.ListForUser(ctx, f.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	names := []string{rows[0].Subscription.ServiceName, rows[1].Subscription.ServiceName}
	sort.Strings(names)
	if names[0] != "Claude" || names[1] != "Cursor" {
		t.Fatalf("unexpected services %v", names)
	}
}
