package insights

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/dbtest"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
)

func seedRepoSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID) uuid.UUID {
	t.Helper()
	sub := models.Subscription{
		UserID:       userID,
		ServiceName:  "Notion",
		Amount:       decimal.NewFromInt(15),
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		Source:       enums.SubscriptionSourceGmail,
		Status:       enums.SubscriptionStatusActive,
	}
	require.NoError(t, conn.Create(&sub).Error)
	return sub.ID
}

func TestRepositoryListFiltersByTypeAndSubscription(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, conn)
	subID := seedRepoSubscription(t, conn, userID)
	other := dbtest.SeedUser(t, conn)

	rows := []models.Insight{
		{UserID: userID, SubscriptionID: &subID, Type: enums.InsightTypeRecommendation, Message: "cancel", CreatedAt: now},
		{UserID: userID, Type: enums.InsightTypeWarning, Message: "overlap", CreatedAt: now.Add(time.Minute)},
		{UserID: other, Type: enums.InsightTypeWarning, Message: "overlap", CreatedAt: now},
	}
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}

	all, next, err := repo.List(ctx, listInsightsParams{UserID: userID, Limit: 10})
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, all, 2)
	assert.Equal(t, "overlap", all[0].Message)

	warning := enums.InsightTypeWarning
	warnings, _, err := repo.List(ctx, listInsightsParams{UserID: userID, Type: &warning, Limit: 10})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Nil(t, warnings[0].SubscriptionID)

	scoped, _, err := repo.List(ctx, listInsightsParams{UserID: userID, SubscriptionID: &subID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, enums.InsightTypeRecommendation, scoped[0].Type)
}

func TestRepositoryExistsSinceMatchesExactKey(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, conn)
	subID := seedRepoSubscription(t, conn, userID)

	require.NoError(t, repo.Create(ctx, &models.Insight{
		UserID: userID, SubscriptionID: &subID, Type: enums.InsightTypeRecommendation, Message: "cancel", CreatedAt: now,
	}))

	key := dedupeKey{UserID: userID, SubscriptionID: &subID, Type: enums.InsightTypeRecommendation, Message: "cancel"}
	exists, err := repo.ExistsSince(ctx, key, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsSince(ctx, key, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, exists, "rows older than the window must not count")

	unattached := key
	unattached.SubscriptionID = nil
	exists, err = repo.ExistsSince(ctx, unattached, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, exists, "a null subscription only matches unattached insights")
}
