//go:build integration

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
	"github.com/pixelsmith-dev/pixelsmith/pkg/testhelpers"
)

func redisGuard(t *testing.T, limits config.LimitsConfig) *RedisQuotaGuard {
	t.Helper()
	testRedis := testhelpers.GetTestRedis(t)
	t.Cleanup(func() {
		require.NoError(t, testRedis.Client.FlushDB(context.Background()).Err())
	})
	return NewRedisQuotaGuard(testRedis.Client, newFakeGenerationRepo(), limits, zap.NewNop())
}

func TestRedisQuotaGuard_DailyLimit(t *testing.T) {
	guard := redisGuard(t, quotaLimits())
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	d1, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)
	assert.Equal(t, 1, d1.UsedToday)

	d2, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)

	d3, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.Equal(t, DenialDailyLimit, d3.Reason)
	assert.Equal(t, 2, d3.UsedToday)

	// Another user is unaffected by the first one's cap.
	other, err := guard.Reserve(ctx, "user-2", now)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRedisQuotaGuard_BudgetCeiling(t *testing.T) {
	limits := quotaLimits()
	limits.MaxDailyImagesPerUser = 10
	limits.MaxMonthlyCostUsd = 0.10
	guard := redisGuard(t, limits)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		d, err := guard.Reserve(ctx, "user-1", now)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// 0.08 reserved; the next 0.04 would project 0.12 over a 0.10 budget.
	d, err := guard.Reserve(ctx, "user-2", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenialBudgetExceeded, d.Reason)
	assert.InDelta(t, 0.12, d.ProjectedMonthCost, 1e-9)
}

func TestRedisQuotaGuard_ReleaseRestoresCapacity(t *testing.T) {
	guard := redisGuard(t, quotaLimits())
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	d1, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	d2, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	require.True(t, d1.Allowed)
	require.True(t, d2.Allowed)

	denied, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	require.NoError(t, guard.Release(ctx, d2))

	d3, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, d3.Allowed)
}

func TestRedisQuotaGuard_ConcurrentReservesNeverOverAdmit(t *testing.T) {
	limits := quotaLimits()
	limits.MaxDailyImagesPerUser = 3
	guard := redisGuard(t, limits)
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	const attempts = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := guard.Reserve(context.Background(), "user-1", now)
			if err == nil && d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
}

func TestRedisQuotaGuard_ReconcileRewritesCounters(t *testing.T) {
	limits := quotaLimits()
	repo := newFakeGenerationRepo()
	testRedis := testhelpers.GetTestRedis(t)
	t.Cleanup(func() {
		require.NoError(t, testRedis.Client.FlushDB(context.Background()).Err())
	})
	guard := NewRedisQuotaGuard(testRedis.Client, repo, limits, zap.NewNop())
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	// Ledger says the user already spent both daily slots; Redis has
	// drifted (empty).
	for i := 0; i < 2; i++ {
		_, err := repo.Insert(ctx, &models.Generation{
			UserID:       "user-1",
			CreatedAt:    now.Add(-time.Hour),
			Prompt:       "x",
			ImageLocator: "x.png",
			SourceType:   models.SourceTypeBase,
			CostUsd:      0.04,
		})
		require.NoError(t, err)
	}

	require.NoError(t, guard.Reconcile(ctx, now))

	d, err := guard.Reserve(ctx, "user-1", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenialDailyLimit, d.Reason)
}
