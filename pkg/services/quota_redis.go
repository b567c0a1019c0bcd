package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
)

// Costs are held in Redis as integer micro-dollars so the ceiling check
// stays exact.
// reserveScript atomically claims one daily slot and one unit of monthly
// budget, undoing both when either ceiling is hit.
// KEYS[1]=daily key, KEYS[2]=month key.
// ARGV: daily limit, cost micros, budget micros, daily TTL s, month TTL s.
// Returns {0, daily, month} on admit, {1, daily, month} on daily denial,
// {2, daily, month} on budget denial, with counts as they stand after the
// call.
var reserveScript = redis.NewScript(`
local daily = redis.call('INCR', KEYS[1])
if daily == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[4])
end
if daily > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  local month = redis.call('GET', KEYS[2])
  return {1, daily - 1, tonumber(month) or 0}
end
local month = redis.call('INCRBY', KEYS[2], ARGV[2])
if month == tonumber(ARGV[2]) then
  redis.call('EXPIRE', KEYS[2], ARGV[5])
end
if month > tonumber(ARGV[3]) then
  redis.call('DECRBY', KEYS[2], ARGV[2])
  redis.call('DECR', KEYS[1])
  return {2, daily - 1, month - tonumber(ARGV[2])}
end
return {0, daily, month}
`)

// releaseScript undoes a reservation, clamping at zero so a double
// release cannot go negative.
var releaseScript = redis.NewScript(`
local daily = tonumber(redis.call('GET', KEYS[1])) or 0
if daily > 0 then
  redis.call('DECR', KEYS[1])
end
local month = tonumber(redis.call('GET', KEYS[2])) or 0
local cost = tonumber(ARGV[1])
if month >= cost then
  redis.call('DECRBY', KEYS[2], ARGV[1])
elseif month > 0 then
  redis.call('SET', KEYS[2], 0, 'KEEPTTL')
end
return 1
`)

// RedisQuotaGuard keeps usage counters in Redis with atomic
// increment-with-ceiling reservations. Counters are denormalized from
// the ledger and must stay re-derivable from it; Reconcile rewrites them
// from ledger range counts.
type RedisQuotaGuard struct {
	client *redis.Client
	repo   repositories.GenerationRepository
	limits config.LimitsConfig
	logger *zap.Logger
}

// NewRedisQuotaGuard creates a Redis-backed quota guard. The repository
// is only used for reconciliation.
func NewRedisQuotaGuard(client *redis.Client, repo repositories.GenerationRepository, limits config.LimitsConfig, logger *zap.Logger) *RedisQuotaGuard {
	return &RedisQuotaGuard{
		client: client,
		repo:   repo,
		limits: limits,
		logger: logger.Named("quota"),
	}
}

var _ QuotaGuard = (*RedisQuotaGuard)(nil)

func dailyKey(userID string, t time.Time) string {
	return fmt.Sprintf("quota:daily:%s:%s", userID, t.UTC().Format("20060102"))
}

func monthKey(t time.Time) string {
	return fmt.Sprintf("quota:month:%s", t.UTC().Format("200601"))
}

func (g *RedisQuotaGuard) costMicros() int64 {
	return usdToMicros(g.limits.CostPerImageUsd)
}

func (g *RedisQuotaGuard) Reserve(ctx context.Context, userID string, now time.Time) (*Decision, error) {
	budgetMicros := usdToMicros(g.limits.MaxMonthlyCostUsd)

	res, err := reserveScript.Run(ctx, g.client,
		[]string{dailyKey(userID, now), monthKey(now)},
		g.limits.MaxDailyImagesPerUser,
		g.costMicros(),
		budgetMicros,
		int64((48 * time.Hour).Seconds()),
		int64((35 * 24 * time.Hour).Seconds()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected quota script result: %v", res)
	}

	outcome, daily, monthMicros := res[0], int(res[1]), res[2]
	monthCost := microsToUsd(monthMicros)

	switch outcome {
	case 1:
		return &Decision{
			Allowed:    false,
			Reason:     DenialDailyLimit,
			UsedToday:  daily,
			DailyLimit: g.limits.MaxDailyImagesPerUser,
		}, nil
	case 2:
		return &Decision{
			Allowed:            false,
			Reason:             DenialBudgetExceeded,
			UsedToday:          daily,
			DailyLimit:         g.limits.MaxDailyImagesPerUser,
			CurrentMonthCost:   monthCost,
			ProjectedMonthCost: monthCost + g.limits.CostPerImageUsd,
			MonthlyBudget:      g.limits.MaxMonthlyCostUsd,
		}, nil
	default:
		return &Decision{
			Allowed:            true,
			UsedToday:          daily,
			RemainingToday:     g.limits.MaxDailyImagesPerUser - daily,
			DailyLimit:         g.limits.MaxDailyImagesPerUser,
			CurrentMonthCost:   monthCost - g.limits.CostPerImageUsd,
			ProjectedMonthCost: monthCost,
			MonthlyBudget:      g.limits.MaxMonthlyCostUsd,
			reservationUser:    userID,
			reservationTime:    now,
		}, nil
	}
}

// Commit keeps the counters as reserved; the charge stands.
func (g *RedisQuotaGuard) Commit(ctx context.Context, d *Decision) error {
	return nil
}

// Release undoes the reservation so a failed generation leaves no charge.
func (g *RedisQuotaGuard) Release(ctx context.Context, d *Decision) error {
	if d == nil || !d.Allowed {
		return nil
	}

	err := releaseScript.Run(ctx, g.client,
		[]string{dailyKey(d.reservationUser, d.reservationTime), monthKey(d.reservationTime)},
		g.costMicros(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to release quota reservation: %w", err)
	}
	return nil
}

// Reconcile rewrites the current day and month counters from ledger
// range counts. Call it on startup so a restarted or flushed Redis never
// under- or over-charges.
func (g *RedisQuotaGuard) Reconcile(ctx context.Context, now time.Time) error {
	if g.repo == nil {
		return nil
	}

	monthStart, monthEnd := monthWindow(now)
	monthCost, err := g.repo.SumCostInRange(ctx, monthStart, monthEnd)
	if err != nil {
		return fmt.Errorf("failed to derive monthly cost from ledger: %w", err)
	}

	monthMicros := usdToMicros(monthCost)
	err = g.client.Set(ctx, monthKey(now), monthMicros, 35*24*time.Hour).Err()
	if err != nil {
		return fmt.Errorf("failed to write month counter: %w", err)
	}

	dayStart, dayEnd := dayWindow(now)
	dailyCounts, err := g.repo.CountByUserInRange(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("failed to derive daily counts from ledger: %w", err)
	}
	for userID, count := range dailyCounts {
		err := g.client.Set(ctx, dailyKey(userID, now), count, 48*time.Hour).Err()
		if err != nil {
			return fmt.Errorf("failed to write daily counter for user %s: %w", userID, err)
		}
	}

	g.logger.Info("reconciled quota counters from ledger",
		zap.Float64("month_cost_usd", monthCost),
		zap.Int("daily_users", len(dailyCounts)))
	return nil
}
