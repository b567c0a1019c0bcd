package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
)

// ledgerQuotaGuard derives counts live from the generations table, the
// single source of truth. In-flight admitted requests have no ledger row
// yet, so the guard tracks them as pending reservations under a mutex;
// the mutex also serializes the count-then-reserve pair, which is what
// keeps two concurrent requests from sharing the last slot.
type ledgerQuotaGuard struct {
	repo   repositories.GenerationRepository
	limits config.LimitsConfig
	logger *zap.Logger

	mu            sync.Mutex
	pendingByUser map[string]int
	pendingTotal  int
}

// NewLedgerQuotaGuard creates a quota guard backed by ledger range
// counts.
func NewLedgerQuotaGuard(repo repositories.GenerationRepository, limits config.LimitsConfig, logger *zap.Logger) QuotaGuard {
	return &ledgerQuotaGuard{
		repo:          repo,
		limits:        limits,
		logger:        logger.Named("quota"),
		pendingByUser: make(map[string]int),
	}
}

var _ QuotaGuard = (*ledgerQuotaGuard)(nil)

func (g *ledgerQuotaGuard) Reserve(ctx context.Context, userID string, now time.Time) (*Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dayStart, dayEnd := dayWindow(now)
	usedToday, err := g.repo.CountInRange(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily usage: %w", err)
	}
	usedToday += g.pendingByUser[userID]

	if usedToday >= g.limits.MaxDailyImagesPerUser {
		return &Decision{
			Allowed:    false,
			Reason:     DenialDailyLimit,
			UsedToday:  usedToday,
			DailyLimit: g.limits.MaxDailyImagesPerUser,
		}, nil
	}

	monthStart, monthEnd := monthWindow(now)
	ledgerCost, err := g.repo.SumCostInRange(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly cost: %w", err)
	}

	costMicros := usdToMicros(g.limits.CostPerImageUsd)
	monthMicros := usdToMicros(ledgerCost) + int64(g.pendingTotal)*costMicros
	projectedMicros := monthMicros + costMicros
	monthCost := microsToUsd(monthMicros)
	projected := microsToUsd(projectedMicros)

	if projectedMicros > usdToMicros(g.limits.MaxMonthlyCostUsd) {
		return &Decision{
			Allowed:            false,
			Reason:             DenialBudgetExceeded,
			UsedToday:          usedToday,
			DailyLimit:         g.limits.MaxDailyImagesPerUser,
			CurrentMonthCost:   monthCost,
			ProjectedMonthCost: projected,
			MonthlyBudget:      g.limits.MaxMonthlyCostUsd,
		}, nil
	}

	g.pendingByUser[userID]++
	g.pendingTotal++

	g.logger.Debug("quota reserved",
		zap.String("user_id", userID),
		zap.Int("used_today", usedToday+1),
		zap.Float64("projected_month_cost", projected))

	return &Decision{
		Allowed:            true,
		UsedToday:          usedToday + 1,
		RemainingToday:     g.limits.MaxDailyImagesPerUser - usedToday - 1,
		DailyLimit:         g.limits.MaxDailyImagesPerUser,
		CurrentMonthCost:   monthCost,
		ProjectedMonthCost: projected,
		MonthlyBudget:      g.limits.MaxMonthlyCostUsd,
		reservationUser:    userID,
		reservationTime:    now,
	}, nil
}

// Commit drops the pending reservation: the ledger row now carries the
// charge. Committing after the insert means the request is briefly
// counted twice (row plus pending), which can only deny, never
// over-admit.
func (g *ledgerQuotaGuard) Commit(ctx context.Context, d *Decision) error {
	g.releasePending(d)
	return nil
}

// Release drops the pending reservation without a ledger row, leaving no
// charge.
func (g *ledgerQuotaGuard) Release(ctx context.Context, d *Decision) error {
	g.releasePending(d)
	return nil
}

func (g *ledgerQuotaGuard) releasePending(d *Decision) {
	if d == nil || !d.Allowed {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pendingByUser[d.reservationUser] > 0 {
		g.pendingByUser[d.reservationUser]--
		if g.pendingByUser[d.reservationUser] == 0 {
			delete(g.pendingByUser, d.reservationUser)
		}
	}
	if g.pendingTotal > 0 {
		g.pendingTotal--
	}
}
