// Package services implements the generation lifecycle: quota admission,
// orchestration of the image API and artifact store, ledger recording,
// and lineage resolution.
package services

import (
	"context"
	"fmt"
	"math"
	"time"
)

// usdMicros is the fixed-point scale for budget arithmetic. Both quota
// guards compare costs in integer micro-USD so boundary decisions are
// exact regardless of how float sums accumulate.
const usdMicros = 1_000_000

func usdToMicros(v float64) int64 {
	return int64(math.Round(v * usdMicros))
}

func microsToUsd(v int64) float64 {
	return float64(v) / usdMicros
}

// DenialReason identifies why a request was not admitted.
type DenialReason string

const (
	// DenialDailyLimit means the user is at their daily image cap.
	DenialDailyLimit DenialReason = "DAILY_LIMIT"
	// DenialBudgetExceeded means one more image would tip the monthly
	// global cost over budget.
	DenialBudgetExceeded DenialReason = "BUDGET_EXCEEDED"
)

// Decision is the outcome of a quota reservation. When Allowed, the
// decision doubles as the reservation handle: exactly one of Commit or
// Release must follow.
type Decision struct {
	Allowed bool
	Reason  DenialReason // set when !Allowed

	UsedToday      int
	RemainingToday int
	DailyLimit     int

	CurrentMonthCost   float64
	ProjectedMonthCost float64
	MonthlyBudget      float64

	// reservationUser and reservationDay key the reservation for
	// Commit/Release in counter-backed implementations.
	reservationUser string
	reservationTime time.Time
}

// QuotaGuard decides admission for new generation requests. Reserve must
// be atomic: two concurrent reservations may never both succeed when only
// one slot (or one unit of budget) remains. Quota is charged if and only
// if a ledger row is written, so the caller commits after a successful
// insert and releases on any failure before it.
type QuotaGuard interface {
	// Reserve checks the daily limit and the monthly budget, in that
	// order, and provisionally consumes one slot when admitted. The
	// daily check takes priority: a user at the daily cap gets
	// DAILY_LIMIT even if the budget would also have failed.
	Reserve(ctx context.Context, userID string, now time.Time) (*Decision, error)

	// Commit finalizes a successful reservation after the ledger row
	// exists.
	Commit(ctx context.Context, d *Decision) error

	// Release returns a reserved slot after a failed generation, save,
	// or insert. No charge may remain afterwards.
	Release(ctx context.Context, d *Decision) error
}

// PolicyDeniedError carries a denial decision through an error return.
// It is expected control flow, not a fault.
type PolicyDeniedError struct {
	Decision *Decision
}

func (e *PolicyDeniedError) Error() string {
	switch e.Decision.Reason {
	case DenialDailyLimit:
		return fmt.Sprintf("daily limit reached: %d of %d images used today",
			e.Decision.UsedToday, e.Decision.DailyLimit)
	case DenialBudgetExceeded:
		return fmt.Sprintf("monthly budget exceeded: projected $%.2f over budget $%.2f",
			e.Decision.ProjectedMonthCost, e.Decision.MonthlyBudget)
	default:
		return "request denied by usage policy"
	}
}

// dayWindow returns the UTC day containing t as [start, end).
func dayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// monthWindow returns the UTC month containing t as [start, end).
func monthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
