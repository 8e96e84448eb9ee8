// Package limiter provides budget enforcement for workflow runs. The ledger
// is cooperative: callers check before starting work, and in-flight work is
// allowed to finish and charge past the ceiling.
package limiter

import (
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when cumulative run spend has reached the
// ceiling.
var ErrBudgetExceeded = fmt.Errorf("run budget exceeded")

// Budget tracks cumulative spend for one run against a ceiling. A zero
// ceiling means unlimited.
type Budget struct {
	mu         sync.Mutex
	ceilingUSD float64
	spentUSD   float64
}

func NewBudget(ceilingUSD float64) *Budget {
	return &Budget{ceilingUSD: ceilingUSD}
}

// Check reports whether new work may start. It returns ErrBudgetExceeded once
// spend has reached the ceiling; it never blocks.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ceilingUSD > 0 && b.spentUSD >= b.ceilingUSD {
		return fmt.Errorf("%w: spent $%.4f of $%.4f", ErrBudgetExceeded, b.spentUSD, b.ceilingUSD)
	}
	return nil
}

// Charge records actual spend. Charges from attempts already in flight when
// the ceiling is crossed are still recorded in full.
func (b *Budget) Charge(costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentUSD += costUSD
}

// SpentUSD returns the cumulative spend so far.
func (b *Budget) SpentUSD() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spentUSD
}

// CeilingUSD returns the configured ceiling, 0 when unlimited.
func (b *Budget) CeilingUSD() float64 {
	return b.ceilingUSD
}

// RemainingUSD returns headroom before the ceiling, or a negative value once
// in-flight work has charged past it. Unlimited budgets report 0.
func (b *Budget) RemainingUSD() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ceilingUSD == 0 {
		return 0
	}
	return b.ceilingUSD - b.spentUSD
}
