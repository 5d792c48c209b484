// Package budget tracks cumulative run usage against configured limits.
//
// Exhaustion is checked after each attempt is accounted: an in-flight
// attempt always completes, only the next iteration is prevented. Crossing
// the warn fraction fires a single warning per limit.
package budget

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
)

// Accountant accumulates usage for one run. Safe for concurrent use,
// though the loop calls it from one goroutine.
type Accountant struct {
	mu     sync.Mutex
	limits domain.BudgetLimits
	usage  domain.BudgetUsage
	warned map[string]bool
	logger zerolog.Logger
}

// AccountantOption configures an Accountant.
type AccountantOption func(*Accountant)

// WithLogger sets the accountant logger.
func WithLogger(logger zerolog.Logger) AccountantOption {
	return func(a *Accountant) {
		a.logger = logger
	}
}

// NewAccountant creates an accountant with the given limits. Zero-valued
// limits are unlimited.
func NewAccountant(limits domain.BudgetLimits, opts ...AccountantOption) *Accountant {
	a := &Accountant{
		limits: limits,
		warned: make(map[string]bool),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartIteration counts one loop body entered.
func (a *Accountant) StartIteration() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.Iterations++
}

// RecordAttempt accounts one completed attempt. Unknown token usage counts
// as zero but is flagged. Returns warnings newly crossed by this attempt.
func (a *Accountant) RecordAttempt(attempt domain.Attempt) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if attempt.Tokens.Known {
		a.usage.TokensUsed += attempt.Tokens.Total()
	} else {
		a.usage.UnknownUsage++
	}
	a.usage.CostUSD += attempt.CostUSD

	return a.newWarnings()
}

// RecordTaskCompleted counts one task closed during the run.
func (a *Accountant) RecordTaskCompleted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.TasksCompleted++
}

// Exhausted reports whether any limit has been met or exceeded. Called
// after accounting, before selecting the next task.
func (a *Accountant) Exhausted() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.limits.MaxCostUSD > 0 && a.usage.CostUSD >= a.limits.MaxCostUSD:
		return true, fmt.Sprintf("cost %.2f USD reached limit %.2f", a.usage.CostUSD, a.limits.MaxCostUSD)
	case a.limits.MaxTokens > 0 && a.usage.TokensUsed >= a.limits.MaxTokens:
		return true, fmt.Sprintf("tokens %d reached limit %d", a.usage.TokensUsed, a.limits.MaxTokens)
	case a.limits.MaxTasks > 0 && a.usage.TasksCompleted >= a.limits.MaxTasks:
		return true, fmt.Sprintf("tasks completed %d reached limit %d", a.usage.TasksCompleted, a.limits.MaxTasks)
	case a.limits.MaxIterations > 0 && a.usage.Iterations >= a.limits.MaxIterations:
		return true, fmt.Sprintf("iterations %d reached limit %d", a.usage.Iterations, a.limits.MaxIterations)
	default:
		return false, ""
	}
}

// Usage returns a snapshot of cumulative usage.
func (a *Accountant) Usage() domain.BudgetUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Limits returns the configured limits.
func (a *Accountant) Limits() domain.BudgetLimits {
	return a.limits
}

// newWarnings fires once per limit when usage crosses the warn fraction.
// Caller holds the mutex.
func (a *Accountant) newWarnings() []string {
	var warnings []string
	warn := func(key, msg string) {
		if a.warned[key] {
			return
		}
		a.warned[key] = true
		a.logger.Warn().Msg(msg)
		warnings = append(warnings, msg)
	}

	frac := constants.BudgetWarnFraction
	if a.limits.MaxCostUSD > 0 && a.usage.CostUSD >= frac*a.limits.MaxCostUSD {
		warn("cost", fmt.Sprintf("budget warning: cost %.2f USD is %.0f%% of limit %.2f",
			a.usage.CostUSD, 100*a.usage.CostUSD/a.limits.MaxCostUSD, a.limits.MaxCostUSD))
	}
	if a.limits.MaxTokens > 0 && float64(a.usage.TokensUsed) >= frac*float64(a.limits.MaxTokens) {
		warn("tokens", fmt.Sprintf("budget warning: tokens %d approaching limit %d",
			a.usage.TokensUsed, a.limits.MaxTokens))
	}
	return warnings
}
