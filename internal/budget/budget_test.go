package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cubtools/cub/internal/domain"
)

func attempt(cost float64, tokens int64, known bool) domain.Attempt {
	return domain.Attempt{
		CostUSD: cost,
		Tokens:  domain.TokenUsage{Input: tokens, Known: known},
	}
}

func TestExhaustionAfterAccounting(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{MaxCostUSD: 0.50})

	a.StartIteration()
	exhausted, _ := a.Exhausted()
	assert.False(t, exhausted, "nothing spent yet")

	// The in-flight attempt completes and is accounted even though it
	// blows past the limit.
	a.RecordAttempt(attempt(0.60, 1000, true))
	exhausted, reason := a.Exhausted()
	assert.True(t, exhausted)
	assert.Contains(t, reason, "cost")
}

func TestTokenLimit(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{MaxTokens: 1000})
	a.RecordAttempt(attempt(0, 999, true))
	exhausted, _ := a.Exhausted()
	assert.False(t, exhausted)

	a.RecordAttempt(attempt(0, 1, true))
	exhausted, reason := a.Exhausted()
	assert.True(t, exhausted)
	assert.Contains(t, reason, "tokens")
}

func TestTaskAndIterationLimits(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{MaxTasks: 2, MaxIterations: 5})

	a.RecordTaskCompleted()
	exhausted, _ := a.Exhausted()
	assert.False(t, exhausted)

	a.RecordTaskCompleted()
	exhausted, reason := a.Exhausted()
	assert.True(t, exhausted)
	assert.Contains(t, reason, "tasks")

	b := NewAccountant(domain.BudgetLimits{MaxIterations: 2})
	b.StartIteration()
	b.StartIteration()
	exhausted, reason = b.Exhausted()
	assert.True(t, exhausted)
	assert.Contains(t, reason, "iterations")
}

func TestUnlimitedNeverExhausts(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{})
	for i := 0; i < 100; i++ {
		a.StartIteration()
		a.RecordAttempt(attempt(10.0, 1_000_000, true))
		a.RecordTaskCompleted()
	}
	exhausted, _ := a.Exhausted()
	assert.False(t, exhausted)
}

func TestUnknownUsageFlagged(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{MaxTokens: 100})
	a.RecordAttempt(attempt(0.10, 0, false))

	usage := a.Usage()
	assert.Equal(t, 1, usage.UnknownUsage)
	assert.Zero(t, usage.TokensUsed, "unknown usage counts as zero tokens")

	exhausted, _ := a.Exhausted()
	assert.False(t, exhausted)
}

func TestWarnFiresOnce(t *testing.T) {
	a := NewAccountant(domain.BudgetLimits{MaxCostUSD: 1.00})

	warnings := a.RecordAttempt(attempt(0.50, 0, true))
	assert.Empty(t, warnings)

	warnings = a.RecordAttempt(attempt(0.35, 0, true)) // crosses 0.8
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "budget warning")

	warnings = a.RecordAttempt(attempt(0.05, 0, true))
	assert.Empty(t, warnings, "warning fires only once per limit")
}
