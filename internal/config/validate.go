package config

import (
	"github.com/cubtools/cub/internal/errors"
)

// knownHarnesses are the harness names a config may select.
var knownHarnesses = map[string]bool{ //nolint:gochecknoglobals // Static allow-list
	"claude":   true,
	"codex":    true,
	"gemini":   true,
	"opencode": true,
}

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first validation failure found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ErrConfigNil
	}

	if cfg.Harness.Name == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "harness.name must not be empty")
	}
	if !knownHarnesses[cfg.Harness.Name] {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"harness.name %q is not a known harness", cfg.Harness.Name)
	}
	if cfg.Harness.Timeout <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"harness.timeout must be positive, got %s", cfg.Harness.Timeout)
	}
	if cfg.Harness.EscalateAfter < 1 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"harness.escalate_after must be at least 1, got %d", cfg.Harness.EscalateAfter)
	}

	if cfg.Budget.MaxCostUSD < 0 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"budget.max_cost_usd must not be negative, got %f", cfg.Budget.MaxCostUSD)
	}
	if cfg.Budget.MaxTokens < 0 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"budget.max_tokens must not be negative, got %d", cfg.Budget.MaxTokens)
	}
	if cfg.Budget.MaxTasks < 0 || cfg.Budget.MaxIterations < 0 {
		return errors.Wrap(errors.ErrConfigInvalid,
			"budget.max_tasks and budget.max_iterations must not be negative")
	}

	if cfg.Gate.CheckTimeout <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"gate.check_timeout must be positive, got %s", cfg.Gate.CheckTimeout)
	}

	if cfg.Loop.PerTaskTimeout < 0 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"loop.per_task_timeout must not be negative, got %s", cfg.Loop.PerTaskTimeout)
	}
	if cfg.Loop.BreakerWindow < 1 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"loop.breaker_window must be at least 1, got %d", cfg.Loop.BreakerWindow)
	}
	if cfg.Loop.BreakerSameTaskFailures < 1 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"loop.breaker_same_task_failures must be at least 1, got %d", cfg.Loop.BreakerSameTaskFailures)
	}
	if cfg.Loop.BreakerNoProgress < 1 {
		return errors.Wrapf(errors.ErrConfigInvalid,
			"loop.breaker_no_progress must be at least 1, got %d", cfg.Loop.BreakerNoProgress)
	}

	return nil
}
