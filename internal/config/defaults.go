package config

import (
	"github.com/spf13/viper"

	"github.com/cubtools/cub/internal/constants"
)

// DefaultConfig returns a new Config with sensible default values.
// These defaults are the base layer that config files, environment
// variables, and CLI flags override.
func DefaultConfig() *Config {
	return &Config{
		Harness: HarnessConfig{
			Name:          "claude",
			Timeout:       constants.DefaultHarnessTimeout,
			EscalateAfter: constants.BreakerSameTaskFailures,
			APIKeyEnvVars: map[string]string{
				"claude": "ANTHROPIC_API_KEY",
				"codex":  "OPENAI_API_KEY",
				"gemini": "GEMINI_API_KEY",
			},
		},
		Budget: BudgetConfig{
			// All zero: unlimited unless the user configures limits.
		},
		Gate: GateConfig{
			RequireClean: true,
			TrackedOnly:  true,
			CheckTimeout: constants.DefaultCheckTimeout,
		},
		Loop: LoopConfig{
			BreakerWindow:           constants.BreakerWindow,
			BreakerSameTaskFailures: constants.BreakerSameTaskFailures,
			BreakerNoProgress:       constants.BreakerNoProgressIterations,
		},
	}
}

// setDefaults registers the default configuration values with viper so
// that partial config files merge over a complete base.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("harness.name", d.Harness.Name)
	v.SetDefault("harness.model", d.Harness.Model)
	v.SetDefault("harness.timeout", d.Harness.Timeout)
	v.SetDefault("harness.stream", d.Harness.Stream)
	v.SetDefault("harness.escalation", d.Harness.Escalation)
	v.SetDefault("harness.escalate_after", d.Harness.EscalateAfter)
	v.SetDefault("harness.api_key_env_vars", d.Harness.APIKeyEnvVars)

	v.SetDefault("budget.max_cost_usd", d.Budget.MaxCostUSD)
	v.SetDefault("budget.max_tokens", d.Budget.MaxTokens)
	v.SetDefault("budget.max_tasks", d.Budget.MaxTasks)
	v.SetDefault("budget.max_iterations", d.Budget.MaxIterations)

	v.SetDefault("gate.require_clean", d.Gate.RequireClean)
	v.SetDefault("gate.tracked_only", d.Gate.TrackedOnly)
	v.SetDefault("gate.test_command", d.Gate.TestCommand)
	v.SetDefault("gate.typecheck_command", d.Gate.TypecheckCommand)
	v.SetDefault("gate.lint_command", d.Gate.LintCommand)
	v.SetDefault("gate.check_timeout", d.Gate.CheckTimeout)

	v.SetDefault("loop.per_task_timeout", d.Loop.PerTaskTimeout)
	v.SetDefault("loop.breaker_window", d.Loop.BreakerWindow)
	v.SetDefault("loop.breaker_same_task_failures", d.Loop.BreakerSameTaskFailures)
	v.SetDefault("loop.breaker_no_progress", d.Loop.BreakerNoProgress)
	v.SetDefault("loop.main_ok", d.Loop.MainOK)
}
