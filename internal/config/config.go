// Package config provides configuration management for cub with layered
// precedence.
//
// Configuration sources are loaded in the following order (highest
// precedence first):
//  1. CLI flags (passed via LoadWithOverrides)
//  2. Environment variables (CUB_* prefix)
//  3. Project config ({project}/.cub/config.yaml)
//  4. Global config (~/.cub/config.yaml)
//  5. Built-in defaults
//
// IMPORTANT: This package may import internal/constants and internal/errors,
// but MUST NOT import internal/domain or other internal packages.
package config

import "time"

// Config is the root configuration structure for cub.
type Config struct {
	// Harness contains settings for external assistant invocation.
	Harness HarnessConfig `yaml:"harness" mapstructure:"harness"`

	// Budget contains run budget limits.
	Budget BudgetConfig `yaml:"budget" mapstructure:"budget"`

	// Gate contains clean-state gate settings.
	Gate GateConfig `yaml:"gate" mapstructure:"gate"`

	// Loop contains run-loop behavior settings.
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`
}

// HarnessConfig contains settings for external assistant invocation.
type HarnessConfig struct {
	// Name selects the harness (claude, codex, gemini, opencode).
	Name string `yaml:"name" mapstructure:"name"`

	// Model overrides the harness default model. Per-task "model:<name>"
	// labels take precedence over this setting.
	Model string `yaml:"model" mapstructure:"model"`

	// Timeout is the default per-invocation timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Stream requests incremental output delivery.
	Stream bool `yaml:"stream" mapstructure:"stream"`

	// Escalation is the ordered model ladder used after repeated
	// failures on one task. Empty disables escalation.
	Escalation []string `yaml:"escalation" mapstructure:"escalation"`

	// EscalateAfter is the consecutive same-task failure count that
	// advances the escalation ladder.
	EscalateAfter int `yaml:"escalate_after" mapstructure:"escalate_after"`

	// APIKeyEnvVars maps harness names to their API key environment
	// variable names, for availability checks.
	APIKeyEnvVars map[string]string `yaml:"api_key_env_vars" mapstructure:"api_key_env_vars"`
}

// BudgetConfig contains run budget limits. Zero values mean unlimited.
type BudgetConfig struct {
	// MaxCostUSD caps cumulative attempt cost.
	MaxCostUSD float64 `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`

	// MaxTokens caps cumulative input+output tokens.
	MaxTokens int64 `yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxTasks caps completed tasks per run.
	MaxTasks int `yaml:"max_tasks" mapstructure:"max_tasks"`

	// MaxIterations caps loop bodies entered per run.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// GateConfig contains clean-state gate settings. The nesting check is
// always on and not configurable.
type GateConfig struct {
	// RequireClean enables the VCS-clean check.
	RequireClean bool `yaml:"require_clean" mapstructure:"require_clean"`

	// TrackedOnly limits the VCS-clean check to tracked files.
	TrackedOnly bool `yaml:"tracked_only" mapstructure:"tracked_only"`

	// TestCommand, TypecheckCommand, LintCommand are external commands;
	// exit 0 means pass. Empty disables the check.
	TestCommand      string `yaml:"test_command" mapstructure:"test_command"`
	TypecheckCommand string `yaml:"typecheck_command" mapstructure:"typecheck_command"`
	LintCommand      string `yaml:"lint_command" mapstructure:"lint_command"`

	// CheckTimeout bounds each gate command.
	CheckTimeout time.Duration `yaml:"check_timeout" mapstructure:"check_timeout"`
}

// LoopConfig contains run-loop behavior settings.
type LoopConfig struct {
	// PerTaskTimeout bounds each harness invocation. Zero means none.
	PerTaskTimeout time.Duration `yaml:"per_task_timeout" mapstructure:"per_task_timeout"`

	// BreakerWindow is the iteration window the circuit breaker observes.
	BreakerWindow int `yaml:"breaker_window" mapstructure:"breaker_window"`

	// BreakerSameTaskFailures trips the breaker after this many
	// consecutive failures on one task.
	BreakerSameTaskFailures int `yaml:"breaker_same_task_failures" mapstructure:"breaker_same_task_failures"`

	// BreakerNoProgress trips the breaker when no task closed within
	// this many iterations.
	BreakerNoProgress int `yaml:"breaker_no_progress" mapstructure:"breaker_no_progress"`

	// MainOK permits running on a branch named main/master.
	MainOK bool `yaml:"main_ok" mapstructure:"main_ok"`
}
