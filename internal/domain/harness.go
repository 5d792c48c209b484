package domain

import "time"

// ErrorCategory is the closed set of harness failure categories the loop
// keys off for retry decisions.
type ErrorCategory string

const (
	// ErrorCategoryNone is the zero value for successful attempts.
	ErrorCategoryNone ErrorCategory = ""

	// ErrorCategoryHarnessMissing means the harness executable was not found.
	ErrorCategoryHarnessMissing ErrorCategory = "harness_missing"

	// ErrorCategoryAuth means the harness rejected its credentials.
	ErrorCategoryAuth ErrorCategory = "auth"

	// ErrorCategoryRateLimit means the provider throttled the request.
	ErrorCategoryRateLimit ErrorCategory = "rate_limit"

	// ErrorCategoryNetwork means a connectivity failure.
	ErrorCategoryNetwork ErrorCategory = "network"

	// ErrorCategoryTimeout means the invocation exceeded its deadline
	// or was cancelled by one.
	ErrorCategoryTimeout ErrorCategory = "timeout"

	// ErrorCategoryModelError means the harness returned a non-transient
	// model-side failure.
	ErrorCategoryModelError ErrorCategory = "model_error"

	// ErrorCategoryInternal means an unexpected harness-side failure,
	// including cooperative cancellation that was not a timeout.
	ErrorCategoryInternal ErrorCategory = "internal"

	// ErrorCategoryUnknown means the failure could not be classified.
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// Retryable reports whether the category is transient: the loop retries
// the same task in the next iteration for these.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorCategoryRateLimit, ErrorCategoryNetwork, ErrorCategoryTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether the category halts the loop immediately without
// further attempts (no harness, bad credentials).
func (c ErrorCategory) Fatal() bool {
	return c == ErrorCategoryHarnessMissing || c == ErrorCategoryAuth
}

// HarnessRequest contains the parameters for one harness invocation.
type HarnessRequest struct {
	// SystemPrompt is the composed layered system prompt.
	SystemPrompt string `json:"system_prompt"`

	// TaskPrompt is the short per-task directive.
	TaskPrompt string `json:"task_prompt"`

	// Model selects the model; empty uses the harness default.
	Model string `json:"model,omitempty"`

	// WorkingDir is the directory where the harness child runs.
	WorkingDir string `json:"working_dir"`

	// Env holds extra environment variables for the child process,
	// inherited on top of the parent environment.
	Env map[string]string `json:"env,omitempty"`

	// LogPath is the harness-log sink. The complete raw child output
	// must be written here before Invoke returns.
	LogPath string `json:"log_path"`

	// Stream requests incremental output delivery; when false the
	// harness may batch.
	Stream bool `json:"stream,omitempty"`

	// Timeout bounds the invocation; zero means no per-task deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// TokenUsage is a per-attempt token split. Known reports whether the
// harness emitted usage at all; unknown usage is treated as zero by the
// accountant but flagged on the attempt.
type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
	Known      bool  `json:"known"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output
}

// HarnessResult captures the outcome of one harness invocation.
type HarnessResult struct {
	// Success indicates the harness completed without error.
	Success bool `json:"success"`

	// ExitCode is the child process exit code.
	ExitCode int `json:"exit_code"`

	// SessionID identifies the assistant session when reported.
	SessionID string `json:"session_id,omitempty"`

	// Tokens is the token split for the invocation.
	Tokens TokenUsage `json:"tokens"`

	// CostUSD is the reported cost; zero with Tokens.Known=false means
	// the harness did not emit usage.
	CostUSD float64 `json:"cost_usd"`

	// Duration is the wall-clock invocation time.
	Duration time.Duration `json:"duration"`

	// OutputPath is where the raw child output was written.
	OutputPath string `json:"output_path,omitempty"`

	// Output is the assistant's final text response, when parseable.
	Output string `json:"output,omitempty"`

	// ErrorCategory classifies a failure; empty on success.
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`

	// ErrorSummary is a short failure description; empty on success.
	ErrorSummary string `json:"error_summary,omitempty"`
}
