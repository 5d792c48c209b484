package harness

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// claudeResponse matches the Claude CLI JSON output (--output-format json).
type claudeResponse struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	IsError   bool         `json:"is_error"`
	Result    string       `json:"result"`
	SessionID string       `json:"session_id"`
	Duration  int          `json:"duration_ms"`
	NumTurns  int          `json:"num_turns"`
	TotalCost float64      `json:"total_cost_usd"`
	Usage     *claudeUsage `json:"usage,omitempty"`
}

// claudeUsage is the per-invocation token split as the CLI reports it.
type claudeUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

// ClaudeHarness invokes the claude CLI in print mode.
type ClaudeHarness struct {
	base BaseHarness
}

// ClaudeOption configures a ClaudeHarness.
type ClaudeOption func(*ClaudeHarness)

// WithClaudeLogger sets the logger.
func WithClaudeLogger(logger zerolog.Logger) ClaudeOption {
	return func(h *ClaudeHarness) {
		h.base.Logger = logger
	}
}

// WithClaudeExecutor substitutes the command executor, for tests.
func WithClaudeExecutor(executor CommandExecutor) ClaudeOption {
	return func(h *ClaudeHarness) {
		h.base.Executor = executor
	}
}

// NewClaudeHarness creates a claude harness with the given configuration.
func NewClaudeHarness(cfg *config.HarnessConfig, opts ...ClaudeOption) *ClaudeHarness {
	h := &ClaudeHarness{
		base: BaseHarness{
			Command:  "claude",
			Cfg:      cfg,
			Executor: &DefaultExecutor{},
			ErrType:  errors.ErrHarnessInvocation,
			Logger:   zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Harness.
func (h *ClaudeHarness) Name() string { return "claude" }

// IsAvailable implements Harness.
func (h *ClaudeHarness) IsAvailable(_ context.Context) bool { return h.base.Available() }

// DefaultModel implements Harness. Empty: the CLI picks its own default.
func (h *ClaudeHarness) DefaultModel() string { return "" }

// Invoke implements Harness.
func (h *ClaudeHarness) Invoke(ctx context.Context, req *domain.HarnessRequest) (*domain.HarnessResult, error) {
	return h.base.Run(ctx, req, h.executor(req), h.parse)
}

func (h *ClaudeHarness) executor(req *domain.HarnessRequest) executeFunc {
	return func(ctx context.Context) ([]byte, []byte, error) {
		args := []string{
			"-p", // print mode (non-interactive)
			"--output-format", "json",
		}
		if model := h.base.ResolveModel(req, h.DefaultModel()); model != "" {
			args = append(args, "--model", model)
		}
		if req.SystemPrompt != "" {
			args = append(args, "--append-system-prompt", req.SystemPrompt)
		}

		// The task prompt goes over stdin so size never hits argv limits.
		cmd := h.base.BuildCommand(ctx, req, args, req.TaskPrompt)
		return h.base.Executor.Execute(ctx, cmd)
	}
}

func (h *ClaudeHarness) parse(stdout, stderr []byte) (*domain.HarnessResult, error) {
	if len(stdout) == 0 {
		return nil, errors.Wrap(errors.ErrHarnessInvocation, "empty response")
	}

	var resp claudeResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, errors.Wrapf(errors.ErrHarnessInvocation, "failed to parse json response: %s", err.Error())
	}

	result := &domain.HarnessResult{
		Success:   !resp.IsError,
		SessionID: resp.SessionID,
		CostUSD:   resp.TotalCost,
		Output:    resp.Result,
	}
	if resp.Usage != nil {
		result.Tokens = domain.TokenUsage{
			Input:      resp.Usage.InputTokens,
			Output:     resp.Usage.OutputTokens,
			CacheRead:  resp.Usage.CacheReadTokens,
			CacheWrite: resp.Usage.CacheCreationTokens,
			Known:      true,
		}
	}
	if resp.IsError {
		result.ErrorCategory = Classify(nil, resp.Result+"\n"+string(stderr))
		result.ErrorSummary = Summarize(nil, firstNonEmpty(resp.Result, string(stderr)))
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Harness = (*ClaudeHarness)(nil)
