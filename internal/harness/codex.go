package harness

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// CodexHarness invokes the codex CLI in exec mode.
type CodexHarness struct {
	base BaseHarness
}

// CodexOption configures a CodexHarness.
type CodexOption func(*CodexHarness)

// WithCodexLogger sets the logger.
func WithCodexLogger(logger zerolog.Logger) CodexOption {
	return func(h *CodexHarness) {
		h.base.Logger = logger
	}
}

// WithCodexExecutor substitutes the command executor, for tests.
func WithCodexExecutor(executor CommandExecutor) CodexOption {
	return func(h *CodexHarness) {
		h.base.Executor = executor
	}
}

// NewCodexHarness creates a codex harness with the given configuration.
func NewCodexHarness(cfg *config.HarnessConfig, opts ...CodexOption) *CodexHarness {
	h := &CodexHarness{
		base: BaseHarness{
			Command:  "codex",
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
func (h *CodexHarness) Name() string { return "codex" }

// IsAvailable implements Harness.
func (h *CodexHarness) IsAvailable(_ context.Context) bool { return h.base.Available() }

// DefaultModel implements Harness.
func (h *CodexHarness) DefaultModel() string { return "" }

// Invoke implements Harness.
func (h *CodexHarness) Invoke(ctx context.Context, req *domain.HarnessRequest) (*domain.HarnessResult, error) {
	return h.base.Run(ctx, req, h.executor(req), h.parse)
}

func (h *CodexHarness) executor(req *domain.HarnessRequest) executeFunc {
	return func(ctx context.Context) ([]byte, []byte, error) {
		args := []string{"exec", "--json"}
		if model := h.base.ResolveModel(req, h.DefaultModel()); model != "" {
			args = append(args, "--model", model)
		}
		// Codex has no separate system-prompt flag; prepend it to the
		// prompt body.
		prompt := req.TaskPrompt
		if req.SystemPrompt != "" {
			prompt = req.SystemPrompt + "\n\n" + prompt
		}

		cmd := h.base.BuildCommand(ctx, req, args, prompt)
		return h.base.Executor.Execute(ctx, cmd)
	}
}

func (h *CodexHarness) parse(stdout, stderr []byte) (*domain.HarnessResult, error) {
	resp, err := parseCLIResponse(stdout)
	if err != nil {
		return nil, err
	}
	return resp.toResult(string(stderr)), nil
}

var _ Harness = (*CodexHarness)(nil)
