package harness

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// GeminiHarness invokes the gemini CLI in non-interactive JSON mode.
type GeminiHarness struct {
	base BaseHarness
}

// GeminiOption configures a GeminiHarness.
type GeminiOption func(*GeminiHarness)

// WithGeminiLogger sets the logger.
func WithGeminiLogger(logger zerolog.Logger) GeminiOption {
	return func(h *GeminiHarness) {
		h.base.Logger = logger
	}
}

// WithGeminiExecutor substitutes the command executor, for tests.
func WithGeminiExecutor(executor CommandExecutor) GeminiOption {
	return func(h *GeminiHarness) {
		h.base.Executor = executor
	}
}

// NewGeminiHarness creates a gemini harness with the given configuration.
func NewGeminiHarness(cfg *config.HarnessConfig, opts ...GeminiOption) *GeminiHarness {
	h := &GeminiHarness{
		base: BaseHarness{
			Command:  "gemini",
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
func (h *GeminiHarness) Name() string { return "gemini" }

// IsAvailable implements Harness.
func (h *GeminiHarness) IsAvailable(_ context.Context) bool { return h.base.Available() }

// DefaultModel implements Harness.
func (h *GeminiHarness) DefaultModel() string { return "" }

// Invoke implements Harness.
func (h *GeminiHarness) Invoke(ctx context.Context, req *domain.HarnessRequest) (*domain.HarnessResult, error) {
	return h.base.Run(ctx, req, h.executor(req), h.parse)
}

func (h *GeminiHarness) executor(req *domain.HarnessRequest) executeFunc {
	return func(ctx context.Context) ([]byte, []byte, error) {
		args := []string{"--output-format", "json"}
		if model := h.base.ResolveModel(req, h.DefaultModel()); model != "" {
			args = append(args, "--model", model)
		}
		prompt := req.TaskPrompt
		if req.SystemPrompt != "" {
			prompt = req.SystemPrompt + "\n\n" + prompt
		}

		cmd := h.base.BuildCommand(ctx, req, args, prompt)
		return h.base.Executor.Execute(ctx, cmd)
	}
}

func (h *GeminiHarness) parse(stdout, stderr []byte) (*domain.HarnessResult, error) {
	resp, err := parseCLIResponse(stdout)
	if err != nil {
		return nil, err
	}
	return resp.toResult(string(stderr)), nil
}

var _ Harness = (*GeminiHarness)(nil)
