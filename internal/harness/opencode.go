package harness

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// OpencodeHarness invokes the opencode CLI in run mode.
type OpencodeHarness struct {
	base BaseHarness
}

// OpencodeOption configures an OpencodeHarness.
type OpencodeOption func(*OpencodeHarness)

// WithOpencodeLogger sets the logger.
func WithOpencodeLogger(logger zerolog.Logger) OpencodeOption {
	return func(h *OpencodeHarness) {
		h.base.Logger = logger
	}
}

// WithOpencodeExecutor substitutes the command executor, for tests.
func WithOpencodeExecutor(executor CommandExecutor) OpencodeOption {
	return func(h *OpencodeHarness) {
		h.base.Executor = executor
	}
}

// NewOpencodeHarness creates an opencode harness with the given configuration.
func NewOpencodeHarness(cfg *config.HarnessConfig, opts ...OpencodeOption) *OpencodeHarness {
	h := &OpencodeHarness{
		base: BaseHarness{
			Command:  "opencode",
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
func (h *OpencodeHarness) Name() string { return "opencode" }

// IsAvailable implements Harness.
func (h *OpencodeHarness) IsAvailable(_ context.Context) bool { return h.base.Available() }

// DefaultModel implements Harness.
func (h *OpencodeHarness) DefaultModel() string { return "" }

// Invoke implements Harness.
func (h *OpencodeHarness) Invoke(ctx context.Context, req *domain.HarnessRequest) (*domain.HarnessResult, error) {
	return h.base.Run(ctx, req, h.executor(req), h.parse)
}

func (h *OpencodeHarness) executor(req *domain.HarnessRequest) executeFunc {
	return func(ctx context.Context) ([]byte, []byte, error) {
		args := []string{"run", "--print-logs"}
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

func (h *OpencodeHarness) parse(stdout, stderr []byte) (*domain.HarnessResult, error) {
	resp, err := parseCLIResponse(stdout)
	if err != nil {
		return nil, err
	}
	return resp.toResult(string(stderr)), nil
}

var _ Harness = (*OpencodeHarness)(nil)
