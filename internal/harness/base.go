package harness

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
)

// executeFunc performs one raw subprocess invocation.
type executeFunc func(ctx context.Context) (stdout, stderr []byte, err error)

// parseFunc converts raw child output into a normalized result.
type parseFunc func(stdout, stderr []byte) (*domain.HarnessResult, error)

// BaseHarness provides the shared invocation machinery for CLI harnesses:
// timeout resolution, transient-error retry with exponential backoff,
// harness-log persistence, and failure classification. Provider
// implementations embed it and supply command building plus response
// parsing.
type BaseHarness struct {
	Command  string
	Cfg      *config.HarnessConfig
	Executor CommandExecutor
	ErrType  error
	Logger   zerolog.Logger

	// RetryInterval overrides the initial backoff between transient-error
	// retries. Zero uses the default; tests set it low.
	RetryInterval time.Duration
}

// Available reports whether the CLI executable is on PATH.
func (b *BaseHarness) Available() bool {
	_, err := exec.LookPath(b.Command)
	return err == nil
}

// ResolveTimeout determines the invocation deadline.
// Priority: request timeout > config timeout > default. Zero disables it.
func (b *BaseHarness) ResolveTimeout(req *domain.HarnessRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if b.Cfg != nil && b.Cfg.Timeout > 0 {
		return b.Cfg.Timeout
	}
	return constants.DefaultHarnessTimeout
}

// ResolveModel determines the model for a request.
// Priority: request model > config model > harness default.
func (b *BaseHarness) ResolveModel(req *domain.HarnessRequest, defaultModel string) string {
	if req.Model != "" {
		return req.Model
	}
	if b.Cfg != nil && b.Cfg.Model != "" {
		return b.Cfg.Model
	}
	return defaultModel
}

// BuildCommand constructs the child process with the request's working
// directory and environment overlay applied.
func (b *BaseHarness) BuildCommand(ctx context.Context, req *domain.HarnessRequest, args []string, stdin string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.Command, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return cmd
}

// Run executes a request with timeout and retry handling, then normalizes
// the outcome. Transient failures (rate limit, network) are retried with
// exponential backoff inside the request deadline; everything else is
// permanent. Classified failures come back in the result with a nil error;
// the error return is reserved for cooperative cancellation.
func (b *BaseHarness) Run(ctx context.Context, req *domain.HarnessRequest, execute executeFunc, parse parseFunc) (*domain.HarnessResult, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	runCtx := ctx
	if timeout := b.ResolveTimeout(req); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var stdout, stderr []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = constants.InitialBackoff
	if b.RetryInterval > 0 {
		bo.InitialInterval = b.RetryInterval
	}
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // bounded by runCtx, not wall time

	attempt := 0
	operation := func() error {
		attempt++
		var execErr error
		stdout, stderr, execErr = execute(runCtx)
		if execErr == nil {
			return nil
		}

		category := Classify(execErr, string(stderr))
		if category == domain.ErrorCategoryRateLimit || category == domain.ErrorCategoryNetwork {
			b.Logger.Warn().
				Err(execErr).
				Str("harness", b.Command).
				Str("category", string(category)).
				Int("attempt", attempt).
				Msg("transient harness failure, will retry")
			return execErr
		}
		return backoff.Permanent(execErr)
	}

	execErr := backoff.Retry(operation,
		backoff.WithMaxRetries(backoff.WithContext(bo, runCtx), uint64(constants.MaxHarnessRetries-1)))
	duration := time.Since(start)

	// The raw child output must be on disk before we return, success or not.
	if logErr := writeHarnessLog(req.LogPath, stdout, stderr); logErr != nil {
		b.Logger.Error().Err(logErr).Str("path", req.LogPath).Msg("failed to write harness log")
	}

	if execErr != nil {
		// Operator interrupt propagates; the loop owns that shutdown path.
		if ctx.Err() != nil && !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		category := Classify(execErr, string(stderr))
		// The deadline kills the child with a signal; the exec error alone
		// does not say "timeout", the expired context does.
		if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
			category = domain.ErrorCategoryTimeout
		}
		return b.failureResult(req, execErr, category, stdout, stderr, duration, parse), nil
	}

	result, parseErr := parse(stdout, stderr)
	if parseErr != nil {
		result = &domain.HarnessResult{
			Success:       false,
			ErrorCategory: domain.ErrorCategoryUnknown,
			ErrorSummary:  truncate(fmt.Sprintf("unparseable response: %v", parseErr), 200),
		}
	}
	result.Duration = duration
	result.OutputPath = req.LogPath
	return result, nil
}

// failureResult normalizes an execution failure. The child may still have
// emitted a valid JSON error body on stdout; prefer its diagnostics when it
// parses as a failure.
func (b *BaseHarness) failureResult(req *domain.HarnessRequest, execErr error, category domain.ErrorCategory, stdout, stderr []byte, duration time.Duration, parse parseFunc) *domain.HarnessResult {
	result := &domain.HarnessResult{
		Success:       false,
		ExitCode:      exitCode(execErr),
		ErrorCategory: category,
		ErrorSummary:  Summarize(execErr, string(stderr)),
	}

	if len(stdout) > 0 && parse != nil {
		if parsed, err := parse(stdout, stderr); err == nil && !parsed.Success {
			parsed.ExitCode = result.ExitCode
			if parsed.ErrorCategory == domain.ErrorCategoryNone {
				parsed.ErrorCategory = category
			}
			if parsed.ErrorSummary == "" {
				parsed.ErrorSummary = result.ErrorSummary
			}
			result = parsed
		}
	}

	result.Duration = duration
	result.OutputPath = req.LogPath
	return result
}

// exitCode extracts the child exit code: 0 on success, the reported code
// for exits, -1 when the process never ran or was killed.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
