// Package gate implements the clean-state checks run before each loop
// iteration.
//
// The gate runs a fixed sequence: nesting, vcs-clean, tests, typecheck,
// lint. Each check passes, warns, or fails; the sequence stops at the first
// failure. The nesting check is always on, the rest are configured. The
// same command checks can also be replayed in report-only mode to produce a
// verification record at ledger finalize time.
package gate

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/git"
)

// Status is one check's verdict.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Check names, in execution order.
const (
	CheckNesting   = "nesting"
	CheckVCSClean  = "vcs_clean"
	CheckTests     = "tests"
	CheckTypecheck = "typecheck"
	CheckLint      = "lint"
)

// CheckResult is one check's outcome.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Report is the ordered result of one gate run.
type Report struct {
	Results []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	return r.Failure() != nil
}

// Failure returns the first failed check, or nil.
func (r *Report) Failure() *CheckResult {
	for i := range r.Results {
		if r.Results[i].Status == StatusFail {
			return &r.Results[i]
		}
	}
	return nil
}

// Warnings returns the details of all warn-status checks.
func (r *Report) Warnings() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusWarn {
			out = append(out, fmt.Sprintf("%s: %s", res.Name, res.Detail))
		}
	}
	return out
}

// CommandRunner executes one configured check command in the project
// directory. A non-nil error with no exit interpretation means the command
// could not run at all.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (output []byte, exitCode int, err error)
}

// ShellRunner runs check commands through the shell, matching how they are
// written in config (pipes, &&, env vars).
type ShellRunner struct{}

var _ CommandRunner = ShellRunner{}

// Run executes the command via sh -c and returns combined output.
func (ShellRunner) Run(ctx context.Context, dir, command string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command) //#nosec G204 -- command comes from project config
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return out, exitErr.ExitCode(), nil
		}
		return out, -1, err
	}
	return out, 0, nil
}

// Gate evaluates the check sequence for one project.
type Gate struct {
	cfg        config.GateConfig
	projectDir string
	runner     CommandRunner
	clk        clock.Clock
	logger     zerolog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithRunner replaces the command runner, used by tests.
func WithRunner(runner CommandRunner) Option {
	return func(g *Gate) {
		g.runner = runner
	}
}

// WithClock replaces the clock.
func WithClock(clk clock.Clock) Option {
	return func(g *Gate) {
		g.clk = clk
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate for a project directory.
func New(projectDir string, cfg config.GateConfig, opts ...Option) *Gate {
	g := &Gate{
		cfg:        cfg,
		projectDir: projectDir,
		runner:     ShellRunner{},
		clk:        clock.RealClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes the check sequence, stopping at the first failure.
func (g *Gate) Run(ctx context.Context) (*Report, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, check := range g.checks() {
		start := time.Now()
		result := check(ctx)
		result.Duration = time.Since(start)
		report.Results = append(report.Results, result)

		g.logger.Debug().
			Str("check", result.Name).
			Str("status", string(result.Status)).
			Str("detail", result.Detail).
			Msg("gate check")

		if result.Status == StatusFail {
			break
		}
	}
	return report, nil
}

// Verify replays the command checks in report-only mode for the ledger's
// verification record. Nothing stops early and failures do not halt anything.
func (g *Gate) Verify(ctx context.Context) *domain.Verification {
	started := g.clk.Now()
	v := &domain.Verification{
		Status:    constants.VerificationSkip,
		StartedAt: &started,
	}

	type commandCheck struct {
		name    string
		command string
		flag    *bool
	}
	checks := []commandCheck{
		{CheckTests, g.cfg.TestCommand, &v.Tests},
		{CheckTypecheck, g.cfg.TypecheckCommand, &v.Typecheck},
		{CheckLint, g.cfg.LintCommand, &v.Lint},
	}

	var notes []string
	anyRan, anyFailed := false, false
	for _, c := range checks {
		if c.command == "" {
			continue
		}
		anyRan = true
		result := g.runCommand(ctx, c.name, c.command)
		*c.flag = result.Status == StatusPass
		if result.Status != StatusPass {
			anyFailed = true
			notes = append(notes, fmt.Sprintf("%s: %s", c.name, result.Detail))
		}
	}

	if anyRan {
		v.Status = constants.VerificationPass
		if anyFailed {
			v.Status = constants.VerificationFail
		}
	}
	v.Notes = strings.Join(notes, "; ")
	completed := g.clk.Now()
	v.CompletedAt = &completed
	return v
}

type checkFunc func(ctx context.Context) CheckResult

// checks returns the sequence in fixed order. Disabled checks report skip
// so the sequence stays visible in reports.
func (g *Gate) checks() []checkFunc {
	return []checkFunc{
		g.checkNesting,
		g.checkVCSClean,
		func(ctx context.Context) CheckResult { return g.commandCheck(ctx, CheckTests, g.cfg.TestCommand) },
		func(ctx context.Context) CheckResult {
			return g.commandCheck(ctx, CheckTypecheck, g.cfg.TypecheckCommand)
		},
		func(ctx context.Context) CheckResult { return g.commandCheck(ctx, CheckLint, g.cfg.LintCommand) },
	}
}

// checkNesting refuses to run inside another loop's harness invocation.
// Always on.
func (g *Gate) checkNesting(context.Context) CheckResult {
	if run := os.Getenv(constants.EnvRunActive); run != "" {
		return CheckResult{
			Name:   CheckNesting,
			Status: StatusFail,
			Detail: fmt.Sprintf("a parent run is already active (%s=%s)", constants.EnvRunActive, run),
		}
	}
	return CheckResult{Name: CheckNesting, Status: StatusPass}
}

func (g *Gate) checkVCSClean(ctx context.Context) CheckResult {
	if !g.cfg.RequireClean {
		return CheckResult{Name: CheckVCSClean, Status: StatusSkip}
	}
	if !git.IsRepo(ctx, g.projectDir) {
		return CheckResult{
			Name:   CheckVCSClean,
			Status: StatusWarn,
			Detail: "not a git repository",
		}
	}
	clean, err := git.IsClean(ctx, g.projectDir, g.cfg.TrackedOnly)
	if err != nil {
		return CheckResult{Name: CheckVCSClean, Status: StatusFail, Detail: err.Error()}
	}
	if !clean {
		return CheckResult{
			Name:   CheckVCSClean,
			Status: StatusFail,
			Detail: "working directory has uncommitted changes",
		}
	}
	return CheckResult{Name: CheckVCSClean, Status: StatusPass}
}

// commandCheck runs one configured command under the check timeout. Empty
// commands report skip.
func (g *Gate) commandCheck(ctx context.Context, name, command string) CheckResult {
	if command == "" {
		return CheckResult{Name: name, Status: StatusSkip}
	}
	return g.runCommand(ctx, name, command)
}

func (g *Gate) runCommand(ctx context.Context, name, command string) CheckResult {
	timeout := g.cfg.CheckTimeout
	if timeout <= 0 {
		timeout = constants.DefaultCheckTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, exitCode, err := g.runner.Run(runCtx, g.projectDir, command)
	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return CheckResult{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("timed out after %s", timeout),
		}
	}
	if err != nil {
		return CheckResult{Name: name, Status: StatusFail, Detail: err.Error()}
	}
	if exitCode != 0 {
		return CheckResult{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("exit %d: %s", exitCode, lastLine(output)),
		}
	}
	return CheckResult{Name: name, Status: StatusPass}
}

// lastLine returns the final non-empty output line, the part most likely to
// carry the failure summary.
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
