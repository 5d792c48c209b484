// Package runloop implements the top-level iteration state machine: gate,
// select, compose, dispatch, record, post-check, with a finalization path
// that always runs.
package runloop

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/breaker"
	"github.com/cubtools/cub/internal/budget"
	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/config"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/gate"
	"github.com/cubtools/cub/internal/git"
	"github.com/cubtools/cub/internal/harness"
	"github.com/cubtools/cub/internal/ledger"
	"github.com/cubtools/cub/internal/prompt"
	"github.com/cubtools/cub/internal/task"
)

// RunOptions are the per-invocation settings from flags and config.
type RunOptions struct {
	// Once ends the loop after a single iteration.
	Once bool

	// Harness overrides the configured harness name.
	Harness string

	// Model overrides the model; per-task "model:<name>" labels still win.
	Model string

	// Filter restricts task selection.
	Filter domain.TaskFilter

	// Limits are the run budgets.
	Limits domain.BudgetLimits

	// Stream requests incremental harness output.
	Stream bool

	// PerTaskTimeout bounds each harness invocation; zero falls back to
	// config, then the built-in default.
	PerTaskTimeout time.Duration
}

// Loop wires the orchestration components for one project.
type Loop struct {
	projectDir string
	cfg        *config.Config

	backend  task.Backend
	registry *harness.Registry
	composer *prompt.Composer
	writer   *ledger.Writer
	reader   *ledger.Reader
	gate     *gate.Gate
	sessions *SessionManager

	clk    clock.Clock
	logger zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithBackend replaces the task backend.
func WithBackend(b task.Backend) Option {
	return func(l *Loop) {
		l.backend = b
	}
}

// WithRegistry replaces the harness registry.
func WithRegistry(r *harness.Registry) Option {
	return func(l *Loop) {
		l.registry = r
	}
}

// WithGate replaces the clean-state gate.
func WithGate(g *gate.Gate) Option {
	return func(l *Loop) {
		l.gate = g
	}
}

// WithLoopClock replaces the clock.
func WithLoopClock(clk clock.Clock) Option {
	return func(l *Loop) {
		l.clk = clk
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New assembles a loop for a project directory. Components not replaced by
// options are built with their defaults.
func New(projectDir string, cfg *config.Config, opts ...Option) (*Loop, error) {
	if cfg == nil {
		return nil, cuberrors.ErrConfigNil
	}
	l := &Loop{
		projectDir: projectDir,
		cfg:        cfg,
		clk:        clock.RealClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	var err error
	if l.backend == nil {
		l.backend, err = task.NewFileBackend(filepath.Join(projectDir, constants.CubDir))
		if err != nil {
			return nil, err
		}
	}
	if l.registry == nil {
		l.registry = harness.NewDefaultRegistry(&cfg.Harness, l.logger)
	}
	if l.gate == nil {
		l.gate = gate.New(projectDir, cfg.Gate, gate.WithLogger(l.logger))
	}
	l.composer, err = prompt.NewComposer(projectDir, prompt.WithComposerLogger(l.logger))
	if err != nil {
		return nil, err
	}
	l.writer, err = ledger.NewWriter(projectDir, ledger.WithWriterClock(l.clk), ledger.WithWriterLogger(l.logger))
	if err != nil {
		return nil, err
	}
	l.reader, err = ledger.NewReader(projectDir, ledger.WithReaderLogger(l.logger))
	if err != nil {
		return nil, err
	}
	l.sessions, err = NewSessionManager(projectDir, WithSessionClock(l.clk), WithSessionLogger(l.logger))
	if err != nil {
		return nil, err
	}
	return l, nil
}

// runState carries the mutable pieces of one Run invocation.
type runState struct {
	sess       *domain.RunSession
	opts       RunOptions
	h          harness.Harness
	accountant *budget.Accountant
	brk        *breaker.Breaker

	// retryTask carries an unfinished task into the next iteration.
	// Claimed tasks leave the ready set, so selection must remember them.
	retryTask string

	// taskFailures counts consecutive failed attempts per task, for
	// escalation.
	taskFailures map[string]int

	// escalations records the model ladder actually walked per task.
	escalations map[string][]string
}

// Run drives the state machine to completion and returns the final session.
// The returned error is reserved for failures before the session exists;
// everything after Init is reported through the session's phase and reason.
func (l *Loop) Run(ctx context.Context, opts RunOptions) (*domain.RunSession, error) {
	harnessName := opts.Harness
	if harnessName == "" {
		harnessName = l.cfg.Harness.Name
	}
	h, err := l.registry.Get(harnessName)
	if err != nil {
		return nil, err
	}

	sess := &domain.RunSession{
		Harness:    harnessName,
		Model:      opts.Model,
		ProjectDir: l.projectDir,
		Filters:    opts.Filter,
		Limits:     opts.Limits,
	}
	sess.ID = l.sessions.NewRunID()
	if err := l.sessions.Start(sess); err != nil {
		return nil, err
	}

	st := &runState{
		sess:         sess,
		opts:         opts,
		h:            h,
		accountant:   budget.NewAccountant(opts.Limits, budget.WithLogger(l.logger)),
		brk: breaker.New(l.cfg.Loop.BreakerWindow, l.cfg.Loop.BreakerSameTaskFailures,
			l.cfg.Loop.BreakerNoProgress, breaker.WithLogger(l.logger)),
		taskFailures: make(map[string]int),
		escalations:  make(map[string][]string),
	}

	defer l.finalize(st)

	if !h.IsAvailable(ctx) {
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonHarnessUnavailable)
		l.logger.Error().Str("harness", harnessName).Msg("harness is not available")
		return sess, nil
	}

	sess.Phase = constants.RunPhaseRunning
	l.saveSession(st)
	l.iterate(ctx, st)
	return sess, nil
}

// iterate is the Prechecks → PostCheck cycle. It returns when a terminal
// phase has been set on the session.
func (l *Loop) iterate(ctx context.Context, st *runState) {
	for {
		if l.interrupted(ctx, st) {
			return
		}

		// Prechecks
		report, err := l.gate.Run(ctx)
		if err != nil {
			if l.interrupted(ctx, st) {
				return
			}
			l.stop(st, constants.RunPhaseFailed, constants.StopReasonPrecheckFailed)
			return
		}
		if failure := report.Failure(); failure != nil {
			l.logger.Error().Str("check", failure.Name).Str("detail", failure.Detail).Msg("precheck failed")
			st.sess.Warnings = append(st.sess.Warnings,
				fmt.Sprintf("%s: %s", failure.Name, failure.Detail))
			l.stop(st, constants.RunPhaseFailed, constants.StopReasonPrecheckFailed)
			return
		}
		st.sess.Warnings = append(st.sess.Warnings, report.Warnings()...)

		// Select
		t, done := l.selectTask(ctx, st)
		if done {
			return
		}

		st.accountant.StartIteration()
		if !l.runIteration(ctx, st, t) {
			return
		}

		// PostCheck
		if exhausted, reason := st.accountant.Exhausted(); exhausted {
			st.sess.Warnings = append(st.sess.Warnings, reason)
			l.stop(st, constants.RunPhaseStopped, constants.StopReasonBudgetExhausted)
			return
		}
		if tripped, reason := st.brk.Tripped(); tripped {
			st.sess.Warnings = append(st.sess.Warnings, reason)
			l.stop(st, constants.RunPhaseStopped, constants.StopReasonStagnation)
			return
		}
		if st.opts.Once {
			l.stop(st, constants.RunPhaseCompleted, constants.StopReasonOnce)
			return
		}
	}
}

// selectTask asks the backend for the next ready task. The second return is
// true when the loop should end; the terminal phase is already set.
func (l *Loop) selectTask(ctx context.Context, st *runState) (*domain.Task, bool) {
	if id := st.opts.Filter.ID; id != "" {
		t, err := l.backend.Get(ctx, id)
		if err != nil {
			l.logger.Error().Str("task", id).Err(err).Msg("explicit task not found")
			l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
			return nil, true
		}
		if t.Status == constants.TaskStatusClosed {
			l.stop(st, constants.RunPhaseCompleted, constants.StopReasonTaskClosed)
			return nil, true
		}
	}

	if st.retryTask != "" {
		t, err := l.backend.Get(ctx, st.retryTask)
		st.retryTask = ""
		if err == nil && t.Status != constants.TaskStatusClosed {
			return t, false
		}
	}

	ready, err := l.backend.Ready(ctx, st.opts.Filter)
	if err != nil {
		l.logger.Error().Err(err).Msg("task backend ready query failed")
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return nil, true
	}
	if len(ready) == 0 {
		l.stop(st, constants.RunPhaseCompleted, constants.StopReasonNoReadyTasks)
		return nil, true
	}
	return ready[0], false
}

// runIteration is Compose → Dispatch → Record for one task. Returns false
// when a terminal phase has been set.
func (l *Loop) runIteration(ctx context.Context, st *runState, t *domain.Task) bool {
	sess := st.sess
	sess.CurrentTask = t.ID
	l.saveSession(st)
	defer func() {
		sess.CurrentTask = ""
	}()

	// Compose
	entry, err := l.writer.CreateTaskEntry(ctx, t, domain.Lineage{}, sess.ID, domain.SourceLoop)
	if err != nil {
		l.logger.Error().Str("task", t.ID).Err(err).Msg("ledger entry creation failed")
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return false
	}
	attemptNumber := entry.NextAttemptNumber()

	epic, siblings := l.epicContext(ctx, t)
	composed, err := l.composer.Compose(ctx, prompt.Input{
		Task:             t,
		Lineage:          entry.Lineage,
		Epic:             epic,
		Siblings:         siblings,
		PreviousAttempts: entry.Attempts,
	})
	if err != nil {
		if l.interrupted(ctx, st) {
			return false
		}
		l.logger.Error().Str("task", t.ID).Err(err).Msg("prompt composition failed")
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return false
	}

	model := l.resolveModel(st, t)
	logPath, err := l.writer.HarnessLogPath(t.ID, attemptNumber)
	if err != nil {
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return false
	}
	fm := ledger.PromptFrontmatter{
		TaskID:     t.ID,
		Attempt:    attemptNumber,
		RunID:      sess.ID,
		Harness:    sess.Harness,
		Model:      model,
		ComposedAt: l.clk.Now().UTC(),
		Layers:     composed.Layers,
	}
	if _, err := l.writer.WritePromptFile(ctx, t.ID, attemptNumber, composed.SystemPrompt, fm); err != nil {
		l.logger.Warn().Str("task", t.ID).Err(err).Msg("prompt file write failed")
	}

	// Dispatch
	if !l.claim(ctx, st, t.ID) {
		return false
	}
	headBefore, _ := git.HeadCommit(ctx, l.projectDir)

	started := l.clk.Now().UTC()
	result, invokeErr := st.h.Invoke(ctx, &domain.HarnessRequest{
		SystemPrompt: composed.SystemPrompt,
		TaskPrompt:   composed.TaskPrompt,
		Model:        model,
		WorkingDir:   l.projectDir,
		Env:          map[string]string{constants.EnvRunActive: sess.ID},
		LogPath:      logPath,
		Stream:       st.opts.Stream,
		Timeout:      l.perTaskTimeout(st),
	})
	attempt := l.appraise(ctx, result, invokeErr, started)
	attempt.RunID = sess.ID
	attempt.Source = domain.SourceLoop
	attempt.Harness = sess.Harness
	attempt.Model = model

	// Record. The attempt is always captured before any halt decision, so
	// recording survives a cancelled loop context.
	recordCtx := context.WithoutCancel(ctx)
	warnings := st.accountant.RecordAttempt(attempt)
	sess.Warnings = append(sess.Warnings, warnings...)
	if err := l.writer.AppendAttempt(recordCtx, t.ID, attempt); err != nil {
		l.logger.Error().Str("task", t.ID).Err(err).Msg("attempt append failed")
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return false
	}

	closed := l.taskClosed(recordCtx, t.ID)
	if closed {
		st.accountant.RecordTaskCompleted()
		st.taskFailures[t.ID] = 0
		l.finalizeEntry(recordCtx, st, t, headBefore)
	} else {
		st.retryTask = t.ID
		if !attempt.Success {
			st.taskFailures[t.ID]++
		}
	}

	st.brk.Record(breaker.Outcome{
		TaskID:        t.ID,
		Success:       attempt.Success,
		Closed:        closed,
		ErrorCategory: attempt.ErrorCategory,
	})
	sess.Usage = st.accountant.Usage()
	sess.Iterations = append(sess.Iterations, domain.IterationSummary{
		Number:        len(sess.Iterations) + 1,
		TaskID:        t.ID,
		Success:       attempt.Success,
		Closed:        closed,
		ErrorCategory: attempt.ErrorCategory,
		CostUSD:       attempt.CostUSD,
		DurationS:     attempt.DurationS,
	})
	l.saveSession(st)

	if l.interrupted(ctx, st) {
		return false
	}
	if attempt.ErrorCategory.Fatal() {
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonHarnessUnavailable)
		return false
	}
	return true
}

// claim takes the task, retrying once on a lost race. A task already held
// by this session, from a previous failed attempt, needs no new claim.
func (l *Loop) claim(ctx context.Context, st *runState, taskID string) bool {
	if t, err := l.backend.Get(ctx, taskID); err == nil &&
		t.Status == constants.TaskStatusInProgress && t.ClaimedBy == st.sess.ID {
		return true
	}

	err := l.backend.Claim(ctx, taskID, st.sess.ID)
	if stderrors.Is(err, cuberrors.ErrClaimRace) {
		l.logger.Warn().Str("task", taskID).Msg("claim race, retrying once")
		err = l.backend.Claim(ctx, taskID, st.sess.ID)
	}
	if err != nil {
		l.logger.Error().Str("task", taskID).Err(err).Msg("claim failed")
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
		return false
	}
	return true
}

// appraise turns an Invoke return into an Attempt record. A classified
// failure arrives as a result; an error return means cooperative
// cancellation.
func (l *Loop) appraise(ctx context.Context, result *domain.HarnessResult, invokeErr error, started time.Time) domain.Attempt {
	completed := l.clk.Now().UTC()
	attempt := domain.Attempt{
		StartedAt:   started,
		CompletedAt: completed,
		DurationS:   completed.Sub(started).Seconds(),
	}

	switch {
	case invokeErr != nil:
		attempt.Success = false
		if ctx.Err() != nil {
			attempt.ErrorCategory = domain.ErrorCategoryTimeout
			attempt.ErrorSummary = "cancelled by interrupt"
		} else {
			attempt.ErrorCategory = domain.ErrorCategoryInternal
			attempt.ErrorSummary = invokeErr.Error()
		}
	case result != nil:
		attempt.Success = result.Success
		attempt.ErrorCategory = result.ErrorCategory
		attempt.ErrorSummary = result.ErrorSummary
		attempt.Tokens = result.Tokens
		attempt.CostUSD = result.CostUSD
		if result.Duration > 0 {
			attempt.DurationS = result.Duration.Seconds()
		}
	default:
		attempt.Success = false
		attempt.ErrorCategory = domain.ErrorCategoryInternal
		attempt.ErrorSummary = "harness returned no result"
	}
	return attempt
}

// finalizeEntry computes the outcome for a closed task and finalizes its
// ledger entry, with verification run in report-only mode.
func (l *Loop) finalizeEntry(ctx context.Context, st *runState, t *domain.Task, headBefore string) {
	outcome := domain.Outcome{
		Success:    true,
		Escalation: st.escalations[t.ID],
	}
	if files, err := git.ChangedFiles(ctx, l.projectDir, "HEAD"); err == nil {
		outcome.FilesChanged = files
	}
	if commits, err := git.CommitsSince(ctx, l.projectDir, headBefore); err == nil {
		outcome.Commits = commits
	}

	verification := l.gate.Verify(ctx)
	if err := l.writer.FinalizeTaskEntry(ctx, t.ID, outcome, nil, verification); err != nil {
		l.logger.Error().Str("task", t.ID).Err(err).Msg("ledger finalize failed")
		return
	}
	if t.Parent != "" {
		l.aggregateEpic(ctx, t.Parent)
	}
}

// aggregateEpic refreshes the parent's aggregation entry after a child
// finalize. The epic entry is created on first use; a parent id absent from
// the backend is tolerated, since lineage may outlive the parent task.
func (l *Loop) aggregateEpic(ctx context.Context, parentID string) {
	parent, err := l.backend.Get(ctx, parentID)
	if err != nil {
		if !stderrors.Is(err, cuberrors.ErrTaskNotFound) {
			l.logger.Warn().Str("epic", parentID).Err(err).Msg("epic parent lookup failed")
		}
		return
	}
	if err := l.writer.UpsertEpic(ctx, parent); err != nil {
		l.logger.Warn().Str("epic", parentID).Err(err).Msg("epic upsert failed")
		return
	}
	if err := l.writer.RecomputeEpicAggregates(ctx, parentID); err != nil {
		l.logger.Warn().Str("epic", parentID).Err(err).Msg("epic aggregate recompute failed")
	}
}

// resolveModel applies the precedence: task label, run flag, config, then
// the escalation ladder after repeated failures.
func (l *Loop) resolveModel(st *runState, t *domain.Task) string {
	if override := t.ModelOverride(); override != "" {
		return override
	}

	model := st.opts.Model
	if model == "" {
		model = l.cfg.Harness.Model
	}

	ladder := l.cfg.Harness.Escalation
	after := l.cfg.Harness.EscalateAfter
	if len(ladder) == 0 || after < 1 {
		return model
	}
	failures := st.taskFailures[t.ID]
	if failures < after {
		return model
	}
	step := failures - after
	if step >= len(ladder) {
		step = len(ladder) - 1
	}
	escalated := ladder[step]
	if escalated != model {
		path := st.escalations[t.ID]
		if len(path) == 0 {
			path = append(path, model)
		}
		if path[len(path)-1] != escalated {
			path = append(path, escalated)
		}
		st.escalations[t.ID] = path
		l.logger.Info().Str("task", t.ID).Str("model", escalated).Msg("escalating model after repeated failures")
	}
	return escalated
}

// epicContext fetches the parent epic and its children for the prompt, best
// effort.
func (l *Loop) epicContext(ctx context.Context, t *domain.Task) (*domain.Task, []*domain.Task) {
	if t.Parent == "" {
		return nil, nil
	}
	epic, err := l.backend.Get(ctx, t.Parent)
	if err != nil {
		return nil, nil
	}
	siblings, err := l.backend.List(ctx, domain.TaskFilter{Parent: t.Parent})
	if err != nil {
		return epic, nil
	}
	return epic, siblings
}

func (l *Loop) perTaskTimeout(st *runState) time.Duration {
	if st.opts.PerTaskTimeout > 0 {
		return st.opts.PerTaskTimeout
	}
	return l.cfg.Loop.PerTaskTimeout
}

func (l *Loop) taskClosed(ctx context.Context, taskID string) bool {
	t, err := l.backend.Get(ctx, taskID)
	return err == nil && t.Status == constants.TaskStatusClosed
}

// interrupted checks for loop-level cancellation and records the stop.
func (l *Loop) interrupted(ctx context.Context, st *runState) bool {
	if ctx.Err() == nil {
		return false
	}
	l.stop(st, constants.RunPhaseStopped, constants.StopReasonInterrupted)
	return true
}

// stop sets the terminal phase once; later calls do not overwrite it.
func (l *Loop) stop(st *runState, phase constants.RunPhase, reason constants.StopReason) {
	if st.sess.Terminal() {
		return
	}
	st.sess.Phase = phase
	st.sess.StopReason = reason
	l.logger.Info().
		Str("run_id", st.sess.ID).
		Str("phase", string(phase)).
		Str("reason", string(reason)).
		Msg("run ended")
}

// finalize always runs: flush the index, stamp the session, clear the
// designator. Failures here are logged, never raised.
func (l *Loop) finalize(st *runState) {
	if !st.sess.Terminal() {
		l.stop(st, constants.RunPhaseFailed, constants.StopReasonBackendError)
	}
	st.sess.Usage = st.accountant.Usage()
	st.sess.CurrentTask = ""

	if err := l.writer.RebuildIndex(context.Background()); err != nil {
		l.logger.Warn().Err(err).Msg("index flush failed during finalization")
	}
	if err := l.sessions.Finalize(st.sess); err != nil {
		l.logger.Warn().Err(err).Msg("run-session finalization failed")
	}
}

func (l *Loop) saveSession(st *runState) {
	if err := l.sessions.Save(st.sess); err != nil {
		l.logger.Warn().Err(err).Msg("run-session save failed")
	}
}

// ExitCode maps a final session to the process exit code.
func ExitCode(sess *domain.RunSession) int {
	if sess == nil {
		return constants.ExitFailure
	}
	switch sess.Phase {
	case constants.RunPhaseCompleted, constants.RunPhaseStopped:
		return constants.ExitOK
	default:
		return constants.ExitFailure
	}
}
