package forensics

import (
	"context"
	stderrors "errors"
	"os"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/ledger"
)

// Skip reasons reported by reconciliation.
const (
	SkipNoTaskAssociation = "no_task_association"
	SkipEntryExists       = "entry_exists"
)

// TaskGetter is the slice of the task backend the reconciler needs.
type TaskGetter interface {
	Get(ctx context.Context, id string) (*domain.Task, error)
}

// Reconciler converts per-session forensics logs into ledger entries.
type Reconciler struct {
	recorder *Recorder
	writer   *ledger.Writer
	reader   *ledger.Reader
	tasks    TaskGetter
	clk      clock.Clock
	logger   zerolog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithReconcilerClock sets the clock.
func WithReconcilerClock(clk clock.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		r.clk = clk
	}
}

// WithTaskGetter lets the reconciler snapshot real task data. Without it,
// entries carry a minimal snapshot built from the claimed id.
func WithTaskGetter(tasks TaskGetter) ReconcilerOption {
	return func(r *Reconciler) {
		r.tasks = tasks
	}
}

// NewReconciler creates a reconciler over one project's ledger.
func NewReconciler(projectDir string, opts ...ReconcilerOption) (*Reconciler, error) {
	recorder, err := NewRecorder(projectDir)
	if err != nil {
		return nil, err
	}
	writer, err := ledger.NewWriter(projectDir)
	if err != nil {
		return nil, err
	}
	reader, err := ledger.NewReader(projectDir)
	if err != nil {
		return nil, err
	}
	r := &Reconciler{
		recorder: recorder,
		writer:   writer,
		reader:   reader,
		clk:      clock.RealClock{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Options controls one reconciliation pass.
type Options struct {
	// Force reconciles even when a ledger entry already exists for the
	// claimed task, appending to it instead of skipping.
	Force bool

	// TranscriptPath, when set, is scanned for token-usage markers to
	// fill in the synthesized attempt's token split.
	TranscriptPath string
}

// Result describes what one reconciliation did.
type Result struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	Created   bool   `json:"created"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// Reconcile converts one session's forensics into a ledger entry. A session
// without a task claim yields nothing; an existing entry is skipped unless
// forced. Running twice without force is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, opts Options) (Result, error) {
	result := Result{SessionID: sessionID}

	events, err := r.recorder.ReadSession(sessionID)
	if err != nil {
		return result, err
	}

	var claims []domain.ForensicEvent
	for _, e := range events {
		if e.Type == domain.EventTaskClaim {
			claims = append(claims, e)
		}
	}
	if len(claims) == 0 {
		result.Skipped = true
		result.Reason = SkipNoTaskAssociation
		return result, nil
	}

	// Last claim wins; earlier claims become state-history notes.
	taskID := claims[len(claims)-1].TaskID
	result.TaskID = taskID

	if _, getErr := r.reader.Get(ctx, taskID); getErr == nil && !opts.Force {
		result.Skipped = true
		result.Reason = SkipEntryExists
		return result, nil
	} else if getErr != nil && !stderrors.Is(getErr, cuberrors.ErrEntryNotFound) {
		return result, getErr
	}

	task := r.taskSnapshot(ctx, taskID, events)
	if _, err = r.writer.CreateTaskEntry(ctx, task, domain.Lineage{}, "", domain.SourceDirectSession); err != nil {
		return result, err
	}

	attempt, closed := r.synthesizeAttempt(sessionID, events, opts.TranscriptPath)
	if err = r.writer.AppendAttempt(ctx, taskID, attempt); err != nil {
		return result, err
	}

	for _, claim := range claims[:len(claims)-1] {
		if err = r.writer.AppendStateHistory(ctx, taskID, domain.StateTransition{
			Stage:  "claim_abandoned",
			At:     claim.Timestamp,
			By:     sessionID,
			Reason: "superseded by claim of " + taskID,
		}); err != nil {
			return result, err
		}
	}

	outcome := domain.Outcome{
		Success:      closed,
		Partial:      !closed,
		CompletedAt:  attempt.CompletedAt,
		FilesChanged: filesChanged(events),
		Commits:      commitHashes(events),
	}
	if err = r.writer.FinalizeTaskEntry(ctx, taskID, outcome, nil, nil); err != nil {
		return result, err
	}

	result.Created = true
	r.logger.Info().Str("session_id", sessionID).Str("task_id", taskID).
		Bool("closed", closed).Msg("reconciled direct session")
	return result, nil
}

// ReconcileAll runs over every recorded session.
func (r *Reconciler) ReconcileAll(ctx context.Context, opts Options) ([]Result, error) {
	sessions, err := r.recorder.Sessions()
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(sessions))
	for _, id := range sessions {
		res, recErr := r.Reconcile(ctx, id, opts)
		if recErr != nil {
			r.logger.Warn().Str("session_id", id).Err(recErr).Msg("reconciliation failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// taskSnapshot fetches the claimed task from the backend, falling back to a
// minimal record when the backend no longer knows the id.
func (r *Reconciler) taskSnapshot(ctx context.Context, taskID string, events []domain.ForensicEvent) *domain.Task {
	if r.tasks != nil {
		if t, err := r.tasks.Get(ctx, taskID); err == nil {
			return t
		}
	}

	created := r.clk.Now().UTC()
	for _, e := range events {
		if e.Type == domain.EventSessionStart {
			created = e.Timestamp
			break
		}
	}
	return &domain.Task{
		ID:        taskID,
		Title:     taskID,
		Type:      constants.TaskTypeTask,
		Status:    constants.TaskStatusClosed,
		CreatedAt: created,
	}
}

// synthesizeAttempt builds the single attempt a direct session produces.
func (r *Reconciler) synthesizeAttempt(sessionID string, events []domain.ForensicEvent, transcriptPath string) (domain.Attempt, bool) {
	start := events[0].Timestamp
	end := events[len(events)-1].Timestamp
	model := ""
	closed := false
	for _, e := range events {
		switch e.Type {
		case domain.EventSessionStart:
			start = e.Timestamp
			model = e.Model
		case domain.EventSessionEnd:
			end = e.Timestamp
		case domain.EventTaskClose:
			closed = true
		}
	}

	attempt := domain.Attempt{
		Source:      domain.SourceDirectSession,
		StartedAt:   start,
		CompletedAt: end,
		Model:       model,
		Success:     closed,
		DurationS:   end.Sub(start).Seconds(),
	}
	if transcriptPath != "" {
		if usage, err := scanTranscriptTokens(transcriptPath); err == nil {
			attempt.Tokens = usage
		} else {
			r.logger.Warn().Str("session_id", sessionID).Err(err).Msg("transcript token scan failed")
		}
	}
	return attempt, closed
}

func filesChanged(events []domain.ForensicEvent) []string {
	seen := make(map[string]bool)
	var files []string
	for _, e := range events {
		if e.Type != domain.EventFileWrite || e.FilePath == "" || seen[e.FilePath] {
			continue
		}
		seen[e.FilePath] = true
		files = append(files, e.FilePath)
	}
	return files
}

func commitHashes(events []domain.ForensicEvent) []string {
	var hashes []string
	for _, e := range events {
		if e.Type == domain.EventGitCommit && e.Hash != "" {
			hashes = append(hashes, e.Hash)
		}
	}
	return hashes
}

var (
	inputTokensRe  = regexp.MustCompile(`"input_tokens"\s*:\s*([0-9]+)`)
	outputTokensRe = regexp.MustCompile(`"output_tokens"\s*:\s*([0-9]+)`)
)

// scanTranscriptTokens extracts a token split from an assistant transcript
// by summing every usage marker. The counts are approximate; the transcript
// is the only record a direct session leaves.
func scanTranscriptTokens(path string) (domain.TokenUsage, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return domain.TokenUsage{}, err
	}

	var usage domain.TokenUsage
	for _, m := range inputTokensRe.FindAllSubmatch(data, -1) {
		n, _ := strconv.ParseInt(string(m[1]), 10, 64)
		usage.Input += n
		usage.Known = true
	}
	for _, m := range outputTokensRe.FindAllSubmatch(data, -1) {
		n, _ := strconv.ParseInt(string(m[1]), 10, 64)
		usage.Output += n
		usage.Known = true
	}
	return usage, nil
}
