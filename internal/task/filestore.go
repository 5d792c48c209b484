package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

// FileBackend implements Backend over a line-delimited JSON file at
// {project}/.cub/tasks.jsonl. One task per line.
//
// Mutations acquire an advisory file lock (tasks.lock) for cross-process
// safety plus an in-process mutex; reads are lock-free snapshots.
type FileBackend struct {
	dir    string // usually {project}/.cub
	mu     sync.Mutex
	clk    clock.Clock
	logger zerolog.Logger
}

// FileBackendOption configures a FileBackend.
type FileBackendOption func(*FileBackend)

// WithClock sets the clock used for timestamps.
func WithClock(clk clock.Clock) FileBackendOption {
	return func(b *FileBackend) {
		b.clk = clk
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger zerolog.Logger) FileBackendOption {
	return func(b *FileBackend) {
		b.logger = logger
	}
}

// NewFileBackend creates a FileBackend rooted at dir (the .cub directory).
// The directory is created if missing.
func NewFileBackend(dir string, opts ...FileBackendOption) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("backend dir %w", cuberrors.ErrEmptyValue)
	}
	if err := os.MkdirAll(dir, constants.DirPerm); err != nil {
		return nil, cuberrors.Wrap(err, "failed to create backend directory")
	}
	b := &FileBackend{
		dir:    dir,
		clk:    clock.RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *FileBackend) tasksPath() string {
	return filepath.Join(b.dir, constants.TasksFileName)
}

func (b *FileBackend) lockPath() string {
	return filepath.Join(b.dir, constants.TasksLockName)
}

// load reads the full task set into a map keyed by id. A missing file
// yields an empty map.
func (b *FileBackend) load() (map[string]*domain.Task, error) {
	f, err := os.Open(b.tasksPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*domain.Task{}, nil
		}
		return nil, cuberrors.Wrap(err, "failed to open task store")
	}
	defer func() { _ = f.Close() }()

	tasks := make(map[string]*domain.Task)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			b.logger.Warn().Int("line", line).Err(err).Msg("skipping malformed task line")
			continue
		}
		tasks[t.ID] = &t
	}
	if err := scanner.Err(); err != nil {
		return nil, cuberrors.Wrap(err, "failed to read task store")
	}
	return tasks, nil
}

// save writes the full task set back, one JSON document per line, ordered
// by id for stable diffs. Uses temp-file + rename atomicity.
func (b *FileBackend) save(tasks map[string]*domain.Task) error {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf strings.Builder
	for _, id := range ids {
		data, err := json.Marshal(tasks[id])
		if err != nil {
			return cuberrors.Wrapf(err, "failed to marshal task %s", id)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return atomicWrite(b.tasksPath(), []byte(buf.String()))
}

// withLock acquires the advisory file lock and the in-process mutex, then
// runs fn with a freshly loaded task map. fn returns whether the map was
// mutated and should be saved.
func (b *FileBackend) withLock(ctx context.Context, fn func(tasks map[string]*domain.Task) (bool, error)) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fl := flock.New(b.lockPath())
	lockCtx, cancel := context.WithTimeout(ctx, constants.LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, constants.LockRetryInterval)
	if err != nil || !locked {
		return cuberrors.Wrapf(cuberrors.ErrLockTimeout, "task store lock %s", b.lockPath())
	}
	defer func() { _ = fl.Unlock() }()

	tasks, err := b.load()
	if err != nil {
		return err
	}
	dirty, err := fn(tasks)
	if err != nil {
		return err
	}
	if dirty {
		return b.save(tasks)
	}
	return nil
}

// Ready implements Backend.
func (b *FileBackend) Ready(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}

	var ready []*domain.Task
	for _, t := range tasks {
		if !matchesFilter(t, filter, tasks) {
			continue
		}
		if isReady(t, tasks) {
			ready = append(ready, t)
		}
	}
	sortByPriority(ready)
	return ready, nil
}

// Get implements Backend.
func (b *FileBackend) Get(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	t, ok := tasks[id]
	if !ok {
		return nil, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
	}
	return t, nil
}

// Claim implements Backend. The transition is atomic under the store lock:
// a claim on an in_progress task reports ErrClaimRace, a claim on a closed
// task reports ErrTaskNotOpen.
func (b *FileBackend) Claim(ctx context.Context, id, sessionID string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		switch t.Status {
		case constants.TaskStatusInProgress:
			return false, cuberrors.Wrapf(cuberrors.ErrClaimRace, "task %s claimed by %s", id, t.ClaimedBy)
		case constants.TaskStatusClosed:
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotOpen, "task %s is closed", id)
		case constants.TaskStatusOpen:
			// fallthrough to claim
		}
		t.Status = constants.TaskStatusInProgress
		t.ClaimedBy = sessionID
		t.UpdatedAt = b.clk.Now().UTC()
		b.logger.Debug().Str("task_id", id).Str("session", sessionID).Msg("task claimed")
		return true, nil
	})
}

// Close implements Backend.
func (b *FileBackend) Close(ctx context.Context, id, reason string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		if t.Status == constants.TaskStatusClosed {
			// Close is idempotent; keep the original reason.
			return false, nil
		}
		now := b.clk.Now().UTC()
		t.Status = constants.TaskStatusClosed
		t.CloseReason = reason
		t.ClaimedBy = ""
		t.ClosedAt = &now
		t.UpdatedAt = now
		b.logger.Debug().Str("task_id", id).Str("reason", reason).Msg("task closed")
		return true, nil
	})
}

// Reopen implements Backend.
func (b *FileBackend) Reopen(ctx context.Context, id, reason string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		t.Status = constants.TaskStatusOpen
		t.CloseReason = ""
		t.ClaimedBy = ""
		t.ClosedAt = nil
		t.Notes = appendNote(t.Notes, "reopened: "+reason)
		t.UpdatedAt = b.clk.Now().UTC()
		return true, nil
	})
}

// Update implements Backend.
func (b *FileBackend) Update(ctx context.Context, id string, patch domain.TaskPatch) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		applyPatch(t, patch)
		t.UpdatedAt = b.clk.Now().UTC()
		return true, nil
	})
}

// Create implements Backend. The id must pass ValidateID and referenced
// parent/dependency ids must exist.
func (b *FileBackend) Create(ctx context.Context, nt *domain.Task) error {
	if err := ValidateID(nt.ID); err != nil {
		return err
	}
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		if _, ok := tasks[nt.ID]; ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskExists, "task %s", nt.ID)
		}
		if nt.Parent != "" {
			if _, ok := tasks[nt.Parent]; !ok {
				return false, cuberrors.Wrapf(cuberrors.ErrTaskBroken, "parent %s of %s", nt.Parent, nt.ID)
			}
		}
		for _, dep := range nt.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return false, cuberrors.Wrapf(cuberrors.ErrTaskBroken, "dependency %s of %s", dep, nt.ID)
			}
		}
		now := b.clk.Now().UTC()
		if nt.CreatedAt.IsZero() {
			nt.CreatedAt = now
		}
		nt.UpdatedAt = now
		if nt.Status == "" {
			nt.Status = constants.TaskStatusOpen
		}
		if nt.Type == "" {
			nt.Type = constants.TaskTypeTask
		}
		tasks[nt.ID] = nt
		return true, nil
	})
}

// Delete implements Backend.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		if _, ok := tasks[id]; !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		delete(tasks, id)
		return true, nil
	})
}

// List implements Backend.
func (b *FileBackend) List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []*domain.Task
	for _, t := range tasks {
		if matchesFilter(t, filter, tasks) {
			out = append(out, t)
		}
	}
	sortByPriority(out)
	return out, nil
}

// Search implements Backend.
func (b *FileBackend) Search(ctx context.Context, query string) ([]*domain.Task, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []*domain.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.ID), q) ||
			strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	sortByPriority(out)
	return out, nil
}

// Counts implements Backend.
func (b *FileBackend) Counts(ctx context.Context) (domain.TaskCounts, error) {
	var counts domain.TaskCounts
	if err := ctxutil.Canceled(ctx); err != nil {
		return counts, err
	}
	tasks, err := b.load()
	if err != nil {
		return counts, err
	}
	for _, t := range tasks {
		switch t.Status {
		case constants.TaskStatusOpen:
			counts.Open++
		case constants.TaskStatusInProgress:
			counts.InProgress++
		case constants.TaskStatusClosed:
			counts.Closed++
		}
	}
	counts.Total = len(tasks)
	return counts, nil
}

// Blocked implements Backend. Returns open tasks that are not ready,
// mapped to the ids blocking them.
func (b *FileBackend) Blocked(ctx context.Context) (map[string][]string, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	blocked := make(map[string][]string)
	for _, t := range tasks {
		if t.Status != constants.TaskStatusOpen {
			continue
		}
		blockers := blockingIDs(t, tasks)
		if len(blockers) > 0 {
			sort.Strings(blockers)
			blocked[t.ID] = blockers
		}
	}
	return blocked, nil
}

// AddDep implements Backend. Rejects missing targets and cycles.
func (b *FileBackend) AddDep(ctx context.Context, id, dep string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		if _, ok := tasks[dep]; !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "dependency %s", dep)
		}
		for _, existing := range t.DependsOn {
			if existing == dep {
				return false, nil
			}
		}
		if reachable(tasks, dep, id) {
			return false, cuberrors.Wrapf(cuberrors.ErrDependencyCycle, "%s -> %s", id, dep)
		}
		t.DependsOn = append(t.DependsOn, dep)
		sort.Strings(t.DependsOn)
		t.UpdatedAt = b.clk.Now().UTC()
		return true, nil
	})
}

// RemoveDep implements Backend.
func (b *FileBackend) RemoveDep(ctx context.Context, id, dep string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		out := t.DependsOn[:0]
		removed := false
		for _, existing := range t.DependsOn {
			if existing == dep {
				removed = true
				continue
			}
			out = append(out, existing)
		}
		t.DependsOn = out
		if removed {
			t.UpdatedAt = b.clk.Now().UTC()
		}
		return removed, nil
	})
}

// Deps implements Backend.
func (b *FileBackend) Deps(ctx context.Context, id string) ([]string, error) {
	t, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.DependsOn...), nil
}

// AddLabel implements Backend.
func (b *FileBackend) AddLabel(ctx context.Context, id, label string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		if t.HasLabel(label) {
			return false, nil
		}
		t.Labels = append(t.Labels, label)
		sort.Strings(t.Labels)
		t.UpdatedAt = b.clk.Now().UTC()
		return true, nil
	})
}

// RemoveLabel implements Backend.
func (b *FileBackend) RemoveLabel(ctx context.Context, id, label string) error {
	return b.withLock(ctx, func(tasks map[string]*domain.Task) (bool, error) {
		t, ok := tasks[id]
		if !ok {
			return false, cuberrors.Wrapf(cuberrors.ErrTaskNotFound, "task %s", id)
		}
		out := t.Labels[:0]
		removed := false
		for _, existing := range t.Labels {
			if existing == label {
				removed = true
				continue
			}
			out = append(out, existing)
		}
		t.Labels = out
		if removed {
			t.UpdatedAt = b.clk.Now().UTC()
		}
		return removed, nil
	})
}

// Labels implements Backend.
func (b *FileBackend) Labels(ctx context.Context, id string) ([]string, error) {
	t, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.Labels...), nil
}

// atomicWrite writes data to path via a sibling temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return cuberrors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cuberrors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cuberrors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return cuberrors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, constants.FilePerm); err != nil {
		return cuberrors.Wrap(err, "failed to chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return cuberrors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func applyPatch(t *domain.Task, patch domain.TaskPatch) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Parent != nil {
		t.Parent = *patch.Parent
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.Notes != nil {
		t.Notes = *patch.Notes
	}
	if patch.Approved != nil {
		t.Approved = *patch.Approved
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
}

// Compile-time check that FileBackend implements Backend.
var _ Backend = (*FileBackend)(nil)
