package forensics

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/ledger"
)

// Recorder appends normalized events to per-session JSONL logs under the
// ledger root.
type Recorder struct {
	paths  ledger.Paths
	logger zerolog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger.
func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder for a project directory.
func NewRecorder(projectDir string, opts ...RecorderOption) (*Recorder, error) {
	if projectDir == "" {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "project dir")
	}
	r := &Recorder{
		paths:  ledger.NewPaths(projectDir),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// StandDown reports whether hook recording is suppressed because a parent
// loop session owns tracking for this process tree.
func StandDown() bool {
	return os.Getenv(constants.EnvRunActive) != ""
}

// Record appends one event to the session's log. A set CUB_RUN_ACTIVE makes
// this a silent no-op: the loop already records everything, and double
// tracking would corrupt reconciliation.
func (r *Recorder) Record(ctx context.Context, sessionID string, event *domain.ForensicEvent) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}
	if StandDown() {
		return nil
	}
	if sessionID == "" {
		return cuberrors.Wrap(cuberrors.ErrEmptyValue, "session id")
	}

	path := r.paths.ForensicsPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPerm); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.FilePerm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err = f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadSession loads a session's events in file order, skipping malformed
// lines with a warning. A missing file yields ErrRunSessionNotFound.
func (r *Recorder) ReadSession(sessionID string) ([]domain.ForensicEvent, error) {
	f, err := os.Open(r.paths.ForensicsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cuberrors.Wrapf(cuberrors.ErrRunSessionNotFound, "forensics for %s", sessionID)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var events []domain.ForensicEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var event domain.ForensicEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			r.logger.Warn().Str("session_id", sessionID).Int("line", line).Err(err).
				Msg("skipping malformed forensic event")
			continue
		}
		if event.Type == "" {
			r.logger.Warn().Str("session_id", sessionID).Int("line", line).
				Msg("skipping forensic event without type")
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Sessions lists every session id with a forensics log.
func (r *Recorder) Sessions() ([]string, error) {
	entries, err := os.ReadDir(r.paths.ForensicsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	return ids, nil
}
