package runloop

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

// SessionManager owns the run-session files and the active-run designator
// under {project}/.cub/run-sessions/.
//
// The designator is a plain marker file whose content is the active run id.
// On startup a designator pointing at a dead process marks that session
// orphaned and ownership passes to the new run.
type SessionManager struct {
	projectDir string
	clk        clock.Clock
	logger     zerolog.Logger
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock replaces the clock.
func WithSessionClock(clk clock.Clock) SessionOption {
	return func(m *SessionManager) {
		m.clk = clk
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// NewSessionManager creates a manager rooted at a project directory.
func NewSessionManager(projectDir string, opts ...SessionOption) (*SessionManager, error) {
	if projectDir == "" {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "project dir")
	}
	m := &SessionManager{
		projectDir: projectDir,
		clk:        clock.RealClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *SessionManager) sessionsDir() string {
	return filepath.Join(m.projectDir, constants.CubDir, constants.RunSessionsDir)
}

func (m *SessionManager) sessionPath(runID string) string {
	return filepath.Join(m.sessionsDir(), runID+".json")
}

func (m *SessionManager) activeRunPath() string {
	return filepath.Join(m.projectDir, constants.CubDir, constants.ActiveRunName)
}

// NewRunID allocates a timestamped run id. A same-second collision with an
// existing session gets a random suffix.
func (m *SessionManager) NewRunID() string {
	id := "cub-" + m.clk.Now().UTC().Format("20060102-150405")
	if _, err := os.Stat(m.sessionPath(id)); err == nil {
		id += "-" + uuid.NewString()[:8]
	}
	return id
}

// Start persists a new session and installs the active-run designator.
// A designator owned by a live process refuses the start; a stale one is
// marked orphaned and taken over.
func (m *SessionManager) Start(sess *domain.RunSession) error {
	if sess.ID == "" {
		return cuberrors.Wrap(cuberrors.ErrEmptyValue, "run id")
	}
	if err := os.MkdirAll(m.sessionsDir(), constants.DirPerm); err != nil {
		return cuberrors.Wrap(err, "create run-sessions dir")
	}

	if prev, err := m.ActiveRun(); err == nil && prev != "" && prev != sess.ID {
		if m.processAlive(prev) {
			return fmt.Errorf("run %s is already active: %w", prev, cuberrors.ErrNestedRun)
		}
		m.orphan(prev)
	}

	sess.Version = constants.RunSessionSchemaVersion
	sess.PID = os.Getpid()
	sess.StartedAt = m.clk.Now().UTC()
	sess.Phase = constants.RunPhaseInitializing
	if err := m.Save(sess); err != nil {
		return err
	}
	if err := writeFileAtomic(m.activeRunPath(), []byte(sess.ID+"\n")); err != nil {
		return cuberrors.Wrap(err, "install active-run designator")
	}
	return nil
}

// Save persists the session document.
func (m *SessionManager) Save(sess *domain.RunSession) error {
	sess.FilterTask = sess.Filters.ID
	sess.FilterParent = sess.Filters.Parent
	sess.FilterLabel = sess.Filters.Label

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return cuberrors.Wrap(err, "marshal run session")
	}
	return writeFileAtomic(m.sessionPath(sess.ID), append(data, '\n'))
}

// Finalize stamps completion, persists, and clears the designator when this
// session owns it. Never returns before attempting the clear.
func (m *SessionManager) Finalize(sess *domain.RunSession) error {
	now := m.clk.Now().UTC()
	sess.CompletedAt = &now
	saveErr := m.Save(sess)

	if active, err := m.ActiveRun(); err == nil && active == sess.ID {
		if err := os.Remove(m.activeRunPath()); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear active-run designator")
		}
	}
	return saveErr
}

// Load reads one session document by run id.
func (m *SessionManager) Load(runID string) (*domain.RunSession, error) {
	data, err := os.ReadFile(m.sessionPath(runID)) //#nosec G304 -- path derived from run id under project state
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cuberrors.Wrapf(cuberrors.ErrRunSessionNotFound, "run %s", runID)
		}
		return nil, cuberrors.Wrap(err, "read run session")
	}
	var sess domain.RunSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, cuberrors.Wrap(err, "decode run session")
	}
	sess.Filters = domain.TaskFilter{
		ID:     sess.FilterTask,
		Parent: sess.FilterParent,
		Label:  sess.FilterLabel,
	}
	return &sess, nil
}

// List returns all recorded run ids, lexically ordered (which is
// chronological for timestamped ids).
func (m *SessionManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cuberrors.Wrap(err, "read run-sessions dir")
	}
	var ids []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

// ActiveRun returns the run id named by the designator, or empty when none
// is installed.
func (m *SessionManager) ActiveRun() (string, error) {
	data, err := os.ReadFile(m.activeRunPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", cuberrors.Wrap(err, "read active-run designator")
	}
	return strings.TrimSpace(string(data)), nil
}

// processAlive reports whether the session's recorded PID still exists.
func (m *SessionManager) processAlive(runID string) bool {
	sess, err := m.Load(runID)
	if err != nil || sess.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(sess.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || stderrors.Is(err, syscall.EPERM)
}

// orphan marks an abandoned session and logs the takeover.
func (m *SessionManager) orphan(runID string) {
	sess, err := m.Load(runID)
	if err != nil {
		m.logger.Warn().Str("run_id", runID).Err(err).Msg("stale active-run points at unreadable session")
		return
	}
	if sess.Terminal() {
		return
	}
	sess.Phase = constants.RunPhaseOrphaned
	now := m.clk.Now().UTC()
	sess.CompletedAt = &now
	if err := m.Save(sess); err != nil {
		m.logger.Warn().Str("run_id", runID).Err(err).Msg("failed to mark session orphaned")
		return
	}
	m.logger.Info().Str("run_id", runID).Int("pid", sess.PID).Msg("marked dead run session orphaned")
}

// writeFileAtomic writes via a sibling temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), constants.FilePerm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
