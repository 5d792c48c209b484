package runloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

func newTestManager(t *testing.T) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestStartInstallsDesignator(t *testing.T) {
	m := newTestManager(t)
	sess := &domain.RunSession{ID: m.NewRunID(), Harness: "claude"}

	require.NoError(t, m.Start(sess))
	assert.Equal(t, os.Getpid(), sess.PID)
	assert.Equal(t, constants.RunPhaseInitializing, sess.Phase)

	active, err := m.ActiveRun()
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active)
}

func TestFinalizeClearsDesignator(t *testing.T) {
	m := newTestManager(t)
	sess := &domain.RunSession{ID: m.NewRunID()}
	require.NoError(t, m.Start(sess))

	sess.Phase = constants.RunPhaseCompleted
	require.NoError(t, m.Finalize(sess))

	active, err := m.ActiveRun()
	require.NoError(t, err)
	assert.Empty(t, active)

	loaded, err := m.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunPhaseCompleted, loaded.Phase)
	require.NotNil(t, loaded.CompletedAt)
}

func TestStartRefusesLiveActiveRun(t *testing.T) {
	m := newTestManager(t)
	first := &domain.RunSession{ID: "cub-20260824-100000"}
	require.NoError(t, m.Start(first))

	// The first session's PID is this test process, which is alive.
	second := &domain.RunSession{ID: "cub-20260824-100001"}
	err := m.Start(second)
	require.ErrorIs(t, err, cuberrors.ErrNestedRun)
}

func TestStartTakesOverDeadActiveRun(t *testing.T) {
	m := newTestManager(t)
	stale := &domain.RunSession{ID: "cub-20260824-090000"}
	require.NoError(t, m.Start(stale))

	// Rewrite the stale session with a PID that cannot exist.
	stale.PID = 1 << 30
	stale.Phase = constants.RunPhaseRunning
	require.NoError(t, m.Save(stale))

	takeover := &domain.RunSession{ID: "cub-20260824-100000"}
	require.NoError(t, m.Start(takeover))

	active, err := m.ActiveRun()
	require.NoError(t, err)
	assert.Equal(t, takeover.ID, active)

	orphaned, err := m.Load(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunPhaseOrphaned, orphaned.Phase)
}

func TestNewRunIDCollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	fixed := clock.Fixed{T: time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)}
	m, err := NewSessionManager(dir, WithSessionClock(fixed))
	require.NoError(t, err)

	first := m.NewRunID()
	assert.Equal(t, "cub-20260824-153000", first)
	require.NoError(t, m.Start(&domain.RunSession{ID: first}))

	second := m.NewRunID()
	assert.NotEqual(t, first, second)
	assert.Contains(t, second, first+"-")
}

func TestLoadMissingSession(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Load("cub-20260101-000000")
	require.ErrorIs(t, err, cuberrors.ErrRunSessionNotFound)
}

func TestListSessions(t *testing.T) {
	m := newTestManager(t)
	ids, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, m.Start(&domain.RunSession{ID: "cub-20260824-100000"}))
	require.NoError(t, m.Finalize(&domain.RunSession{ID: "cub-20260824-100000", Phase: constants.RunPhaseCompleted}))
	require.NoError(t, m.Start(&domain.RunSession{ID: "cub-20260824-110000"}))

	ids, err = m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"cub-20260824-100000", "cub-20260824-110000"}, ids)
}

func TestFiltersRoundTrip(t *testing.T) {
	m := newTestManager(t)
	sess := &domain.RunSession{
		ID:      "cub-20260824-100000",
		Filters: domain.TaskFilter{ID: "proj-a-1", Parent: "proj-a", Label: "pr"},
	}
	require.NoError(t, m.Start(sess))

	loaded, err := m.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Filters, loaded.Filters)
}
