package forensics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
	"github.com/cubtools/cub/internal/ledger"
)

func TestRecorderAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	ctx := context.Background()

	events := []*domain.ForensicEvent{
		{Type: domain.EventSessionStart, Timestamp: classifyNow, Model: "sonnet"},
		{Type: domain.EventTaskClaim, Timestamp: classifyNow.Add(time.Minute), TaskID: "proj-a-3"},
		{Type: domain.EventSessionEnd, Timestamp: classifyNow.Add(2 * time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, r.Record(ctx, "sess-1", e))
	}

	got, err := r.ReadSession("sess-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventTaskClaim, got[1].Type)
	assert.Equal(t, "proj-a-3", got[1].TaskID)

	sessions, err := r.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, sessions)
}

func TestRecorderStandsDownDuringRun(t *testing.T) {
	t.Setenv(constants.EnvRunActive, "cub-20260824-120000")

	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)

	require.NoError(t, r.Record(context.Background(), "sess-1", &domain.ForensicEvent{
		Type:      domain.EventFileWrite,
		Timestamp: classifyNow,
		FilePath:  "src/x.go",
	}))

	// Nothing was written: the parent loop owns tracking.
	_, err = r.ReadSession("sess-1")
	assert.ErrorIs(t, err, cuberrors.ErrRunSessionNotFound)
}

func TestReadSessionSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	require.NoError(t, r.Record(context.Background(), "sess-1", &domain.ForensicEvent{
		Type:      domain.EventSessionStart,
		Timestamp: classifyNow,
	}))

	path := ledger.NewPaths(dir).ForensicsPath("sess-1")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n{\"timestamp\":\"2026-08-24T12:05:00Z\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, r.Record(context.Background(), "sess-1", &domain.ForensicEvent{
		Type:      domain.EventSessionEnd,
		Timestamp: classifyNow.Add(time.Minute),
	}))

	got, err := r.ReadSession("sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2, "malformed and typeless lines are skipped")
	assert.Equal(t, domain.EventSessionStart, got[0].Type)
	assert.Equal(t, domain.EventSessionEnd, got[1].Type)
}

func TestRecorderRejectsEmptySession(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	err = r.Record(context.Background(), "", &domain.ForensicEvent{Type: domain.EventSessionStart})
	assert.ErrorIs(t, err, cuberrors.ErrEmptyValue)
}
