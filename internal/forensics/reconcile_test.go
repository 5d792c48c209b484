package forensics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/ledger"
)

// writeSession records a canonical direct-session event stream:
// start → plan write → claim → source write → commit → close → end.
func writeSession(t *testing.T, dir, sessionID string) {
	t.Helper()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	events := []*domain.ForensicEvent{
		{Type: domain.EventSessionStart, Timestamp: base, Model: "sonnet"},
		{Type: domain.EventFileWrite, Timestamp: base.Add(time.Minute), FilePath: "plans/x.md", Tool: "Write"},
		{Type: domain.EventTaskClaim, Timestamp: base.Add(2 * time.Minute), TaskID: "proj-a-3"},
		{Type: domain.EventFileWrite, Timestamp: base.Add(3 * time.Minute), FilePath: "src/y", Tool: "Edit"},
		{Type: domain.EventGitCommit, Timestamp: base.Add(4 * time.Minute), Hash: "abc123"},
		{Type: domain.EventTaskClose, Timestamp: base.Add(5 * time.Minute), TaskID: "proj-a-3"},
		{Type: domain.EventSessionEnd, Timestamp: base.Add(6 * time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, r.Record(ctx, sessionID, e))
	}
}

func TestReconcileDirectSession(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "sess-1")

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	ctx := context.Background()

	result, err := rec.Reconcile(ctx, "sess-1", Options{})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Skipped)
	assert.Equal(t, "proj-a-3", result.TaskID)

	reader, err := ledger.NewReader(dir)
	require.NoError(t, err)
	entry, err := reader.Get(ctx, "proj-a-3")
	require.NoError(t, err)

	assert.Equal(t, domain.SourceDirectSession, entry.Source)
	require.Len(t, entry.Attempts, 1)
	attempt := entry.Attempts[0]
	assert.Equal(t, 1, attempt.Number)
	assert.Equal(t, domain.SourceDirectSession, attempt.Source)
	assert.True(t, attempt.Success)
	assert.InDelta(t, 360.0, attempt.DurationS, 0.1)
	assert.False(t, attempt.Tokens.Known, "no transcript means unknown usage")

	require.True(t, entry.Finalized())
	assert.True(t, entry.Outcome.Success)
	assert.Equal(t, []string{"plans/x.md", "src/y"}, entry.Outcome.FilesChanged)
	assert.Equal(t, []string{"abc123"}, entry.Outcome.Commits)
	assert.Equal(t, "dev_complete", string(entry.Workflow))
}

func TestReconcileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "sess-1")

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = rec.Reconcile(ctx, "sess-1", Options{})
	require.NoError(t, err)

	entryPath := ledger.NewPaths(dir).EntryPath("proj-a-3")
	before, err := os.ReadFile(entryPath)
	require.NoError(t, err)

	second, err := rec.Reconcile(ctx, "sess-1", Options{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, SkipEntryExists, second.Reason)

	after, err := os.ReadFile(entryPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "second reconciliation must not change the entry")
}

func TestReconcileForceAppends(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "sess-1")

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = rec.Reconcile(ctx, "sess-1", Options{})
	require.NoError(t, err)
	result, err := rec.Reconcile(ctx, "sess-1", Options{Force: true})
	require.NoError(t, err)
	assert.True(t, result.Created)

	reader, err := ledger.NewReader(dir)
	require.NoError(t, err)
	entry, err := reader.Get(ctx, "proj-a-3")
	require.NoError(t, err)
	assert.Len(t, entry.Attempts, 2)
}

func TestReconcileWithoutClaimSkips(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, "sess-2", &domain.ForensicEvent{
		Type:      domain.EventSessionStart,
		Timestamp: classifyNow,
	}))
	require.NoError(t, r.Record(ctx, "sess-2", &domain.ForensicEvent{
		Type:      domain.EventFileWrite,
		Timestamp: classifyNow.Add(time.Minute),
		FilePath:  "notes.md",
	}))

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	result, err := rec.Reconcile(ctx, "sess-2", Options{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipNoTaskAssociation, result.Reason)

	reader, err := ledger.NewReader(dir)
	require.NoError(t, err)
	records, err := reader.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records, "no entry is produced without a claim")
}

func TestReconcileLastClaimWins(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	for _, e := range []*domain.ForensicEvent{
		{Type: domain.EventSessionStart, Timestamp: base},
		{Type: domain.EventTaskClaim, Timestamp: base.Add(time.Minute), TaskID: "proj-a-1"},
		{Type: domain.EventTaskClaim, Timestamp: base.Add(2 * time.Minute), TaskID: "proj-a-2"},
		{Type: domain.EventTaskClose, Timestamp: base.Add(3 * time.Minute), TaskID: "proj-a-2"},
		{Type: domain.EventSessionEnd, Timestamp: base.Add(4 * time.Minute)},
	} {
		require.NoError(t, r.Record(ctx, "sess-3", e))
	}

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	result, err := rec.Reconcile(ctx, "sess-3", Options{})
	require.NoError(t, err)
	assert.Equal(t, "proj-a-2", result.TaskID)

	reader, err := ledger.NewReader(dir)
	require.NoError(t, err)
	entry, err := reader.Get(ctx, "proj-a-2")
	require.NoError(t, err)

	var abandoned []domain.StateTransition
	for _, tr := range entry.StateHistory {
		if tr.Stage == "claim_abandoned" {
			abandoned = append(abandoned, tr)
		}
	}
	require.Len(t, abandoned, 1)
	assert.Equal(t, "sess-3", abandoned[0].By)

	_, err = reader.Get(ctx, "proj-a-1")
	assert.Error(t, err, "abandoned claim produces no entry of its own")
}

func TestReconcileTranscriptTokens(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "sess-1")

	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcript, []byte(
		`{"usage":{"input_tokens":100,"output_tokens":40}}`+"\n"+
			`{"usage":{"input_tokens":50,"output_tokens":20}}`+"\n"), 0o600))

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	result, err := rec.Reconcile(context.Background(), "sess-1", Options{TranscriptPath: transcript})
	require.NoError(t, err)
	require.True(t, result.Created)

	reader, err := ledger.NewReader(dir)
	require.NoError(t, err)
	entry, err := reader.Get(context.Background(), "proj-a-3")
	require.NoError(t, err)
	require.Len(t, entry.Attempts, 1)
	assert.True(t, entry.Attempts[0].Tokens.Known)
	assert.Equal(t, int64(150), entry.Attempts[0].Tokens.Input)
	assert.Equal(t, int64(60), entry.Attempts[0].Tokens.Output)
}

func TestReconcileAll(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "sess-1")

	r, err := NewRecorder(dir)
	require.NoError(t, err)
	require.NoError(t, r.Record(context.Background(), "sess-2", &domain.ForensicEvent{
		Type:      domain.EventSessionStart,
		Timestamp: classifyNow,
	}))

	rec, err := NewReconciler(dir)
	require.NoError(t, err)
	results, err := rec.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	created, skipped := 0, 0
	for _, res := range results {
		if res.Created {
			created++
		}
		if res.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, skipped)
}
