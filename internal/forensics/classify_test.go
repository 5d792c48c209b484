package forensics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/domain"
)

var classifyNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestClassifySessionLifecycle(t *testing.T) {
	start, ok := Classify(&domain.HookEnvelope{
		HookEventName: "SessionStart",
		SessionID:     "sess-1",
		Model:         "sonnet",
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventSessionStart, start.Type)
	assert.Equal(t, "sonnet", start.Model)
	assert.Equal(t, classifyNow, start.Timestamp)

	end, ok := Classify(&domain.HookEnvelope{
		HookEventName: "Stop",
		Reason:        "done",
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventSessionEnd, end.Type)
	assert.Equal(t, "done", end.Reason)
}

func TestClassifyFileWrite(t *testing.T) {
	event, ok := Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Edit",
		ToolInput:     map[string]any{"file_path": "src/store.go"},
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventFileWrite, event.Type)
	assert.Equal(t, "src/store.go", event.FilePath)
	assert.Equal(t, "Edit", event.Tool)

	_, ok = Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Write",
		ToolInput:     map[string]any{},
	}, classifyNow)
	assert.False(t, ok, "write without a path records nothing")
}

func TestClassifyBashCommands(t *testing.T) {
	claim, ok := Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": "cub task claim proj-a-3"},
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventTaskClaim, claim.Type)
	assert.Equal(t, "proj-a-3", claim.TaskID)

	closeEvent, ok := Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": `cub task close proj-a-3 --reason "all tests pass"`},
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventTaskClose, closeEvent.Type)
	assert.Equal(t, "proj-a-3", closeEvent.TaskID)
	assert.Equal(t, "all tests pass", closeEvent.Reason)

	commit, ok := Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": `git commit -m "fix the store"`},
		ToolResponse:  map[string]any{"output": "[main abc1234] fix the store\n 1 file changed"},
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventGitCommit, commit.Type)
	assert.Equal(t, "abc1234", commit.Hash)
	assert.Equal(t, "fix the store", commit.Message)

	_, ok = Classify(&domain.HookEnvelope{
		HookEventName: "PostToolUse",
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": "ls -la"},
	}, classifyNow)
	assert.False(t, ok, "unrelated shell commands record nothing")
}

func TestClassifyPromptSubmit(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'p'
	}
	event, ok := Classify(&domain.HookEnvelope{
		HookEventName: "UserPromptSubmit",
		Prompt:        string(long),
	}, classifyNow)
	require.True(t, ok)
	assert.Equal(t, domain.EventPromptSubmit, event.Type)
	assert.Len(t, event.PromptExcerpt, 200)
}

func TestClassifyUnknownEnvelope(t *testing.T) {
	_, ok := Classify(&domain.HookEnvelope{HookEventName: "PreToolUse"}, classifyNow)
	assert.False(t, ok)
}
