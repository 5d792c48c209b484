package domain

import "time"

// ForensicEventType is the closed set of normalized session events.
type ForensicEventType string

const (
	// EventSessionStart opens a session.
	EventSessionStart ForensicEventType = "session_start"

	// EventFileWrite records a Write/Edit tool use on a tracked path.
	EventFileWrite ForensicEventType = "file_write"

	// EventTaskClaim records a `cub task claim` invocation.
	EventTaskClaim ForensicEventType = "task_claim"

	// EventTaskClose records a `cub task close` invocation.
	EventTaskClose ForensicEventType = "task_close"

	// EventGitCommit records a `git commit` invocation.
	EventGitCommit ForensicEventType = "git_commit"

	// EventSessionEnd closes a session.
	EventSessionEnd ForensicEventType = "session_end"

	// EventPromptSubmit records an excerpt of a submitted prompt.
	EventPromptSubmit ForensicEventType = "prompt_submit"
)

// ForensicEvent is one normalized line in a per-session JSONL log.
// Fields beyond Type and Timestamp are populated per event type.
type ForensicEvent struct {
	Type      ForensicEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`

	// session_start
	Model     string `json:"model,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	// file_write
	FilePath string `json:"file_path,omitempty"`
	Tool     string `json:"tool,omitempty"`

	// task_claim / task_close
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason,omitempty"`

	// git_commit
	Hash    string `json:"hash,omitempty"`
	Message string `json:"message,omitempty"`

	// prompt_submit
	PromptExcerpt string `json:"prompt_excerpt,omitempty"`
}

// HookEnvelope is the raw event an external assistant's lifecycle hook
// delivers on standard input.
type HookEnvelope struct {
	HookEventName string         `json:"hook_event_name"`
	SessionID     string         `json:"session_id"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input,omitempty"`
	ToolResponse  map[string]any `json:"tool_response,omitempty"`
	CWD           string         `json:"cwd,omitempty"`
	Model         string         `json:"model,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}
