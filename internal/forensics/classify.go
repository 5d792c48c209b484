// Package forensics implements the session-event pipeline: hook envelopes
// from an external assistant are classified into a closed event set,
// appended to per-session JSONL logs, and later reconciled into ledger
// entries so direct sessions leave the same record as loop-driven ones.
package forensics

import (
	"regexp"
	"strings"
	"time"

	"github.com/cubtools/cub/internal/domain"
)

// Hook event names as delivered by assistant lifecycle hooks.
const (
	hookSessionStart     = "SessionStart"
	hookSessionEnd       = "SessionEnd"
	hookStop             = "Stop"
	hookPostToolUse      = "PostToolUse"
	hookUserPromptSubmit = "UserPromptSubmit"
)

var (
	taskClaimRe  = regexp.MustCompile(`\bcub\s+task\s+claim\s+([a-z][a-z0-9]*-[a-z0-9]+(?:-[0-9]+(?:\.[0-9]+)?)?)`)
	taskCloseRe  = regexp.MustCompile(`\bcub\s+task\s+close\s+([a-z][a-z0-9]*-[a-z0-9]+(?:-[0-9]+(?:\.[0-9]+)?)?)`)
	gitCommitRe  = regexp.MustCompile(`\bgit\s+commit\b`)
	commitHashRe = regexp.MustCompile(`\b([0-9a-f]{7,40})\b`)
)

const promptExcerptLen = 200

// Classify normalizes a raw hook envelope into a forensic event. The second
// return is false when the envelope carries nothing worth recording.
func Classify(env *domain.HookEnvelope, now time.Time) (*domain.ForensicEvent, bool) {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = now
	}

	switch env.HookEventName {
	case hookSessionStart:
		return &domain.ForensicEvent{
			Type:      domain.EventSessionStart,
			Timestamp: ts,
			Model:     env.Model,
		}, true

	case hookSessionEnd, hookStop:
		return &domain.ForensicEvent{
			Type:      domain.EventSessionEnd,
			Timestamp: ts,
			Reason:    env.Reason,
		}, true

	case hookUserPromptSubmit:
		if strings.TrimSpace(env.Prompt) == "" {
			return nil, false
		}
		excerpt := env.Prompt
		if len(excerpt) > promptExcerptLen {
			excerpt = excerpt[:promptExcerptLen]
		}
		return &domain.ForensicEvent{
			Type:          domain.EventPromptSubmit,
			Timestamp:     ts,
			PromptExcerpt: excerpt,
		}, true

	case hookPostToolUse:
		return classifyToolUse(env, ts)

	default:
		return nil, false
	}
}

func classifyToolUse(env *domain.HookEnvelope, ts time.Time) (*domain.ForensicEvent, bool) {
	switch env.ToolName {
	case "Write", "Edit", "MultiEdit", "NotebookEdit":
		path, _ := env.ToolInput["file_path"].(string)
		if path == "" {
			return nil, false
		}
		return &domain.ForensicEvent{
			Type:      domain.EventFileWrite,
			Timestamp: ts,
			FilePath:  path,
			Tool:      env.ToolName,
		}, true

	case "Bash":
		command, _ := env.ToolInput["command"].(string)
		if command == "" {
			return nil, false
		}
		return classifyBash(env, command, ts)

	default:
		return nil, false
	}
}

func classifyBash(env *domain.HookEnvelope, command string, ts time.Time) (*domain.ForensicEvent, bool) {
	if m := taskClaimRe.FindStringSubmatch(command); m != nil {
		return &domain.ForensicEvent{
			Type:      domain.EventTaskClaim,
			Timestamp: ts,
			TaskID:    m[1],
		}, true
	}
	if m := taskCloseRe.FindStringSubmatch(command); m != nil {
		return &domain.ForensicEvent{
			Type:      domain.EventTaskClose,
			Timestamp: ts,
			TaskID:    m[1],
			Reason:    closeReason(command),
		}, true
	}
	if gitCommitRe.MatchString(command) {
		return &domain.ForensicEvent{
			Type:      domain.EventGitCommit,
			Timestamp: ts,
			Hash:      commitHashFromOutput(env.ToolResponse),
			Message:   commitMessage(command),
		}, true
	}
	return nil, false
}

// closeReason extracts --reason from a close command, best effort.
func closeReason(command string) string {
	for _, flag := range []string{"--reason=", "--reason "} {
		idx := strings.Index(command, flag)
		if idx < 0 {
			continue
		}
		rest := command[idx+len(flag):]
		return unquoteArg(rest)
	}
	return ""
}

// commitMessage extracts -m from a git commit command, best effort.
func commitMessage(command string) string {
	for _, flag := range []string{"-m ", "--message="} {
		idx := strings.Index(command, flag)
		if idx < 0 {
			continue
		}
		rest := command[idx+len(flag):]
		return unquoteArg(rest)
	}
	return ""
}

// commitHashFromOutput scans a Bash tool response for the new commit hash.
// Git prints `[branch abc1234] message` on success.
func commitHashFromOutput(response map[string]any) string {
	out, _ := response["output"].(string)
	if out == "" {
		if stdout, ok := response["stdout"].(string); ok {
			out = stdout
		}
	}
	start := strings.Index(out, "[")
	end := strings.Index(out, "]")
	if start >= 0 && end > start {
		if m := commitHashRe.FindStringSubmatch(out[start:end]); m != nil {
			return m[1]
		}
	}
	return ""
}

func unquoteArg(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if s[0] == '\'' || s[0] == '"' {
		quote := s[0]
		if end := strings.IndexByte(s[1:], quote); end >= 0 {
			return s[1 : end+1]
		}
		return s[1:]
	}
	if end := strings.IndexAny(s, " \t"); end >= 0 {
		return s[:end]
	}
	return s
}
