// Package logging provides logging utilities including sensitive data
// filtering. It contains zerolog hooks and writers that keep API keys and
// tokens out of log files and harness-log mirrors.
package logging

import (
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// RedactedValue is the replacement string for sensitive data.
const RedactedValue = "[REDACTED]"

// sensitivePatterns contains compiled regular expressions for detecting
// credential-shaped values in free text.
var sensitivePatterns = []*regexp.Regexp{ //nolint:gochecknoglobals // Package-level patterns for reuse
	// Anthropic API keys
	regexp.MustCompile(`sk-ant-api[a-zA-Z0-9_-]+`),

	// OpenAI-style keys
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),

	// GitHub tokens (ghp_, gho_, ghu_, ghs_, ghr_)
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{20,}`),

	// key=value style API keys
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?([a-zA-Z0-9_-]{16,})["']?`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),

	// Generic secret assignments
	regexp.MustCompile(`(?i)(secret|password|credential|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}["']?`),

	// SSH private key headers
	regexp.MustCompile(`(?i)-----BEGIN[A-Z\s]+PRIVATE KEY-----`),
}

// sensitiveFieldNames contains field names whose values are always redacted.
var sensitiveFieldNames = []string{ //nolint:gochecknoglobals // Package-level patterns for reuse
	"api_key",
	"apikey",
	"api-key",
	"auth_token",
	"password",
	"secret",
	"credential",
	"credentials",
	"private_key",
	"access_token",
	"refresh_token",
	"bearer",
	"authorization",
	"anthropic_api_key",
	"openai_api_key",
	"github_token",
}

// RedactionHook is a zerolog hook that flags log entries carrying
// credential-shaped content. Zerolog does not allow rewriting the message
// inside a hook, so actual filtering happens via Filter at call sites and
// via FilteringWriter on file sinks; the hook marks entries that slipped
// through.
type RedactionHook struct{}

// NewRedactionHook creates a RedactionHook.
func NewRedactionHook() *RedactionHook {
	return &RedactionHook{}
}

// Run implements the zerolog.Hook interface.
func (h *RedactionHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if ContainsSensitive(msg) {
		e.Bool("contains_filtered_data", true)
	}
}

// ContainsSensitive reports whether s matches any sensitive pattern.
func ContainsSensitive(s string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// Filter replaces any sensitive matches in value with [REDACTED].
func Filter(value string) string {
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// IsSensitiveField reports whether a field name indicates sensitive data.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, sensitive := range sensitiveFieldNames {
		if lower == sensitive || strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// SafeValue returns the value redacted according to its field name:
// fully redacted for sensitive field names, pattern-filtered otherwise.
func SafeValue(fieldName, value string) string {
	if IsSensitiveField(fieldName) {
		return RedactedValue
	}
	return Filter(value)
}

// FilteringWriter wraps an io.Writer and filters sensitive data from all
// output. Used to wrap the rotating log file so credentials never reach
// disk even when embedded in messages.
type FilteringWriter struct {
	w io.Writer
}

// NewFilteringWriter creates a FilteringWriter around w.
func NewFilteringWriter(w io.Writer) *FilteringWriter {
	return &FilteringWriter{w: w}
}

// Write implements io.Writer, filtering sensitive data before writing.
// It reports the original length so callers do not see a short write.
func (fw *FilteringWriter) Write(p []byte) (int, error) {
	if _, err := fw.w.Write([]byte(Filter(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

var _ io.Writer = (*FilteringWriter)(nil)
