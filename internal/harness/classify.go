package harness

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/cubtools/cub/internal/domain"
)

// Classify maps an invocation failure to its error category. Classification
// looks at the Go error first (context and exec errors carry the most
// signal), then falls back to scanning stderr for provider-specific markers.
func Classify(err error, stderr string) domain.ErrorCategory {
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return domain.ErrorCategoryTimeout
		}
		if stderrors.Is(err, context.Canceled) {
			return domain.ErrorCategoryInternal
		}
		if isExecNotFound(err) {
			return domain.ErrorCategoryHarnessMissing
		}
	}

	combined := strings.ToLower(stderr)
	if err != nil {
		combined += "\n" + strings.ToLower(err.Error())
	}

	switch {
	case containsAny(combined, "command not found", "executable file not found", "no such file or directory"):
		return domain.ErrorCategoryHarnessMissing
	case containsAny(combined, "api key", "unauthorized", "authentication", "invalid x-api-key", "credit balance", "please run /login", "401"):
		return domain.ErrorCategoryAuth
	case containsAny(combined, "rate limit", "rate_limit", "too many requests", "quota exceeded", "overloaded", "429", "529"):
		return domain.ErrorCategoryRateLimit
	case containsAny(combined, "connection refused", "connection reset", "dial tcp", "no such host", "network is unreachable", "tls handshake", "unexpected eof", "i/o timeout"):
		return domain.ErrorCategoryNetwork
	case containsAny(combined, "deadline exceeded", "timed out", "timeout"):
		return domain.ErrorCategoryTimeout
	case containsAny(combined, "model error", "invalid model", "model not found", "context length", "max_tokens", "content filter"):
		return domain.ErrorCategoryModelError
	case containsAny(combined, "panic:", "internal error", "assertion failed"):
		return domain.ErrorCategoryInternal
	default:
		return domain.ErrorCategoryUnknown
	}
}

// Summarize produces a one-line failure description for the attempt record:
// the first non-empty stderr line, else the error text.
func Summarize(err error, stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return truncate(line, 200)
		}
	}
	if err != nil {
		return truncate(err.Error(), 200)
	}
	return "harness failed without diagnostic output"
}

func isExecNotFound(err error) bool {
	return strings.Contains(err.Error(), "executable file not found") ||
		strings.Contains(err.Error(), "no such file or directory")
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
