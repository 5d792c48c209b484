package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cubtools/cub/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stderr string
		want   domain.ErrorCategory
	}{
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: domain.ErrorCategoryTimeout,
		},
		{
			name: "cancellation",
			err:  context.Canceled,
			want: domain.ErrorCategoryInternal,
		},
		{
			name: "executable not found",
			err:  errors.New(`exec: "claude": executable file not found in $PATH`),
			want: domain.ErrorCategoryHarnessMissing,
		},
		{
			name:   "stderr command not found",
			err:    errors.New("exit status 127"),
			stderr: "sh: claude: command not found",
			want:   domain.ErrorCategoryHarnessMissing,
		},
		{
			name:   "api key",
			err:    errors.New("exit status 1"),
			stderr: "Error: Invalid API key. Please run /login",
			want:   domain.ErrorCategoryAuth,
		},
		{
			name:   "unauthorized",
			err:    errors.New("exit status 1"),
			stderr: "401 unauthorized",
			want:   domain.ErrorCategoryAuth,
		},
		{
			name:   "rate limit",
			err:    errors.New("exit status 1"),
			stderr: "429 Too Many Requests: rate limit exceeded",
			want:   domain.ErrorCategoryRateLimit,
		},
		{
			name:   "overloaded",
			err:    errors.New("exit status 1"),
			stderr: "API error: overloaded_error",
			want:   domain.ErrorCategoryRateLimit,
		},
		{
			name:   "network",
			err:    errors.New("exit status 1"),
			stderr: "dial tcp: lookup api.anthropic.com: no such host",
			want:   domain.ErrorCategoryNetwork,
		},
		{
			name:   "timeout in stderr",
			err:    errors.New("exit status 1"),
			stderr: "request timed out after 600s",
			want:   domain.ErrorCategoryTimeout,
		},
		{
			name:   "model error",
			err:    errors.New("exit status 1"),
			stderr: "model not found: claude-nonexistent",
			want:   domain.ErrorCategoryModelError,
		},
		{
			name:   "panic",
			err:    errors.New("exit status 2"),
			stderr: "panic: runtime error: index out of range",
			want:   domain.ErrorCategoryInternal,
		},
		{
			name:   "unclassifiable",
			err:    errors.New("exit status 1"),
			stderr: "something odd happened",
			want:   domain.ErrorCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.stderr))
		})
	}
}

func TestCategoryRetryableAndFatal(t *testing.T) {
	assert.True(t, domain.ErrorCategoryRateLimit.Retryable())
	assert.True(t, domain.ErrorCategoryNetwork.Retryable())
	assert.True(t, domain.ErrorCategoryTimeout.Retryable())
	assert.False(t, domain.ErrorCategoryAuth.Retryable())
	assert.False(t, domain.ErrorCategoryModelError.Retryable())

	assert.True(t, domain.ErrorCategoryHarnessMissing.Fatal())
	assert.True(t, domain.ErrorCategoryAuth.Fatal())
	assert.False(t, domain.ErrorCategoryRateLimit.Fatal())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "first line", Summarize(nil, "\n\nfirst line\nsecond"))
	assert.Equal(t, "exit status 1", Summarize(errors.New("exit status 1"), ""))
	assert.Equal(t, "harness failed without diagnostic output", Summarize(nil, ""))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := Summarize(nil, string(long))
	assert.Len(t, got, 203)
}
