package harness

import (
	"encoding/json"

	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// cliResponse is the common JSON shape emitted by the codex, gemini, and
// opencode CLIs in their non-interactive JSON modes. Field names vary
// slightly across versions, so both "content" and "result" are accepted.
type cliResponse struct {
	Success   bool     `json:"success"`
	Content   string   `json:"content"`
	Result    string   `json:"result"`
	SessionID string   `json:"session_id"`
	Duration  int      `json:"duration_ms"`
	CostUSD   float64  `json:"total_cost_usd"`
	Error     string   `json:"error,omitempty"`
	Usage     *cliUsage `json:"usage,omitempty"`
}

type cliUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// parseCLIResponse parses the common JSON output shape.
func parseCLIResponse(data []byte) (*cliResponse, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrHarnessInvocation, "empty response")
	}

	var resp cliResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrapf(errors.ErrHarnessInvocation, "failed to parse json response: %s", err.Error())
	}
	return &resp, nil
}

// toResult converts the CLI response to a normalized harness result.
func (r *cliResponse) toResult(stderr string) *domain.HarnessResult {
	output := r.Content
	if output == "" {
		output = r.Result
	}

	result := &domain.HarnessResult{
		Success:   r.Success,
		SessionID: r.SessionID,
		CostUSD:   r.CostUSD,
		Output:    output,
	}
	if r.Usage != nil {
		result.Tokens = domain.TokenUsage{
			Input:  r.Usage.InputTokens,
			Output: r.Usage.OutputTokens,
			Known:  true,
		}
	}
	if !r.Success {
		diagnostic := firstNonEmpty(r.Error, stderr, output)
		result.ErrorCategory = Classify(nil, diagnostic)
		result.ErrorSummary = Summarize(nil, diagnostic)
	}
	return result
}
