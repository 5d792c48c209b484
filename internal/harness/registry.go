package harness

import (
	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/config"
)

// NewDefaultRegistry registers every built-in harness against the given
// configuration. Availability is checked at selection time, not here:
// registering a harness whose CLI is absent is harmless.
func NewDefaultRegistry(cfg *config.HarnessConfig, logger zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewClaudeHarness(cfg, WithClaudeLogger(logger)))
	r.Register(NewCodexHarness(cfg, WithCodexLogger(logger)))
	r.Register(NewGeminiHarness(cfg, WithGeminiLogger(logger)))
	r.Register(NewOpencodeHarness(cfg, WithOpencodeLogger(logger)))
	return r
}
