// Package breaker detects run stagnation from per-iteration outcomes.
//
// The breaker observes a ring of recent iterations and halts the loop when
// failures repeat on one task, when every recent failure is fatal, or when
// no task has closed for too long. Any successful task close resets it.
package breaker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
)

// Outcome is one iteration's result as the breaker sees it.
type Outcome struct {
	TaskID        string
	Success       bool
	Closed        bool
	ErrorCategory domain.ErrorCategory
}

// Breaker accumulates iteration outcomes and decides when to halt.
type Breaker struct {
	mu sync.Mutex

	window           int
	sameTaskFailures int
	noProgress       int

	recent []Outcome

	sameTaskStreak int
	lastFailedTask string
	sinceProgress  int

	tripped bool
	reason  string

	logger zerolog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the breaker logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a breaker. Non-positive thresholds fall back to defaults.
func New(window, sameTaskFailures, noProgress int, opts ...Option) *Breaker {
	if window < 1 {
		window = constants.BreakerWindow
	}
	if sameTaskFailures < 1 {
		sameTaskFailures = constants.BreakerSameTaskFailures
	}
	if noProgress < 1 {
		noProgress = constants.BreakerNoProgressIterations
	}
	b := &Breaker{
		window:           window,
		sameTaskFailures: sameTaskFailures,
		noProgress:       noProgress,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record accounts one iteration outcome and re-evaluates the trip
// conditions. A successful task close resets all streaks.
func (b *Breaker) Record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent = append(b.recent, o)
	if len(b.recent) > b.window {
		b.recent = b.recent[1:]
	}

	if o.Closed {
		b.reset()
		return
	}

	b.sinceProgress++

	if o.Success {
		b.sameTaskStreak = 0
		b.lastFailedTask = ""
	} else {
		if o.TaskID != "" && o.TaskID == b.lastFailedTask {
			b.sameTaskStreak++
		} else {
			b.sameTaskStreak = 1
			b.lastFailedTask = o.TaskID
		}
	}

	b.evaluate()
}

// Tripped reports whether the breaker has fired, with the reason.
func (b *Breaker) Tripped() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.reason
}

// Recent returns a copy of the observed window, oldest first.
func (b *Breaker) Recent() []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Outcome, len(b.recent))
	copy(out, b.recent)
	return out
}

// Caller holds the mutex.
func (b *Breaker) reset() {
	b.sameTaskStreak = 0
	b.lastFailedTask = ""
	b.sinceProgress = 0
	b.tripped = false
	b.reason = ""
}

// Caller holds the mutex.
func (b *Breaker) evaluate() {
	if b.tripped {
		return
	}

	if b.sameTaskStreak >= b.sameTaskFailures {
		b.trip(fmt.Sprintf("%d consecutive failures on task %s", b.sameTaskStreak, b.lastFailedTask))
		return
	}

	if n := b.consecutiveFatalFailures(); n >= b.sameTaskFailures {
		b.trip(fmt.Sprintf("%d consecutive fatal harness failures", n))
		return
	}

	if b.sinceProgress >= b.noProgress {
		b.trip(fmt.Sprintf("no task closed in the last %d iterations", b.sinceProgress))
	}
}

// Caller holds the mutex.
func (b *Breaker) trip(reason string) {
	b.tripped = true
	b.reason = reason
	b.logger.Warn().Str("reason", reason).Msg("circuit breaker tripped")
}

// consecutiveFatalFailures counts the trailing run of failed iterations
// whose category is fatal (harness missing or auth). Any success or
// non-fatal failure ends the run. Caller holds the mutex.
func (b *Breaker) consecutiveFatalFailures() int {
	count := 0
	for i := len(b.recent) - 1; i >= 0; i-- {
		o := b.recent[i]
		if o.Success || !o.ErrorCategory.Fatal() {
			break
		}
		count++
	}
	return count
}
