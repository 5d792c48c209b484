// Package signal provides graceful shutdown handling for cub commands.
//
// The run loop uses a two-stage interrupt contract: the first SIGINT cancels
// the loop context so the current harness child can shut down gracefully and
// the iteration can be recorded; any further SIGINT abandons finalization
// and exits immediately with code 130.
//
// Import rules:
//   - CAN import: internal/constants, std lib
//   - MUST NOT import: other internal packages (to avoid circular dependencies)
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cubtools/cub/internal/constants"
)

// ForceExitFunc is invoked on the second interrupt. The default calls
// os.Exit(130); tests inject a recorder.
type ForceExitFunc func(code int)

// Handler manages graceful shutdown by listening for interrupt signals.
// It wraps a context and cancels it when SIGINT or SIGTERM is received.
type Handler struct {
	ctx         context.Context //nolint:containedctx // intentional: handler manages context lifecycle
	cancel      context.CancelFunc
	interrupted chan struct{}
	done        chan struct{}
	once        sync.Once
	stopOnce    sync.Once
	sigChan     chan os.Signal

	forceExit ForceExitFunc

	mu       sync.Mutex
	signaled bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithForceExit overrides the function invoked on a second interrupt.
func WithForceExit(f ForceExitFunc) Option {
	return func(h *Handler) {
		h.forceExit = f
	}
}

// NewHandler creates a signal handler that listens for SIGINT and SIGTERM.
// When a signal is received, the handler cancels the context and closes
// the interrupted channel. Any further signal calls the force-exit
// function with code 130, no matter how long the graceful shutdown has
// been running.
//
// Usage:
//
//	h := signal.NewHandler(ctx)
//	defer h.Stop()
//	ctx = h.Context()
func NewHandler(parent context.Context, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		ctx:         ctx,
		cancel:      cancel,
		interrupted: make(chan struct{}),
		done:        make(chan struct{}),
		// Buffer of 1 ensures signal.Notify doesn't drop signals if
		// the handler is busy.
		sigChan:   make(chan os.Signal, 1),
		forceExit: func(code int) { os.Exit(code) },
	}
	for _, opt := range opts {
		opt(h)
	}

	signal.Notify(h.sigChan, syscall.SIGINT, syscall.SIGTERM)
	go h.listen()

	return h
}

// Context returns the cancellable context. Use this context for all
// operations that should be interruptible.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted returns a channel that closes when an interrupt signal is
// received.
func (h *Handler) Interrupted() <-chan struct{} {
	return h.interrupted
}

// WasInterrupted reports whether an interrupt has been received.
func (h *Handler) WasInterrupted() bool {
	select {
	case <-h.interrupted:
		return true
	default:
		return false
	}
}

// Stop cleans up the signal handler and stops listening for signals.
// Always call this when done to prevent resource leaks.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}

// handleSignal processes a received signal. The first signal cancels the
// context; any repeat forces exit. A hung shutdown must always stay
// interruptible, so the force path has no time cap.
func (h *Handler) handleSignal() {
	h.mu.Lock()
	repeat := h.signaled
	h.signaled = true
	h.mu.Unlock()

	if repeat {
		h.forceExit(constants.ExitInterrupted)
		return
	}

	h.once.Do(func() {
		h.cancel()
		close(h.interrupted)
	})
}

// listen waits for signals and handles them until Stop() is called or the
// context is canceled externally.
func (h *Handler) listen() {
	for {
		select {
		case <-h.done:
			return
		case <-h.sigChan:
			h.handleSignal()
		}
	}
}
