// Package lifecycle tracks background goroutines so they can be stopped
// together.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns a cancellable context and the goroutines started under it.
// It tracks goroutines via a WaitGroup so Stop can wait for all of them.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a manager whose context derives from parent.
// A nil parent means context.Background().
func New(parent context.Context, logger *zap.Logger) *Manager {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is cancelled by Stop.
func (m *Manager) Context() context.Context { return m.ctx }

// Done is closed once Stop has been called or the parent is cancelled.
func (m *Manager) Done() <-chan struct{} { return m.ctx.Done() }

// Go runs fn in a tracked goroutine. fn receives the manager's context and
// should return once it is done. A panic in fn is logged and the goroutine
// ends; other goroutines keep running.
func (m *Manager) Go(name string, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Log panics instead of crashing
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Background task panicked",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()
		fn(m.ctx)
	}()
}

// Every runs fn each interval until Stop. The first call happens after one
// interval, not immediately.
func (m *Manager) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	m.Go(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
}

// Stop cancels the context and waits for every tracked goroutine.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// StopTimeout is Stop bounded by timeout; it returns
// context.DeadlineExceeded when goroutines are still running.
func (m *Manager) StopTimeout(timeout time.Duration) error {
	m.cancel()

	// Wait in the background; the timer may fire first
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return context.DeadlineExceeded
	}
}
