// Package timeouts bounds network operations with per-operation deadlines
// that adapt to observed latency.
package timeouts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation names a kind of network operation.
type Operation string

const (
	OpDial           Operation = "dial"
	OpProvide        Operation = "provide"
	OpFindProviders  Operation = "find_providers"
	OpClosestPeers   Operation = "closest_peers"
	OpPutRecord      Operation = "put_record"
	OpRequest        Operation = "request"
	OpBootstrapPeers Operation = "bootstrap"
)

// Bounds on any adapted timeout.
const (
	MinTimeout = 100 * time.Millisecond
	MaxTimeout = 5 * time.Minute
)

// Adaptation parameters.
const (
	alpha          = 0.2 // EMA weight of the newest sample
	shrinkFactor   = 0.9
	growOnFailure  = 1.5
	growOnTimeout  = 2.0
	headroomFactor = 2.0
)

// Config holds the base timeout per operation.
type Config struct {
	Dial          time.Duration
	Provide       time.Duration
	FindProviders time.Duration
	ClosestPeers  time.Duration
	PutRecord     time.Duration
	Request       time.Duration

	// Adaptive lets observed latencies move timeouts away from the base.
	Adaptive bool
}

// DefaultConfig returns the default bases.
func DefaultConfig() Config {
	return Config{
		Dial:          10 * time.Second,
		Provide:       60 * time.Second,
		FindProviders: 30 * time.Second,
		ClosestPeers:  30 * time.Second,
		PutRecord:     60 * time.Second,
		Request:       30 * time.Second,
		Adaptive:      true,
	}
}

type tracked struct {
	base    time.Duration
	current time.Duration
	avg     time.Duration

	successes, failures, timeouts int64
}

// Manager hands out timeouts and learns from outcomes. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	ops      map[Operation]*tracked
	adaptive bool
}

// NewManager creates a manager from cfg; zero bases take the defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return clamp(v)
	}

	m := &Manager{ops: make(map[Operation]*tracked), adaptive: cfg.Adaptive}
	for op, base := range map[Operation]time.Duration{
		OpDial:           pick(cfg.Dial, def.Dial),
		OpBootstrapPeers: pick(cfg.Dial, def.Dial),
		OpProvide:        pick(cfg.Provide, def.Provide),
		OpFindProviders:  pick(cfg.FindProviders, def.FindProviders),
		OpClosestPeers:   pick(cfg.ClosestPeers, def.ClosestPeers),
		OpPutRecord:      pick(cfg.PutRecord, def.PutRecord),
		OpRequest:        pick(cfg.Request, def.Request),
	} {
		m.ops[op] = &tracked{base: base, current: base}
	}
	return m
}

// Get returns the current timeout for op.
func (m *Manager) Get(op Operation) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.ops[op]; ok {
		return t.current
	}
	return MaxTimeout
}

// WithTimeout derives a context bounded by op's current timeout.
func (m *Manager) WithTimeout(ctx context.Context, op Operation) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.Get(op))
}

// Observe records the outcome of op that started at start. A deadline
// error counts as a timeout, any other error as a failure.
func (m *Manager) Observe(op Operation, start time.Time, err error) {
	switch {
	case err == nil:
		m.RecordSuccess(op, time.Since(start))
	case isDeadline(err):
		m.RecordTimeout(op)
	default:
		m.RecordFailure(op)
	}
}

// RecordSuccess lowers the timeout toward twice the average latency, never
// below the base.
func (m *Manager) RecordSuccess(op Operation, d time.Duration) {
	m.update(op, func(t *tracked) {
		t.successes++
		if t.avg == 0 {
			t.avg = d
		} else {
			t.avg = time.Duration(alpha*float64(d) + (1-alpha)*float64(t.avg))
		}
		if d < t.current/2 {
			t.current = time.Duration(float64(t.current) * shrinkFactor)
		}
		floor := max(t.base, time.Duration(float64(t.avg)*headroomFactor))
		t.current = clamp(max(t.current, floor))
	})
}

// RecordFailure raises the timeout a little.
func (m *Manager) RecordFailure(op Operation) {
	m.update(op, func(t *tracked) {
		t.failures++
		t.current = clamp(time.Duration(float64(t.current) * growOnFailure))
	})
}

// RecordTimeout raises the timeout sharply.
func (m *Manager) RecordTimeout(op Operation) {
	m.update(op, func(t *tracked) {
		t.timeouts++
		t.current = clamp(time.Duration(float64(t.current) * growOnTimeout))
	})
}

func (m *Manager) update(op Operation, fn func(*tracked)) {
	if !m.adaptive {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.ops[op]; ok {
		fn(t)
	}
}

// Decay moves every timeout a fraction of the way back toward its base.
func (m *Manager) Decay(fraction float64) {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.ops {
		diff := float64(t.current - t.base)
		t.current = clamp(t.current - time.Duration(diff*fraction))
	}
}

// Stats is a snapshot of one operation.
type Stats struct {
	Operation Operation
	Base      time.Duration
	Current   time.Duration
	Average   time.Duration
	Successes int64
	Failures  int64
	Timeouts  int64
}

// Snapshot returns the state of op.
func (m *Manager) Snapshot(op Operation) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ops[op]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Operation: op,
		Base:      t.base,
		Current:   t.current,
		Average:   t.avg,
		Successes: t.successes,
		Failures:  t.failures,
		Timeouts:  t.timeouts,
	}, true
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func clamp(d time.Duration) time.Duration {
	return min(max(d, MinTimeout), MaxTimeout)
}
