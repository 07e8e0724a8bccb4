package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGo_StopsOnStop(t *testing.T) {
	m := New(context.Background(), zaptest.NewLogger(t))

	started := make(chan struct{})
	var stopped atomic.Bool
	m.Go("wait", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	})

	<-started
	if stopped.Load() {
		t.Fatal("goroutine stopped before Stop()")
	}
	m.Stop()
	if !stopped.Load() {
		t.Error("goroutine still running after Stop()")
	}
}

func TestGo_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := New(parent, nil)

	cancel()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("manager context not cancelled with parent")
	}
	m.Stop()
}

func TestGo_RecoversPanic(t *testing.T) {
	m := New(context.Background(), zaptest.NewLogger(t))

	var ran atomic.Bool
	m.Go("panics", func(context.Context) { panic("boom") })
	m.Go("survives", func(ctx context.Context) {
		ran.Store(true)
		<-ctx.Done()
	})

	m.Stop()
	if !ran.Load() {
		t.Error("second goroutine did not run")
	}
}

func TestEvery(t *testing.T) {
	m := New(context.Background(), nil)

	var ticks atomic.Int32
	m.Every("tick", time.Millisecond, func(context.Context) { ticks.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()

	if ticks.Load() < 3 {
		t.Errorf("ticks = %d, want >= 3", ticks.Load())
	}
}

func TestEvery_WaitsOneInterval(t *testing.T) {
	m := New(nil, nil)

	var ticks atomic.Int32
	m.Every("slow", time.Hour, func(context.Context) { ticks.Add(1) })
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if n := ticks.Load(); n != 0 {
		t.Errorf("ticks = %d before the first interval, want 0", n)
	}
	if m.Context().Err() == nil {
		t.Error("context should be cancelled after Stop")
	}
}

func TestStopTimeout(t *testing.T) {
	m := New(context.Background(), nil)

	release := make(chan struct{})
	m.Go("stuck", func(context.Context) { <-release })

	if err := m.StopTimeout(10 * time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("StopTimeout() = %v, want DeadlineExceeded", err)
	}
	close(release)
	if err := m.StopTimeout(time.Second); err != nil {
		t.Errorf("StopTimeout() after release = %v, want nil", err)
	}
}
