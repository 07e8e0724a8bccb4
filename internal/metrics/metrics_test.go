package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()

	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Commands == nil || m.Events == nil || m.Pending == nil {
		t.Error("actor metrics not initialized")
	}
	if m.SessionEvents == nil {
		t.Error("SessionEvents not initialized")
	}
	if m.StorageOps == nil {
		t.Error("StorageOps not initialized")
	}
	if m.DHTQueryDuration == nil {
		t.Error("DHTQueryDuration not initialized")
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Two sets must not collide on registration.
	a := New()
	b := New()

	a.ProtocolAnomalies.Inc()

	if got := testutil.ToFloat64(a.ProtocolAnomalies); got != 1 {
		t.Errorf("a anomalies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.ProtocolAnomalies); got != 0 {
		t.Errorf("b anomalies = %v, want 0", got)
	}
}

func TestCounterVec_Labels(t *testing.T) {
	m := New()

	m.StorageOps.WithLabelValues("memory", "get", "ok").Inc()
	m.StorageOps.WithLabelValues("memory", "get", "ok").Inc()
	m.StorageOps.WithLabelValues("disk", "put", "full").Inc()

	if got := testutil.ToFloat64(m.StorageOps.WithLabelValues("memory", "get", "ok")); got != 2 {
		t.Errorf("memory/get/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StorageOps.WithLabelValues("disk", "put", "full")); got != 1 {
		t.Errorf("disk/put/full = %v, want 1", got)
	}
}

func TestGauge_Pending(t *testing.T) {
	m := New()

	g := m.Pending.WithLabelValues("dial")
	g.Inc()
	g.Inc()
	g.Dec()

	if got := testutil.ToFloat64(g); got != 1 {
		t.Errorf("pending dial = %v, want 1", got)
	}
}

func TestCounter_Concurrent(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Commands.WithLabelValues("dial").Inc()
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("dial")); got != 10000 {
		t.Errorf("commands = %v, want 10000", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ConnectedPeers.Set(3)
	m.Events.WithLabelValues("inbound_request").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	body, err := io.ReadAll(w.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := string(body)

	for _, want := range []string{
		"gra_connected_peers 3",
		`gra_events_total{event="inbound_request"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestTimer(t *testing.T) {
	m := New()

	timer := NewTimer(m.DHTQueryDuration.WithLabelValues("providers"))
	time.Sleep(5 * time.Millisecond)
	d := timer.ObserveDuration()

	if d < 5*time.Millisecond {
		t.Errorf("duration = %v, want >= 5ms", d)
	}
	if n := testutil.CollectAndCount(m.DHTQueryDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestTimer_NilObserver(t *testing.T) {
	var o prometheus.Observer
	timer := NewTimer(o)
	if d := timer.ObserveDuration(); d < 0 {
		t.Errorf("duration = %v, want >= 0", d)
	}
}
