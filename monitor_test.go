package mixbus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaban/mixbus/internal/testutil"
)

// fakeLister is a mutable in-memory client list.
type fakeLister struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *fakeLister) ListClients() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out, nil
}

func (l *fakeLister) set(keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = keys
}

func newTestMonitor(t *testing.T) (*ClientMonitor, *Controller, *fakeLister) {
	t.Helper()
	c := newTestController(t, testutil.NewFakeRegistry())
	lister := &fakeLister{}
	return NewClientMonitor(c, lister), c, lister
}

func TestMonitorManagesNewClients(t *testing.T) {
	monitor, c, lister := newTestMonitor(t)
	lister.set("com.example.a", "com.example.b")

	monitor.ForceCheck()

	if !c.Graph().HasClient("com.example.a") || !c.Graph().HasClient("com.example.b") {
		t.Fatal("monitor did not manage observed clients")
	}
}

func TestMonitorUnmanagesDepartedClients(t *testing.T) {
	monitor, c, lister := newTestMonitor(t)
	lister.set("com.example.a", "com.example.b")
	monitor.ForceCheck()

	lister.set("com.example.a")
	monitor.ForceCheck()

	if c.Graph().HasClient("com.example.b") {
		t.Fatal("departed client still managed")
	}
	if !c.Graph().HasClient("com.example.a") {
		t.Fatal("surviving client was unmanaged")
	}
}

func TestMonitorCallbacks(t *testing.T) {
	monitor, _, lister := newTestMonitor(t)

	var added, removed []string
	monitor.SetCallbacks(
		func(key string) { added = append(added, key) },
		func(key string) { removed = append(removed, key) },
	)

	lister.set("com.example.a")
	monitor.ForceCheck()
	lister.set()
	monitor.ForceCheck()

	if len(added) != 1 || added[0] != "com.example.a" {
		t.Errorf("added callbacks %v", added)
	}
	if len(removed) != 1 || removed[0] != "com.example.a" {
		t.Errorf("removed callbacks %v", removed)
	}
}

func TestMonitorListerErrorReported(t *testing.T) {
	c := newTestController(t, testutil.NewFakeRegistry())
	handler := c.errorHandler.(*collectingHandler)
	lister := &fakeLister{err: fmt.Errorf("endpoint gone")}
	monitor := NewClientMonitor(c, lister)

	monitor.ForceCheck()

	if handler.count() == 0 {
		t.Fatal("lister failure not reported to error handler")
	}
}

func TestMonitorStartStop(t *testing.T) {
	monitor, c, lister := newTestMonitor(t)
	lister.set("com.example.a")

	if err := monitor.Start(); err != nil {
		t.Fatal(err)
	}
	if !monitor.IsRunning() {
		t.Fatal("monitor not running after Start")
	}
	// Start performs an initial synchronous check.
	if !c.Graph().HasClient("com.example.a") {
		t.Fatal("initial check did not manage client")
	}
	if err := monitor.Start(); err == nil {
		t.Fatal("double start should fail")
	}

	if err := monitor.Stop(); err != nil {
		t.Fatal(err)
	}
	if monitor.IsRunning() {
		t.Fatal("monitor running after Stop")
	}
	if err := monitor.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestMonitorAdaptivePolling(t *testing.T) {
	monitor, _, lister := newTestMonitor(t)
	lister.set("com.example.a")
	monitor.ForceCheck()

	base := monitor.GetPollingInterval()

	// A stable client set slows polling down.
	for i := 0; i < 30; i++ {
		monitor.ForceCheck()
	}
	slowed := monitor.GetPollingInterval()
	if slowed <= base {
		t.Fatalf("interval did not grow: base %v, after stability %v", base, slowed)
	}
	if slowed > 200*time.Millisecond {
		t.Fatalf("interval exceeded cap: %v", slowed)
	}

	// A change snaps back to the base interval.
	lister.set("com.example.a", "com.example.b")
	monitor.ForceCheck()
	if got := monitor.GetPollingInterval(); got != 50*time.Millisecond {
		t.Fatalf("interval after change %v, want 50ms", got)
	}
}

func TestMonitorPerformanceStats(t *testing.T) {
	monitor, _, lister := newTestMonitor(t)
	lister.set("com.example.a")
	monitor.ForceCheck()

	_, _, count := monitor.GetPerformanceStats()
	if count != 1 {
		t.Errorf("check count %d, want 1", count)
	}
}
