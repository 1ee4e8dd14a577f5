package mixbus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shaban/mixbus/internal/testutil"
)

func TestDispatcherDoubleStartFails(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c := newTestController(t, reg)

	// NewController already started the dispatcher.
	if err := c.dispatcher.Start(); err == nil {
		t.Fatal("second start should fail")
	}
}

func TestDispatcherStopIdempotent(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c, err := NewController(ControllerConfig{
		Registry:  reg,
		DeviceUID: "virtual-source",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.dispatcher.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.dispatcher.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.dispatcher.IsRunning() {
		t.Fatal("dispatcher running after Stop")
	}
}

func TestDispatcherDoAfterStopFails(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c, err := NewController(ControllerConfig{
		Registry:  reg,
		DeviceUID: "virtual-source",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.dispatcher.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.dispatcher.Do(OpAddClient, ClientData{Key: "a"}); err == nil {
		t.Fatal("Do after Stop should fail")
	}
}

func TestDispatcherUnknownOperation(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c := newTestController(t, reg)

	if err := c.dispatcher.Do(OperationType("bogus"), nil); err == nil {
		t.Fatal("unknown operation should fail")
	}
}

func TestDispatcherTracksOperationDuration(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c := newTestController(t, reg)

	if err := c.dispatcher.Do(OpAddClient, ClientData{Key: "a"}); err != nil {
		t.Fatal(err)
	}
	last, max := c.dispatcher.GetPerformanceStats()
	if last <= 0 {
		t.Errorf("last operation duration %v, want > 0", last)
	}
	if max <= 0 {
		t.Errorf("max operation duration %v, want > 0", max)
	}
}

// Concurrent mutations from many goroutines serialize through the
// dispatcher without racing; the final state reflects every operation.
func TestDispatcherSerializesConcurrentMutations(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	c := newTestController(t, reg)

	const clients = 20
	var wg sync.WaitGroup
	errs := make(chan error, clients*2)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("com.example.app%d", i)
			if err := c.ManageClient(key); err != nil {
				errs <- err
				return
			}
			errs <- c.SetAppVolume(key, 0.5)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	states := c.ClientList()
	if len(states) != clients {
		t.Fatalf("managed clients %d, want %d", len(states), clients)
	}
	for _, s := range states {
		if s.Volume != 0.5 {
			t.Errorf("client %s volume %f, want 0.5", s.Key, s.Volume)
		}
	}
}
