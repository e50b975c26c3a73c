package track

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skyspotter/overhead/pkg/adsb"
	"github.com/skyspotter/overhead/pkg/geo"
)

// countingSource is a Source stub that records fetch calls.
type countingSource struct {
	mu     sync.Mutex
	calls  int
	states []adsb.StateVector
}

func (s *countingSource) FetchStates(ctx context.Context, box geo.BoundingBox) ([]adsb.StateVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.states, nil
}

func (s *countingSource) Close() error { return nil }

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPoller(source *countingSource, publish Publisher) *Poller {
	return NewPoller(source, testObserver, 50.0, testFilterConfig(), PollerConfig{
		Interval:      20 * time.Millisecond,
		IdleStopDelay: 40 * time.Millisecond,
		FetchTimeout:  time.Second,
	}, publish)
}

// TestPollerLifecycle tests the idle/polling state machine.
func TestPollerLifecycle(t *testing.T) {
	t.Run("Idle until first subscriber", func(t *testing.T) {
		source := &countingSource{}
		p := newTestPoller(source, func(Snapshot) {})
		defer p.Close()

		time.Sleep(60 * time.Millisecond)
		if source.callCount() != 0 {
			t.Errorf("Expected no fetches while idle, got %d", source.callCount())
		}
	})

	t.Run("Subscriber starts polling and snapshots flow", func(t *testing.T) {
		source := &countingSource{
			states: []adsb.StateVector{sv("a1", 52.03, 13.0, 2000, 200)},
		}
		snapshots := make(chan Snapshot, 32)
		p := newTestPoller(source, func(s Snapshot) { snapshots <- s })
		defer p.Close()

		p.Subscribe()

		var first, second Snapshot
		select {
		case first = <-snapshots:
		case <-time.After(time.Second):
			t.Fatal("No snapshot after subscribe")
		}
		select {
		case second = <-snapshots:
		case <-time.After(time.Second):
			t.Fatal("No second snapshot")
		}

		if len(first.Visible) != 1 {
			t.Errorf("Expected 1 visible aircraft, got %d", len(first.Visible))
		}
		if second.Seq <= first.Seq {
			t.Errorf("Expected increasing sequence, got %d then %d", first.Seq, second.Seq)
		}
	})

	t.Run("Stops after last unsubscribe plus debounce", func(t *testing.T) {
		source := &countingSource{}
		p := newTestPoller(source, func(Snapshot) {})
		defer p.Close()

		p.Subscribe()
		time.Sleep(30 * time.Millisecond)
		p.Unsubscribe()

		// Wait out the debounce, then confirm fetching has stopped.
		time.Sleep(80 * time.Millisecond)
		settled := source.callCount()
		time.Sleep(80 * time.Millisecond)
		if source.callCount() != settled {
			t.Errorf("Expected no fetches after idle stop, got %d more",
				source.callCount()-settled)
		}
	})

	t.Run("Resubscribe within debounce keeps polling", func(t *testing.T) {
		source := &countingSource{}
		p := newTestPoller(source, func(Snapshot) {})
		defer p.Close()

		p.Subscribe()
		time.Sleep(10 * time.Millisecond)
		p.Unsubscribe()
		p.Subscribe() // before the 40 ms debounce fires

		time.Sleep(100 * time.Millisecond)
		before := source.callCount()
		time.Sleep(60 * time.Millisecond)
		if source.callCount() <= before {
			t.Error("Expected polling to continue across quick resubscribe")
		}
	})

	t.Run("Second subscriber does not restart the loop", func(t *testing.T) {
		source := &countingSource{}
		p := newTestPoller(source, func(Snapshot) {})
		defer p.Close()

		p.Subscribe()
		p.Subscribe()
		if p.Subscribers() != 2 {
			t.Errorf("Expected 2 subscribers, got %d", p.Subscribers())
		}

		p.Unsubscribe()
		// One subscriber remains: no idle stop.
		time.Sleep(80 * time.Millisecond)
		before := source.callCount()
		time.Sleep(60 * time.Millisecond)
		if source.callCount() <= before {
			t.Error("Expected polling to continue with one subscriber left")
		}
	})
}
