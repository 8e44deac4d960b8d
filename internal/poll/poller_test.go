package poll

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type status struct {
	value    string
	terminal bool
}

func waitDone(t *testing.T, p *Poller[status]) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// TestTerminalResultStopsAfterOneFetch verifies a first-call terminal
// status stops polling after exactly one invocation, with no second
// tick scheduled.
func TestTerminalResultStopsAfterOneFetch(t *testing.T) {
	var fetches, updates atomic.Int64
	fetcher := func(context.Context) (status, error) {
		fetches.Add(1)
		return status{value: "completed", terminal: true}, nil
	}

	p := Start(fetcher, 10*time.Millisecond,
		func(status) { updates.Add(1) },
		func(s status) bool { return s.terminal },
		zerolog.Nop())
	waitDone(t, p)

	// Give a would-be second tick time to fire.
	time.Sleep(30 * time.Millisecond)
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}
	if got := updates.Load(); got != 1 {
		t.Fatalf("updates = %d, want 1", got)
	}
}

// TestPollsUntilTerminal checks the loop keeps pulling on cadence until
// the terminal result arrives.
func TestPollsUntilTerminal(t *testing.T) {
	var fetches atomic.Int64
	fetcher := func(context.Context) (status, error) {
		n := fetches.Add(1)
		return status{terminal: n >= 3}, nil
	}

	p := Start(fetcher, time.Millisecond,
		func(status) {},
		func(s status) bool { return s.terminal },
		zerolog.Nop())
	waitDone(t, p)

	if got := fetches.Load(); got != 3 {
		t.Fatalf("fetches = %d, want 3", got)
	}
}

// TestFetchFailureStopsPolling verifies the fail-fast policy: no
// update callback, no silent retry.
func TestFetchFailureStopsPolling(t *testing.T) {
	var fetches, updates atomic.Int64
	fetcher := func(context.Context) (status, error) {
		fetches.Add(1)
		return status{}, fmt.Errorf("service unreachable")
	}

	p := Start(fetcher, time.Millisecond,
		func(status) { updates.Add(1) },
		func(status) bool { return false },
		zerolog.Nop())
	waitDone(t, p)

	time.Sleep(10 * time.Millisecond)
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}
	if got := updates.Load(); got != 0 {
		t.Fatalf("updates = %d, want 0", got)
	}
}

// TestStopCancelsLoop checks explicit cancellation between ticks and
// that Stop stays safe afterwards.
func TestStopCancelsLoop(t *testing.T) {
	started := make(chan struct{}, 1)
	fetcher := func(context.Context) (status, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		return status{}, nil
	}

	p := Start(fetcher, time.Hour,
		func(status) {},
		func(status) bool { return false },
		zerolog.Nop())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("fetcher never ran")
	}

	p.Stop()
	waitDone(t, p)

	// Idempotent, including after natural termination.
	p.Stop()
	p.Stop()
}
