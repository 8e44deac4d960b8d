package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"face-studio/internal/remote"
)

// fakeConn feeds scripted wire messages to the manager's read loop.
type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.closed:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer records every dialed job and hands out fake connections.
type fakeDialer struct {
	mu    sync.Mutex
	jobs  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, jobID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.jobs = append(d.jobs, jobID)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

// recorder collects delivered events for one observer.
type recorder struct {
	events chan remote.JobEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan remote.JobEvent, 16)}
}

func (r *recorder) observe(event remote.JobEvent) {
	r.events <- event
}

func (r *recorder) next(t *testing.T) remote.JobEvent {
	t.Helper()
	select {
	case event := <-r.events:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return remote.JobEvent{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case event := <-r.events:
		t.Fatalf("unexpected event %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func progressMsg(jobID string, progress float64) []byte {
	return []byte(fmt.Sprintf(`{"jobId":%q,"eventType":"job_progress","data":{"progress":%v}}`, jobID, progress))
}

// TestTwoObserversSameOrder verifies both observers of one job receive
// every event exactly once in delivery order.
func TestTwoObserversSameOrder(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewManager(dialer, zerolog.Nop())

	first, second := newRecorder(), newRecorder()
	unsubFirst, err := manager.Subscribe("job-a", first.observe)
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	defer unsubFirst()
	unsubSecond, err := manager.Subscribe("job-a", second.observe)
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}
	defer unsubSecond()

	if len(dialer.jobs) != 1 {
		t.Fatalf("dialed %d channels, want 1", len(dialer.jobs))
	}

	conn := dialer.latest()
	conn.msgs <- progressMsg("job-a", 0.25)
	conn.msgs <- progressMsg("job-a", 0.5)

	for _, rec := range []*recorder{first, second} {
		if got := rec.next(t); got.Progress != 0.25 {
			t.Fatalf("first event progress = %v, want 0.25", got.Progress)
		}
		if got := rec.next(t); got.Progress != 0.5 {
			t.Fatalf("second event progress = %v, want 0.5", got.Progress)
		}
		rec.expectNone(t)
	}
}

// TestChannelSwitchAbandonsOldJob checks subscribing for a new job
// tears the previous channel down and stops the old observer.
func TestChannelSwitchAbandonsOldJob(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewManager(dialer, zerolog.Nop())

	oldRec := newRecorder()
	if _, err := manager.Subscribe("job-a", oldRec.observe); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	oldConn := dialer.latest()

	newRec := newRecorder()
	unsub, err := manager.Subscribe("job-b", newRec.observe)
	if err != nil {
		t.Fatalf("subscribe job-b: %v", err)
	}
	defer unsub()

	if !oldConn.isClosed() {
		t.Fatal("old channel should be closed on switch")
	}
	if got := manager.ActiveJob(); got != "job-b" {
		t.Fatalf("active job = %q, want job-b", got)
	}

	dialer.latest().msgs <- progressMsg("job-b", 0.1)
	if got := newRec.next(t); got.JobID != "job-b" {
		t.Fatalf("event jobId = %q", got.JobID)
	}
	oldRec.expectNone(t)
}

// TestLastUnsubscribeClosesChannel verifies channel teardown when the
// observer set empties, and that handles are safe to call repeatedly.
func TestLastUnsubscribeClosesChannel(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewManager(dialer, zerolog.Nop())

	rec := newRecorder()
	unsubA, err := manager.Subscribe("job-a", rec.observe)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubB, err := manager.Subscribe("job-a", rec.observe)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn := dialer.latest()

	unsubA()
	if conn.isClosed() {
		t.Fatal("channel closed while an observer remains")
	}

	unsubB()
	if !conn.isClosed() {
		t.Fatal("channel should close after last unsubscribe")
	}
	if got := manager.ActiveJob(); got != "" {
		t.Fatalf("active job = %q, want empty", got)
	}

	// Stale handle after teardown is a no-op.
	unsubA()
}

// TestMalformedEventDropped checks a bad message is skipped without
// terminating the channel.
func TestMalformedEventDropped(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewManager(dialer, zerolog.Nop())

	rec := newRecorder()
	unsub, err := manager.Subscribe("job-a", rec.observe)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	conn := dialer.latest()
	conn.msgs <- []byte(`{broken json`)
	conn.msgs <- progressMsg("job-a", 0.9)

	if got := rec.next(t); got.Progress != 0.9 {
		t.Fatalf("progress = %v, want 0.9 after dropped message", got.Progress)
	}
	if conn.isClosed() {
		t.Fatal("channel must stay open after a malformed message")
	}
}
