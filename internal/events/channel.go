package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"face-studio/internal/remote"
)

// Observer receives decoded push events for the subscribed job, in
// delivery order.
type Observer func(remote.JobEvent)

// Conn is one live push connection. ReadMessage blocks until the next
// message or a permanent transport failure.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens the push connection for a job. Transport-level retry
// lives behind this interface; the manager never redials itself.
type Dialer interface {
	Dial(ctx context.Context, jobID string) (Conn, error)
}

// Manager owns at most one live push channel at a time, keyed by job
// id, and multiplexes its events to the registered observers.
// Subscribing for a different job tears the old channel down; events in
// flight for the old job are abandoned.
type Manager struct {
	dialer Dialer
	log    zerolog.Logger

	mu        sync.Mutex
	jobID     string
	conn      Conn
	cancel    context.CancelFunc
	gen       int64
	nextObsID int64
	observers map[int64]Observer
	order     []int64
}

// NewManager builds a channel manager using the given transport.
func NewManager(dialer Dialer, log zerolog.Logger) *Manager {
	return &Manager{
		dialer:    dialer,
		log:       log,
		observers: make(map[int64]Observer),
	}
}

// Subscribe registers an observer for the job's push events, opening
// (or switching) the live channel as needed. The returned func removes
// the observer; when the last observer for the active job is removed,
// the channel is closed.
func (m *Manager) Subscribe(jobID string, observer Observer) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.jobID != jobID {
		m.teardownLocked()
		if err := m.openLocked(jobID); err != nil {
			return nil, err
		}
	}

	m.nextObsID++
	id := m.nextObsID
	gen := m.gen
	m.observers[id] = observer
	m.order = append(m.order, id)

	return func() { m.unsubscribe(gen, id) }, nil
}

// ActiveJob returns the job id of the live channel, or empty.
func (m *Manager) ActiveJob() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID
}

// Close tears down the live channel and forgets all observers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// openLocked dials a fresh channel for jobID and starts its read loop.
func (m *Manager) openLocked(jobID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := m.dialer.Dial(ctx, jobID)
	if err != nil {
		cancel()
		return err
	}

	m.jobID = jobID
	m.conn = conn
	m.cancel = cancel
	m.gen++

	go m.readLoop(m.gen, jobID, conn)
	m.log.Debug().Str("jobId", jobID).Msg("event channel opened")
	return nil
}

// teardownLocked closes the current channel and drops its observers.
func (m *Manager) teardownLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.log.Debug().Str("jobId", m.jobID).Msg("event channel closed")
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.conn = nil
	m.cancel = nil
	m.jobID = ""
	m.observers = make(map[int64]Observer)
	m.order = nil
}

// unsubscribe removes one observer registered under gen. Stale handles
// from a previous channel generation are no-ops.
func (m *Manager) unsubscribe(gen, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if _, ok := m.observers[id]; !ok {
		return
	}
	delete(m.observers, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if len(m.observers) == 0 {
		m.teardownLocked()
	}
}

// readLoop consumes one connection until it fails or is superseded.
// Messages are parsed on arrival; a parse failure is logged and the
// message dropped without terminating the channel.
func (m *Manager) readLoop(gen int64, jobID string, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.log.Debug().Err(err).Str("jobId", jobID).Msg("event channel read ended")
			return
		}

		event, err := remote.ParseJobEvent(raw)
		if err != nil {
			m.log.Warn().Err(err).Str("jobId", jobID).Msg("dropping malformed push event")
			continue
		}

		for _, observer := range m.snapshot(gen) {
			observer(event)
		}
	}
}

// snapshot returns the current observers in registration order, or
// nothing when the channel generation has been superseded.
func (m *Manager) snapshot(gen int64) []Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil
	}
	out := make([]Observer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.observers[id])
	}
	return out
}
