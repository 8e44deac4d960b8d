package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"face-studio/internal/domain"
	"face-studio/internal/events"
	"face-studio/internal/remote"
)

// ErrAlreadyAttached is returned when attaching while a job is still
// attached. One reconciler owns at most one job at a time; callers must
// Detach before switching.
var ErrAlreadyAttached = errors.New("job already attached")

// ErrNotAttached is returned by snapshot reads with no attached job.
var ErrNotAttached = errors.New("no job attached")

// StatusPuller pulls one job status snapshot from the service.
type StatusPuller interface {
	JobStatus(ctx context.Context, jobID string) (remote.StatusResult, error)
}

// Subscriber registers push observers, implemented by events.Manager.
type Subscriber interface {
	Subscribe(jobID string, observer events.Observer) (func(), error)
}

// Reconciler merges pull snapshots and push events into one
// authoritative JobState. Every update is stamped with a monotonic
// sequence number at this boundary, and a terminal status freezes the
// state: whichever source reports completion first wins, and a slow
// pull response arriving afterwards cannot regress it.
type Reconciler struct {
	puller  StatusPuller
	channel Subscriber
	log     zerolog.Logger
	notify  func(domain.JobState)

	mu          sync.Mutex
	attached    bool
	state       domain.JobState
	unsubscribe func()
}

// NewReconciler builds a reconciler. notify, when non-nil, runs after
// every accepted state change with the updated snapshot.
func NewReconciler(puller StatusPuller, channel Subscriber, notify func(domain.JobState), log zerolog.Logger) *Reconciler {
	return &Reconciler{
		puller:  puller,
		channel: channel,
		notify:  notify,
		log:     log,
	}
}

// Attach binds the reconciler to a job: one immediate status pull seeds
// the state (guarding against a missed first push event), then a push
// observer is registered for incremental updates. The seeded snapshot
// is returned.
func (r *Reconciler) Attach(ctx context.Context, jobID string) (domain.JobState, error) {
	r.mu.Lock()
	if r.attached {
		r.mu.Unlock()
		return domain.JobState{}, ErrAlreadyAttached
	}
	r.attached = true
	r.state = domain.JobState{JobID: jobID, Status: domain.JobStatusUnknown}
	r.mu.Unlock()

	seed, err := r.puller.JobStatus(ctx, jobID)
	if err != nil {
		r.reset()
		return domain.JobState{}, fmt.Errorf("seed job state: %w", err)
	}
	r.applyPullLocked(jobID, seed)

	snapshot, _ := r.Snapshot()
	if snapshot.Status.IsTerminal() {
		// Nothing left to observe.
		return snapshot, nil
	}

	unsubscribe, err := r.channel.Subscribe(jobID, func(event remote.JobEvent) {
		r.applyEvent(event)
	})
	if err != nil {
		r.reset()
		return domain.JobState{}, fmt.Errorf("subscribe job events: %w", err)
	}

	r.mu.Lock()
	if !r.attached {
		// Detached while subscribing.
		r.mu.Unlock()
		unsubscribe()
		return domain.JobState{}, ErrNotAttached
	}
	r.unsubscribe = unsubscribe
	frozen := r.state.Status.IsTerminal()
	snapshot = r.state
	r.mu.Unlock()

	if frozen {
		unsubscribe()
	}
	r.log.Debug().Str("jobId", jobID).Str("status", string(snapshot.Status)).Msg("job attached")
	return snapshot, nil
}

// Detach releases the push subscription and discards the state. No
// further network activity follows. Safe to call repeatedly.
func (r *Reconciler) Detach() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	jobID := r.state.JobID
	r.unsubscribe = nil
	r.attached = false
	r.state = domain.JobState{}
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if jobID != "" {
		r.log.Debug().Str("jobId", jobID).Msg("job detached")
	}
}

// Snapshot returns the current reconciled state.
func (r *Reconciler) Snapshot() (domain.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached {
		return domain.JobState{}, ErrNotAttached
	}
	return r.state, nil
}

// ApplyPull feeds a redundant poller's snapshot through the same
// reconciliation path as push events.
func (r *Reconciler) ApplyPull(jobID string, result remote.StatusResult) {
	r.applyPullLocked(jobID, result)
}

// applyPullLocked merges one pulled snapshot.
func (r *Reconciler) applyPullLocked(jobID string, result remote.StatusResult) {
	r.apply(jobID, func(state *domain.JobState) {
		state.Status = result.Status
		state.Progress = result.Progress
		if result.PreviewURL != "" {
			state.PreviewURL = result.PreviewURL
		}
	})
}

// applyEvent merges one push event.
func (r *Reconciler) applyEvent(event remote.JobEvent) {
	r.apply(event.JobID, func(state *domain.JobState) {
		state.Status = event.Status()
		switch event.Type {
		case remote.EventJobProgress, remote.EventJobCompleted:
			state.Progress = event.Progress
		}
		if event.PreviewURL != "" {
			state.PreviewURL = event.PreviewURL
		}
		if event.Error != "" {
			state.Error = event.Error
		}
	})
}

// apply runs one update under the freeze and sequencing rules, then
// notifies. On reaching a terminal status the push subscription is
// released.
func (r *Reconciler) apply(jobID string, mutate func(*domain.JobState)) {
	r.mu.Lock()
	if !r.attached || r.state.JobID != jobID || r.state.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}

	mutate(&r.state)
	r.state.Seq++
	snapshot := r.state

	var unsubscribe func()
	if snapshot.Status.IsTerminal() {
		unsubscribe = r.unsubscribe
		r.unsubscribe = nil
	}
	r.mu.Unlock()

	if r.notify != nil {
		r.notify(snapshot)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// reset rolls back a failed attach.
func (r *Reconciler) reset() {
	r.mu.Lock()
	r.attached = false
	r.state = domain.JobState{}
	r.unsubscribe = nil
	r.mu.Unlock()
}
