package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"face-studio/internal/domain"
	"face-studio/internal/poll"
	"face-studio/internal/remote"
)

// ErrSessionActive is returned when starting a wizard while another
// session is open.
var ErrSessionActive = errors.New("wizard session already active")

// ErrNoSession is returned by stage actions without an open session.
var ErrNoSession = errors.New("no wizard session")

// ErrStagePrecondition is returned when a stage action is requested
// before the prior stage produced its output. Callers are expected to
// disable the action instead; no request reaches the service.
var ErrStagePrecondition = errors.New("wizard stage precondition not met")

// StageError is a stage-aware failure surfaced to the UI.
type StageError struct {
	Stage   domain.WizardStage
	Message string
	Err     error
}

// Error formats the failure for logs and UI.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// API is the remote surface the wizard drives.
type API interface {
	StartAnalysis(ctx context.Context, videoPath string) (string, error)
	AnalysisProgress(ctx context.Context, jobID string) (remote.AnalysisProgress, error)
	Clusters(ctx context.Context, jobID string) ([]domain.FaceCluster, error)
	Suggestions(ctx context.Context, jobID string) (domain.SettingsSuggestion, error)
	GenerateJobs(ctx context.Context, jobID string) error
}

// Session is the wizard state exposed to the frontend. Stage only moves
// forward; each stage's output is the precondition of the next.
type Session struct {
	ID          string                     `json:"id"`
	JobID       string                     `json:"jobId"`
	Stage       domain.WizardStage         `json:"stage"`
	Progress    float64                    `json:"progress"`
	Activity    string                     `json:"activity,omitempty"`
	Analysis    *domain.AnalysisResult     `json:"analysis,omitempty"`
	Clusters    []domain.FaceCluster       `json:"clusters,omitempty"`
	Suggestions *domain.SettingsSuggestion `json:"suggestions,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Done        bool                       `json:"done"`
}

// Orchestrator drives the analyze/cluster/optimize/generate pipeline
// against one remote analysis job. The analyze stage polls the service
// and transitions to cluster automatically on completion; the later
// transitions are user-driven. Partial progress is not persisted across
// sessions.
type Orchestrator struct {
	api          API
	pollInterval time.Duration
	notify       func(Session)
	log          zerolog.Logger

	mu      sync.Mutex
	active  bool
	session Session
	cancel  context.CancelFunc
	ctx     context.Context
	poller  *poll.Poller[remote.AnalysisProgress]
}

// New builds an orchestrator. notify, when non-nil, runs after every
// session change. pollInterval is the analyze-stage polling cadence,
// one second in production.
func New(api API, pollInterval time.Duration, notify func(Session), log zerolog.Logger) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Orchestrator{
		api:          api,
		pollInterval: pollInterval,
		notify:       notify,
		log:          log,
	}
}

// Start opens a session for the target media path: it submits the
// analysis request, stores the returned job id, and begins polling its
// progress.
func (o *Orchestrator) Start(videoPath string) (Session, error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	o.active = true
	ctx, cancel := context.WithCancel(context.Background())
	o.ctx = ctx
	o.cancel = cancel
	o.session = Session{ID: uuid.NewString(), Stage: domain.StageAnalyze}
	o.mu.Unlock()

	jobID, err := o.api.StartAnalysis(ctx, videoPath)
	if err != nil {
		o.closeInternal()
		return Session{}, &StageError{Stage: domain.StageAnalyze, Message: "failed to start analysis", Err: err}
	}

	o.mu.Lock()
	if !o.active || o.ctx != ctx {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}
	o.session.JobID = jobID
	session := o.session
	o.mu.Unlock()

	o.log.Info().Str("jobId", jobID).Str("video", videoPath).Msg("wizard analysis started")
	o.startAnalysisPoll(ctx, jobID)
	o.emit(session)
	return session, nil
}

// startAnalysisPoll polls the analysis job until terminal. Completion
// triggers the automatic analyze-to-cluster transition.
func (o *Orchestrator) startAnalysisPoll(ctx context.Context, jobID string) {
	fetcher := func(ctx context.Context) (remote.AnalysisProgress, error) {
		return o.api.AnalysisProgress(ctx, jobID)
	}

	poller := poll.Start(fetcher, o.pollInterval,
		func(progress remote.AnalysisProgress) { o.onAnalysisUpdate(ctx, jobID, progress) },
		func(progress remote.AnalysisProgress) bool { return progress.Status.IsTerminal() },
		o.log)

	o.mu.Lock()
	if o.ctx != ctx {
		// Session was closed while the poller spun up.
		o.mu.Unlock()
		poller.Stop()
		return
	}
	o.poller = poller
	o.mu.Unlock()
}

// onAnalysisUpdate applies one analysis progress snapshot.
func (o *Orchestrator) onAnalysisUpdate(ctx context.Context, jobID string, progress remote.AnalysisProgress) {
	o.mu.Lock()
	if !o.active || o.ctx != ctx || o.session.Stage != domain.StageAnalyze {
		o.mu.Unlock()
		return
	}
	o.session.Progress = progress.Progress
	o.session.Activity = string(progress.Status)

	switch progress.Status {
	case remote.AnalysisFailed:
		message := progress.Error
		if message == "" {
			message = "analysis failed"
		}
		o.session.Error = message
		session := o.session
		o.mu.Unlock()
		o.log.Warn().Str("jobId", jobID).Str("error", message).Msg("wizard analysis failed")
		o.emit(session)
		return
	case remote.AnalysisCompleted:
		o.session.Analysis = progress.Result
		o.session.Stage = domain.StageCluster
		o.session.Progress = 1
		session := o.session
		o.mu.Unlock()
		o.emit(session)
		o.fetchClusters(ctx, jobID)
		return
	default:
		session := o.session
		o.mu.Unlock()
		o.emit(session)
	}
}

// fetchClusters loads the cluster list immediately after the automatic
// transition into the cluster stage.
func (o *Orchestrator) fetchClusters(ctx context.Context, jobID string) {
	clusters, err := o.api.Clusters(ctx, jobID)

	o.mu.Lock()
	if !o.active || o.ctx != ctx {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.session.Error = fmt.Sprintf("fetch clusters: %v", err)
	} else {
		o.session.Clusters = clusters
	}
	session := o.session
	o.mu.Unlock()

	if err != nil {
		o.log.Warn().Err(err).Str("jobId", jobID).Msg("cluster fetch failed")
	}
	o.emit(session)
}

// Advance performs the user-driven forward transitions: cluster to
// optimize (fetching suggestions) and optimize to generate. Backward
// moves do not exist, and advancing without the prior stage's output is
// rejected before any request is sent.
func (o *Orchestrator) Advance() (Session, error) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}
	stage := o.session.Stage
	jobID := o.session.JobID
	ctx := o.ctx
	o.mu.Unlock()

	switch stage {
	case domain.StageCluster:
		if jobID == "" {
			return Session{}, ErrStagePrecondition
		}
		return o.advanceToOptimize(ctx, jobID)
	case domain.StageOptimize:
		return o.advanceToGenerate()
	case domain.StageAnalyze:
		// The analyze transition is automatic on completion.
		return Session{}, ErrStagePrecondition
	default:
		return Session{}, ErrStagePrecondition
	}
}

// advanceToOptimize requests parameter suggestions and enters the
// optimize stage on success.
func (o *Orchestrator) advanceToOptimize(ctx context.Context, jobID string) (Session, error) {
	suggestions, err := o.api.Suggestions(ctx, jobID)
	if err != nil {
		stageErr := &StageError{Stage: domain.StageOptimize, Message: "failed to fetch suggestions", Err: err}
		o.setError(stageErr.Error())
		return Session{}, stageErr
	}

	o.mu.Lock()
	if !o.active || o.ctx != ctx {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}
	o.session.Suggestions = &suggestions
	o.session.Stage = domain.StageOptimize
	o.session.Error = ""
	session := o.session
	o.mu.Unlock()

	o.emit(session)
	return session, nil
}

// advanceToGenerate moves into the summary stage; it requires the
// optimize output to exist.
func (o *Orchestrator) advanceToGenerate() (Session, error) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}
	if o.session.Suggestions == nil {
		o.mu.Unlock()
		return Session{}, ErrStagePrecondition
	}
	o.session.Stage = domain.StageGenerate
	session := o.session
	o.mu.Unlock()

	o.emit(session)
	return session, nil
}

// ConfirmGenerate submits the generate-jobs request. Success closes the
// session; failure leaves it open for retry.
func (o *Orchestrator) ConfirmGenerate() (Session, error) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}
	if o.session.Stage != domain.StageGenerate || o.session.JobID == "" {
		o.mu.Unlock()
		return Session{}, ErrStagePrecondition
	}
	jobID := o.session.JobID
	ctx := o.ctx
	o.mu.Unlock()

	if err := o.api.GenerateJobs(ctx, jobID); err != nil {
		stageErr := &StageError{Stage: domain.StageGenerate, Message: "failed to generate jobs", Err: err}
		o.setError(stageErr.Error())
		return Session{}, stageErr
	}

	o.mu.Lock()
	o.session.Done = true
	o.session.Error = ""
	session := o.session
	o.mu.Unlock()

	o.log.Info().Str("jobId", jobID).Msg("wizard generated jobs")
	o.emit(session)
	o.Close()
	return session, nil
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return Session{}, ErrNoSession
	}
	return o.session, nil
}

// Close dismisses the session and stops any in-flight polling. Safe to
// call repeatedly.
func (o *Orchestrator) Close() {
	o.closeInternal()
}

func (o *Orchestrator) closeInternal() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	cancel := o.cancel
	poller := o.poller
	o.cancel = nil
	o.ctx = nil
	o.poller = nil
	o.session = Session{}
	o.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// setError records a stage failure on the session without advancing.
func (o *Orchestrator) setError(message string) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.session.Error = message
	session := o.session
	o.mu.Unlock()
	o.emit(session)
}

// emit forwards a session snapshot to the notify callback.
func (o *Orchestrator) emit(session Session) {
	if o.notify != nil {
		o.notify(session)
	}
}
