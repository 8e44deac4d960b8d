package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"face-studio/internal/domain"
	"face-studio/internal/events"
	"face-studio/internal/geometry"
	"face-studio/internal/remote"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saved    []domain.Settings
}

func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saved = append(s.saved, settings)
	return nil
}

// fakeService scripts the remote endpoints the app calls.
type fakeService struct {
	mu          sync.Mutex
	submit      remote.SubmitResult
	submitErr   error
	status      remote.StatusResult
	statusErr   error
	statusCalls int
	stopCalls   int
	stopErr     error
}

func (f *fakeService) SubmitJob(context.Context, domain.Settings) (remote.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submit, f.submitErr
}

func (f *fakeService) JobStatus(context.Context, string) (remote.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.statusErr
}

func (f *fakeService) StopJob(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeService) StartAnalysis(context.Context, string) (string, error) {
	return "analysis-1", nil
}

func (f *fakeService) AnalysisProgress(context.Context, string) (remote.AnalysisProgress, error) {
	return remote.AnalysisProgress{Status: remote.AnalysisCompleted, Progress: 1}, nil
}

func (f *fakeService) Clusters(context.Context, string) ([]domain.FaceCluster, error) {
	return nil, nil
}

func (f *fakeService) Suggestions(context.Context, string) (domain.SettingsSuggestion, error) {
	return domain.SettingsSuggestion{}, nil
}

func (f *fakeService) GenerateJobs(context.Context, string) error { return nil }

func (f *fakeService) EventChannelURL(jobID string) string {
	return "ws://127.0.0.1:7860/ws/jobs/" + jobID
}

// fakeConn blocks reads until a message is pushed or the conn closes.
type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out fake connections and records dialed jobs.
type fakeDialer struct {
	mu    sync.Mutex
	jobs  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, jobID string) (events.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.jobs = append(d.jobs, jobID)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testSettings() domain.Settings {
	return domain.Settings{
		ServiceURL:     "http://127.0.0.1:7860",
		PollIntervalMs: 1000,
		SourcePath:     "/media/source.jpg",
		TargetPath:     "/media/target.mp4",
	}
}

func newTestApp(service *fakeService, dialer *fakeDialer) (*App, *fakeStore) {
	store := &fakeStore{settings: testSettings()}
	app := newApp(nil, store, store.settings, zerolog.Nop(), service, dialer)
	return app, store
}

// waitForJobStatus polls the reconciled snapshot until the status
// appears or the deadline expires.
func waitForJobStatus(t *testing.T, app *App, want domain.JobStatus) domain.JobState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		state, err := app.JobSnapshot()
		if err == nil && state.Status == want {
			return state
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %q, last state %+v", want, state)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestSubmitJobSynchronousCompletion covers short runs that finish
// inside the submit call: no attachment, no push channel.
func TestSubmitJobSynchronousCompletion(t *testing.T) {
	service := &fakeService{
		submit: remote.SubmitResult{Status: domain.JobStatusCompleted, PreviewURL: "/previews/out.png"},
	}
	dialer := &fakeDialer{}
	app, _ := newTestApp(service, dialer)

	state, err := app.SubmitJob()
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if state.Status != domain.JobStatusCompleted || state.Progress != 1 {
		t.Fatalf("state = %+v", state)
	}
	if dialer.dialCount() != 0 {
		t.Fatalf("dials = %d, want 0", dialer.dialCount())
	}
}

// TestSubmitJobAttachesAndAppliesPush verifies the full live path:
// submit, seed from a status pull, open the push channel, and fold a
// completion event into the reconciled state.
func TestSubmitJobAttachesAndAppliesPush(t *testing.T) {
	service := &fakeService{
		submit: remote.SubmitResult{JobID: "job-1", Status: domain.JobStatusQueued},
		status: remote.StatusResult{Status: domain.JobStatusRunning, Progress: 0.25},
	}
	dialer := &fakeDialer{}
	app, _ := newTestApp(service, dialer)
	defer app.DetachJob()

	state, err := app.SubmitJob()
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if state.JobID != "job-1" || state.Status != domain.JobStatusRunning {
		t.Fatalf("seed state = %+v", state)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if got := dialer.jobs[0]; got != "job-1" {
		t.Fatalf("dialed job = %q", got)
	}

	dialer.latest().msgs <- []byte(`{"jobId":"job-1","eventType":"job_completed","data":{"previewUrl":"/previews/out.mp4"}}`)

	final := waitForJobStatus(t, app, domain.JobStatusCompleted)
	if final.Progress != 1 || final.PreviewURL != "/previews/out.mp4" {
		t.Fatalf("final state = %+v", final)
	}
}

// TestAttachJobTerminalSeedSkipsChannel checks that a job already
// finished at attach time never opens a push channel.
func TestAttachJobTerminalSeedSkipsChannel(t *testing.T) {
	service := &fakeService{
		status: remote.StatusResult{Status: domain.JobStatusCompleted, Progress: 1},
	}
	dialer := &fakeDialer{}
	app, _ := newTestApp(service, dialer)

	state, err := app.AttachJob("job-9")
	if err != nil {
		t.Fatalf("AttachJob() error = %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("state = %+v", state)
	}
	if dialer.dialCount() != 0 {
		t.Fatalf("dials = %d, want 0", dialer.dialCount())
	}
}

// TestDetachJobReleasesAttachment verifies a detached app rejects
// snapshots and a new attach succeeds.
func TestDetachJobReleasesAttachment(t *testing.T) {
	service := &fakeService{
		status: remote.StatusResult{Status: domain.JobStatusRunning, Progress: 0.5},
	}
	dialer := &fakeDialer{}
	app, _ := newTestApp(service, dialer)

	if _, err := app.AttachJob("job-1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	app.DetachJob()

	if _, err := app.JobSnapshot(); err == nil {
		t.Fatal("expected snapshot error after detach")
	}
	if _, err := app.AttachJob("job-2"); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	app.DetachJob()
}

// TestStopJobSurfacesServiceError checks error propagation.
func TestStopJobSurfacesServiceError(t *testing.T) {
	service := &fakeService{stopErr: errors.New("service down")}
	app, _ := newTestApp(service, &fakeDialer{})

	if err := app.StopJob(); err == nil {
		t.Fatal("expected error from StopJob")
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop calls = %d, want 1", service.stopCalls)
	}
}

// TestMapRegionToMediaAndBack covers the drag mapping surface exposed
// to the frontend, including the unavailable case.
func TestMapRegionToMediaAndBack(t *testing.T) {
	app, _ := newTestApp(&fakeService{}, &fakeDialer{})

	container := geometry.Size{Width: 800, Height: 600}
	media := geometry.Size{Width: 1920, Height: 1080}

	selection := app.MapRegionToMedia(
		geometry.Point{X: 100, Y: 100},
		geometry.Point{X: 400, Y: 325},
		container, media,
	)
	if !selection.Valid || selection.Region == nil {
		t.Fatalf("selection = %+v", selection)
	}
	want := domain.Region{X1: 240, Y1: 60, X2: 960, Y2: 780}
	if *selection.Region != want {
		t.Fatalf("region = %+v, want %+v", *selection.Region, want)
	}

	box := app.MapRegionToContainer(*selection.Region, container, media)
	if !box.Valid {
		t.Fatalf("box = %+v", box)
	}
	if box.Rect.X != 100 || box.Rect.Y != 100 {
		t.Fatalf("rect = %+v", box.Rect)
	}

	// No media dimensions yet: nothing may render.
	unavailable := app.MapRegionToMedia(
		geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 10},
		container, geometry.Size{},
	)
	if unavailable.Valid || unavailable.Region != nil {
		t.Fatalf("unavailable = %+v", unavailable)
	}
}

// TestSetRegionPersistsIntoSettings verifies the region survives the
// settings round trip and can be cleared again.
func TestSetRegionPersistsIntoSettings(t *testing.T) {
	app, store := newTestApp(&fakeService{}, &fakeDialer{})

	region := &domain.Region{X1: 240, Y1: 60, X2: 960, Y2: 780}
	settings, err := app.SetRegion(region)
	if err != nil {
		t.Fatalf("SetRegion() error = %v", err)
	}
	if settings.Region == nil || *settings.Region != *region {
		t.Fatalf("settings region = %+v", settings.Region)
	}

	cleared, err := app.SetRegion(nil)
	if err != nil {
		t.Fatalf("clear region: %v", err)
	}
	if cleared.Region != nil {
		t.Fatalf("region not cleared: %+v", cleared.Region)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saves = %d, want 2", len(store.saved))
	}
}

// TestWizardFlowThroughApp drives the wizard via the bound methods
// against the scripted service.
func TestWizardFlowThroughApp(t *testing.T) {
	app, _ := newTestApp(&fakeService{}, &fakeDialer{})
	defer app.CloseWizard()

	session, err := app.StartWizard("/media/target.mp4")
	if err != nil {
		t.Fatalf("StartWizard() error = %v", err)
	}
	if session.Stage != domain.StageAnalyze {
		t.Fatalf("stage = %q", session.Stage)
	}

	// The scripted analysis completes immediately; wait for the
	// automatic transition.
	deadline := time.After(2 * time.Second)
	for {
		snapshot, err := app.WizardSnapshot()
		if err == nil && snapshot.Stage == domain.StageCluster {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stuck in stage, snapshot = %+v", snapshot)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
