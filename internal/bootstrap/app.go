package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"face-studio/internal/config"
	"face-studio/internal/diagnostics"
	"face-studio/internal/domain"
	"face-studio/internal/events"
	"face-studio/internal/geometry"
	"face-studio/internal/jobs"
	"face-studio/internal/poll"
	"face-studio/internal/remote"
	"face-studio/internal/wizard"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var sourceDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Face images",
		Pattern:     "*.png;*.jpg;*.jpeg;*.webp",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var targetDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.png;*.jpg;*.jpeg",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// serviceAPI is the slice of the remote client the app wires into the
// reconciler, the wizard, and the job actions.
type serviceAPI interface {
	SubmitJob(ctx context.Context, settings domain.Settings) (remote.SubmitResult, error)
	JobStatus(ctx context.Context, jobID string) (remote.StatusResult, error)
	StopJob(ctx context.Context) error
	StartAnalysis(ctx context.Context, videoPath string) (string, error)
	AnalysisProgress(ctx context.Context, jobID string) (remote.AnalysisProgress, error)
	Clusters(ctx context.Context, jobID string) ([]domain.FaceCluster, error)
	Suggestions(ctx context.Context, jobID string) (domain.SettingsSuggestion, error)
	GenerateJobs(ctx context.Context, jobID string) error
	EventChannelURL(jobID string) string
}

// App wires configuration, the remote client, the event channel, the
// reconciler, and the wizard behind Wails-bound methods.
type App struct {
	assets  fs.FS
	log     zerolog.Logger
	store   config.Store
	checker *diagnostics.Checker

	channel    *events.Manager
	reconciler *jobs.Reconciler
	wizard     *wizard.Orchestrator

	mu          sync.Mutex
	settings    domain.Settings
	api         serviceAPI
	diagnostics diagnostics.Report
	runtimeCtx  context.Context
	jobPoller   *poll.Poller[remote.StatusResult]
}

// apiProxy routes component calls through the app's current client so
// a settings change swaps the endpoint everywhere at once.
type apiProxy struct{ app *App }

func (p apiProxy) JobStatus(ctx context.Context, jobID string) (remote.StatusResult, error) {
	return p.app.currentAPI().JobStatus(ctx, jobID)
}

func (p apiProxy) StartAnalysis(ctx context.Context, videoPath string) (string, error) {
	return p.app.currentAPI().StartAnalysis(ctx, videoPath)
}

func (p apiProxy) AnalysisProgress(ctx context.Context, jobID string) (remote.AnalysisProgress, error) {
	return p.app.currentAPI().AnalysisProgress(ctx, jobID)
}

func (p apiProxy) Clusters(ctx context.Context, jobID string) ([]domain.FaceCluster, error) {
	return p.app.currentAPI().Clusters(ctx, jobID)
}

func (p apiProxy) Suggestions(ctx context.Context, jobID string) (domain.SettingsSuggestion, error) {
	return p.app.currentAPI().Suggestions(ctx, jobID)
}

func (p apiProxy) GenerateJobs(ctx context.Context, jobID string) error {
	return p.app.currentAPI().GenerateJobs(ctx, jobID)
}

// New builds the application with persisted settings and startup
// diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures
// embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".face-studio", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	log := newLogger()
	app := newApp(assets, store, settings, log, nil, nil)
	app.diagnostics = app.checker.Run(settings)
	return app, nil
}

// newApp assembles the component graph. api and dialer default to the
// production remote client and websocket transport when nil.
func newApp(assets fs.FS, store config.Store, settings domain.Settings, log zerolog.Logger, api serviceAPI, dialer events.Dialer) *App {
	a := &App{
		assets:   assets,
		log:      log,
		store:    store,
		settings: settings,
		checker:  diagnostics.NewChecker(),
	}

	if api == nil {
		api = remote.NewClient(settings.ServiceURL)
	}
	a.api = api

	if dialer == nil {
		dialer = events.NewWebsocketDialer(func(jobID string) string {
			return a.currentAPI().EventChannelURL(jobID)
		}, log)
	}
	a.channel = events.NewManager(dialer, log)

	proxy := apiProxy{app: a}
	a.reconciler = jobs.NewReconciler(proxy, a.channel, a.emitJobState, log)
	a.wizard = wizard.New(proxy, time.Second, a.emitWizardSession, log)
	return a
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Face Studio",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.DetachJob()
			a.wizard.Close()
			a.channel.Close()
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings validates and persists settings, rebuilds the remote
// client for the configured endpoint, and refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	settings.ServiceURL = strings.TrimRight(strings.TrimSpace(settings.ServiceURL), "/")
	if err := a.store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	rebuilt := settings.ServiceURL != a.settings.ServiceURL
	a.settings = settings
	if rebuilt {
		a.api = remote.NewClient(settings.ServiceURL)
	}
	a.mu.Unlock()

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()

	return settings, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() diagnostics.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reloads settings and reruns the service checks.
func (a *App) RefreshDiagnostics() (diagnostics.Report, error) {
	settings, err := a.store.Load()
	if err != nil {
		return diagnostics.Report{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.settings = settings
	a.diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// PickSourceFile opens a native file dialog for the source face image.
func (a *App) PickSourceFile() (string, error) {
	return a.pickFile("Select source face", sourceDialogFilter)
}

// PickTargetFile opens a native file dialog for the target media.
func (a *App) PickTargetFile() (string, error) {
	return a.pickFile("Select target media", targetDialogFilter)
}

func (a *App) pickFile(title string, filters []wailsruntime.FileFilter) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   title,
		Filters: filters,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// SubmitJob submits the current configuration and, when the service
// answers with a job id, attaches to it for live tracking.
func (a *App) SubmitJob() (domain.JobState, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.JobState{}, err
	}

	result, err := a.currentAPI().SubmitJob(context.Background(), settings)
	if err != nil {
		return domain.JobState{}, fmt.Errorf("submit job: %w", err)
	}

	if result.JobID == "" {
		// Short synchronous runs complete inside the submit call.
		state := domain.JobState{
			Status:     result.Status,
			Progress:   1,
			PreviewURL: result.PreviewURL,
		}
		a.emitJobState(state)
		return state, nil
	}

	a.log.Info().Str("jobId", result.JobID).Msg("job submitted")
	return a.AttachJob(result.JobID)
}

// StopJob asks the service to stop the active job. Status updates keep
// flowing through the attached reconciler until the cancel event lands.
func (a *App) StopJob() error {
	if err := a.currentAPI().StopJob(context.Background()); err != nil {
		return fmt.Errorf("stop job: %w", err)
	}
	return nil
}

// AttachJob binds the UI to a job: any previous attachment is released
// first, then the reconciler seeds from a status pull and subscribes to
// push events, with a redundant status poll as backup path.
func (a *App) AttachJob(jobID string) (domain.JobState, error) {
	a.DetachJob()

	state, err := a.reconciler.Attach(context.Background(), jobID)
	if err != nil {
		return domain.JobState{}, err
	}

	if !state.Status.IsTerminal() {
		a.startJobPoll(jobID)
	}
	return state, nil
}

// DetachJob releases the current job attachment and its polling.
func (a *App) DetachJob() {
	a.mu.Lock()
	poller := a.jobPoller
	a.jobPoller = nil
	a.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	a.reconciler.Detach()
}

// JobSnapshot returns the reconciled state of the attached job.
func (a *App) JobSnapshot() (domain.JobState, error) {
	return a.reconciler.Snapshot()
}

// startJobPoll runs the redundant pull path feeding the reconciler.
func (a *App) startJobPoll(jobID string) {
	interval := a.pollInterval()
	fetcher := func(ctx context.Context) (remote.StatusResult, error) {
		return a.currentAPI().JobStatus(ctx, jobID)
	}

	poller := poll.Start(fetcher, interval,
		func(result remote.StatusResult) { a.reconciler.ApplyPull(jobID, result) },
		func(result remote.StatusResult) bool { return result.Status.IsTerminal() },
		a.log)

	a.mu.Lock()
	a.jobPoller = poller
	a.mu.Unlock()
}

// StartWizard opens a wizard session for the target media path.
func (a *App) StartWizard(videoPath string) (wizard.Session, error) {
	return a.wizard.Start(videoPath)
}

// AdvanceWizard performs the user-driven forward stage transition.
func (a *App) AdvanceWizard() (wizard.Session, error) {
	return a.wizard.Advance()
}

// ConfirmWizardGenerate submits the generate-jobs request.
func (a *App) ConfirmWizardGenerate() (wizard.Session, error) {
	return a.wizard.ConfirmGenerate()
}

// CloseWizard dismisses the session and stops its polling.
func (a *App) CloseWizard() {
	a.wizard.Close()
}

// WizardSnapshot returns the current wizard session state.
func (a *App) WizardSnapshot() (wizard.Session, error) {
	return a.wizard.Snapshot()
}

// RegionSelection is the frontend-facing result of a drag mapping.
// Valid is false while the mapping is unavailable or the selection is
// degenerate; no box may be rendered then.
type RegionSelection struct {
	Region *domain.Region `json:"region"`
	Valid  bool           `json:"valid"`
}

// ContainerBox is a persisted region mapped back to screen
// coordinates.
type ContainerBox struct {
	Rect  geometry.Rect `json:"rect"`
	Valid bool          `json:"valid"`
}

// MapRegionToMedia converts a drag gesture in container coordinates to
// a native-media region.
func (a *App) MapRegionToMedia(down, up geometry.Point, container, media geometry.Size) RegionSelection {
	region, ok, err := geometry.ToMediaSpace(down, up, container, media)
	if err != nil {
		a.log.Debug().Err(err).Msg("region mapping unavailable")
		return RegionSelection{}
	}
	if !ok {
		return RegionSelection{}
	}
	return RegionSelection{Region: &region, Valid: true}
}

// MapRegionToContainer converts a persisted media region back to an
// on-screen rectangle.
func (a *App) MapRegionToContainer(region domain.Region, container, media geometry.Size) ContainerBox {
	rect, err := geometry.ToContainerSpace(region, container, media)
	if err != nil {
		a.log.Debug().Err(err).Msg("region mapping unavailable")
		return ContainerBox{}
	}
	return ContainerBox{Rect: rect, Valid: true}
}

// SetRegion stores the processing region (or clears it) in settings.
func (a *App) SetRegion(region *domain.Region) (domain.Settings, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	settings.Region = region
	return a.SaveSettings(settings)
}

// currentAPI returns the client for the configured endpoint.
func (a *App) currentAPI() serviceAPI {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.api
}

// pollInterval returns the configured status poll cadence.
func (a *App) pollInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(a.settings.PollIntervalMs) * time.Millisecond
}

// emitJobState pushes a reconciled snapshot to the frontend.
func (a *App) emitJobState(state domain.JobState) {
	a.emit("job:state", state)
}

// emitWizardSession pushes a wizard session snapshot to the frontend.
func (a *App) emitWizardSession(session wizard.Session) {
	a.emit("wizard:session", session)
}

// emit forwards one runtime event when the UI is up.
func (a *App) emit(name string, payload any) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, name, payload)
	}
}

// runtimeContext returns the current Wails runtime context for dialog
// APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// newLogger builds the app logger writing human-readable lines to
// stderr.
func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(writer).With().Timestamp().Logger()
}
