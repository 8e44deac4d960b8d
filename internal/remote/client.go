package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"face-studio/internal/domain"
)

// AnalysisStatus is the stage vocabulary of the wizard analysis job.
type AnalysisStatus string

const (
	AnalysisQueued          AnalysisStatus = "queued"
	AnalysisDetectingScenes AnalysisStatus = "detecting_scenes"
	AnalysisAnalyzingFaces  AnalysisStatus = "analyzing_faces"
	AnalysisCompleted       AnalysisStatus = "completed"
	AnalysisFailed          AnalysisStatus = "failed"
)

// IsTerminal reports whether the analysis run has finished.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// SubmitResult is the response to a job submission.
type SubmitResult struct {
	Status     domain.JobStatus `json:"status"`
	JobID      string           `json:"jobId,omitempty"`
	PreviewURL string           `json:"previewUrl,omitempty"`
}

// StatusResult is one pulled job status snapshot with normalized
// progress.
type StatusResult struct {
	Status     domain.JobStatus `json:"status"`
	Progress   float64          `json:"progress"`
	PreviewURL string           `json:"previewUrl,omitempty"`
}

// AnalysisProgress is one pulled wizard analysis snapshot.
type AnalysisProgress struct {
	Status   AnalysisStatus         `json:"status"`
	Progress float64                `json:"progress"`
	Result   *domain.AnalysisResult `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Client issues requests against the face-processing service. It owns
// the request/response shapes only; retry and scheduling live with the
// callers.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTP builds a client with a caller-supplied HTTP client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	c := NewClient(baseURL)
	if httpClient != nil {
		c.http = httpClient
	}
	return c
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// EventChannelURL returns the WebSocket endpoint for a job's push
// stream.
func (c *Client) EventChannelURL(jobID string) string {
	ws := strings.Replace(c.baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/ws/jobs/" + url.PathEscape(jobID)
}

// SubmitJob submits the current processing configuration.
func (c *Client) SubmitJob(ctx context.Context, settings domain.Settings) (SubmitResult, error) {
	var out struct {
		Status     string `json:"status"`
		JobID      string `json:"jobId"`
		PreviewURL string `json:"previewUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", settings, &out); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{
		Status:     mapJobStatus(out.Status),
		JobID:      out.JobID,
		PreviewURL: out.PreviewURL,
	}, nil
}

// JobStatus pulls the current status of one job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (StatusResult, error) {
	var out struct {
		Status     string  `json:"status"`
		Progress   float64 `json:"progress"`
		PreviewURL string  `json:"previewUrl"`
	}
	path := "/api/jobs/" + url.PathEscape(jobID) + "/status"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Status:     mapJobStatus(out.Status),
		Progress:   NormalizeProgress(out.Progress),
		PreviewURL: out.PreviewURL,
	}, nil
}

// StopJob asks the service to stop the active job.
func (c *Client) StopJob(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/stop", nil, nil)
}

// StartAnalysis submits the target media path for wizard analysis and
// returns the analysis job id.
func (c *Client) StartAnalysis(ctx context.Context, videoPath string) (string, error) {
	in := struct {
		VideoPath string `json:"videoPath"`
	}{VideoPath: videoPath}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/wizard/analysis", in, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("analysis response without job id")
	}
	return out.JobID, nil
}

// AnalysisProgress pulls the wizard analysis progress for a job.
func (c *Client) AnalysisProgress(ctx context.Context, jobID string) (AnalysisProgress, error) {
	var out AnalysisProgress
	path := "/api/wizard/analysis/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return AnalysisProgress{}, err
	}
	out.Progress = NormalizeProgress(out.Progress)
	return out, nil
}

// Clusters fetches the face clusters produced by a completed analysis.
func (c *Client) Clusters(ctx context.Context, jobID string) ([]domain.FaceCluster, error) {
	var out struct {
		Clusters []domain.FaceCluster `json:"clusters"`
	}
	path := "/api/wizard/analysis/" + url.PathEscape(jobID) + "/clusters"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

// Suggestions fetches the parameter suggestions for a completed
// analysis.
func (c *Client) Suggestions(ctx context.Context, jobID string) (domain.SettingsSuggestion, error) {
	var out struct {
		Suggestions domain.SettingsSuggestion `json:"suggestions"`
	}
	path := "/api/wizard/analysis/" + url.PathEscape(jobID) + "/suggestions"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.SettingsSuggestion{}, err
	}
	return out.Suggestions, nil
}

// GenerateJobs asks the service to create processing jobs from the
// wizard session.
func (c *Client) GenerateJobs(ctx context.Context, jobID string) error {
	path := "/api/wizard/analysis/" + url.PathEscape(jobID) + "/generate"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do issues one JSON request and decodes the response into out when
// non-nil. Non-2xx responses are returned as errors with the body text.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapJobStatus folds the service's status strings onto the canonical
// job status set.
func mapJobStatus(raw string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "drafted":
		return domain.JobStatusDrafted
	case "queued", "pending":
		return domain.JobStatusQueued
	case "processing", "running", "started":
		return domain.JobStatusRunning
	case "completed", "done":
		return domain.JobStatusCompleted
	case "failed", "error":
		return domain.JobStatusFailed
	case "cancelled", "canceled", "stopped":
		return domain.JobStatusCancelled
	default:
		return domain.JobStatusUnknown
	}
}
