package diagnostics

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"face-studio/internal/domain"
)

// Status indicates whether a single startup check passed.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Item is one startup check result with optional hint.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Report aggregates startup checks for UI and API responses.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	HasFailures bool      `json:"hasFailures"`
	Items       []Item    `json:"items"`
}

// Checker validates the remote service endpoint and selected media
// paths.
type Checker struct {
	httpGet func(url string) (*http.Response, error)
	stat    func(string) (os.FileInfo, error)
}

// NewChecker builds a checker using real network and OS dependencies.
func NewChecker() *Checker {
	client := &http.Client{Timeout: 3 * time.Second}
	return &Checker{
		httpGet: client.Get,
		stat:    os.Stat,
	}
}

// NewCheckerForTests constructs a checker with injectable dependencies.
func NewCheckerForTests(
	httpGet func(string) (*http.Response, error),
	stat func(string) (os.FileInfo, error),
) *Checker {
	return &Checker{httpGet: httpGet, stat: stat}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) Report {
	items := []Item{
		c.checkServiceURL(settings.ServiceURL),
		c.checkServiceReachable(settings.ServiceURL),
		c.checkMediaPath("source", "Source media", settings.SourcePath),
		c.checkMediaPath("target", "Target media", settings.TargetPath),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == StatusFail {
			hasFailures = true
			break
		}
	}

	return Report{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkServiceURL validates the configured endpoint shape.
func (c *Checker) checkServiceURL(raw string) Item {
	item := Item{ID: "service-url", Name: "Service URL"}

	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if trimmed == "" || err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("invalid service url: %q", raw)
		item.Hint = "Set the processing service URL in settings, e.g. http://127.0.0.1:7860"
		return item
	}

	item.Status = StatusPass
	item.Message = trimmed
	return item
}

// checkServiceReachable probes the service health endpoint.
func (c *Checker) checkServiceReachable(baseURL string) Item {
	item := Item{ID: "service-health", Name: "Service reachable"}

	resp, err := c.httpGet(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/api/health")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("cannot reach service: %v", err)
		item.Hint = "Is the face-processing service running?"
		return item
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("service health returned status %d", resp.StatusCode)
		return item
	}

	item.Status = StatusPass
	item.Message = "service responded"
	return item
}

// checkMediaPath verifies a selected media file still exists. An
// unselected path is not a failure.
func (c *Checker) checkMediaPath(id, name, path string) Item {
	item := Item{ID: id, Name: name}

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		item.Status = StatusPass
		item.Message = "not selected"
		return item
	}

	info, err := c.stat(trimmed)
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("cannot access: %s", trimmed)
		item.Hint = "Pick the file again from the media selector"
		return item
	}
	if info.IsDir() {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("expected a file, got a directory: %s", trimmed)
		return item
	}

	item.Status = StatusPass
	item.Message = trimmed
	return item
}
