package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"face-studio/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	var cfg domain.Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	return cfg, nil
}

// Save validates, then writes settings as indented JSON, creating
// parent directories as needed.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Validate checks every settings field at the boundary before it is
// persisted or sent to the service.
func Validate(cfg domain.Settings) error {
	serviceURL := strings.TrimSpace(cfg.ServiceURL)
	if serviceURL == "" {
		return fmt.Errorf("service url is required")
	}
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("service url must be an http(s) URL: %q", cfg.ServiceURL)
	}

	if cfg.PollIntervalMs < 100 || cfg.PollIntervalMs > 60_000 {
		return fmt.Errorf("poll interval must be between 100 and 60000 ms, got %d", cfg.PollIntervalMs)
	}
	if cfg.EnhancerBlend < 0 || cfg.EnhancerBlend > 100 {
		return fmt.Errorf("enhancer blend must be between 0 and 100, got %d", cfg.EnhancerBlend)
	}
	if cfg.ReferenceScore < 0 || cfg.ReferenceScore > 1 {
		return fmt.Errorf("reference score must be between 0 and 1, got %v", cfg.ReferenceScore)
	}
	if region := cfg.Region; region != nil {
		if region.X1 < 0 || region.Y1 < 0 || region.X2 <= region.X1 || region.Y2 <= region.Y1 {
			return fmt.Errorf("region corners must satisfy 0 <= x1 < x2 and 0 <= y1 < y2")
		}
	}
	return nil
}
