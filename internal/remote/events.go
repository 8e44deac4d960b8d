package remote

import (
	"encoding/json"
	"fmt"

	"face-studio/internal/domain"
)

// EventType is the canonical push event vocabulary of the live channel.
type EventType string

const (
	EventJobQueued    EventType = "job_queued"
	EventJobStarted   EventType = "job_started"
	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

// JobEvent is one decoded push message. Progress carries a fraction in
// [0,1] for job_progress; Error carries the service message for
// job_failed; PreviewURL may accompany job_completed. Consumed once by
// the reconciler.
type JobEvent struct {
	JobID      string    `json:"jobId"`
	Type       EventType `json:"eventType"`
	Progress   float64   `json:"progress,omitempty"`
	Error      string    `json:"error,omitempty"`
	PreviewURL string    `json:"previewUrl,omitempty"`
}

// Status maps the event kind onto the job status it implies.
func (e JobEvent) Status() domain.JobStatus {
	switch e.Type {
	case EventJobQueued:
		return domain.JobStatusQueued
	case EventJobStarted, EventJobProgress:
		return domain.JobStatusRunning
	case EventJobCompleted:
		return domain.JobStatusCompleted
	case EventJobFailed:
		return domain.JobStatusFailed
	case EventJobCancelled:
		return domain.JobStatusCancelled
	default:
		return domain.JobStatusUnknown
	}
}

// wireEvent is the raw channel message: {jobId, eventType, data}.
type wireEvent struct {
	JobID     string          `json:"jobId"`
	EventType EventType       `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// wirePayload is the kind-specific data envelope.
type wirePayload struct {
	Progress   *float64 `json:"progress"`
	Error      string   `json:"error"`
	PreviewURL string   `json:"previewUrl"`
}

// ParseJobEvent decodes one wire message and normalizes its progress
// unit. An undecodable message or an unrecognized event kind is an
// error; the channel layer logs and drops it without closing.
func ParseJobEvent(raw []byte) (JobEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return JobEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if wire.JobID == "" {
		return JobEvent{}, fmt.Errorf("event without job id")
	}

	switch wire.EventType {
	case EventJobQueued, EventJobStarted, EventJobProgress,
		EventJobCompleted, EventJobFailed, EventJobCancelled:
	default:
		return JobEvent{}, fmt.Errorf("unknown event type %q", wire.EventType)
	}

	event := JobEvent{JobID: wire.JobID, Type: wire.EventType}
	if len(wire.Data) > 0 {
		var payload wirePayload
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return JobEvent{}, fmt.Errorf("decode event data: %w", err)
		}
		if payload.Progress != nil {
			event.Progress = NormalizeProgress(*payload.Progress)
		}
		event.Error = payload.Error
		event.PreviewURL = payload.PreviewURL
	}
	if event.Type == EventJobCompleted {
		event.Progress = 1
	}
	return event, nil
}

// NormalizeProgress converts the service's mixed progress units to a
// fraction in [0,1]. Values above 1 are treated as percentages.
func NormalizeProgress(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
