// Package responses defines API response types used by texbuilder HTTP handlers.
package responses

import (
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
)

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status         string    `json:"status"`
	Engines        []string  `json:"engines"`
	DefaultEngine  string    `json:"default_engine"`
	CompileTimeout int       `json:"compile_timeout"` // seconds per engine pass
	Version        string    `json:"version"`
	Workers        int       `json:"workers"`
	QueueLength    int       `json:"queue_length"`
	Timestamp      time.Time `json:"timestamp"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	Uptime     float64   `json:"uptime"`
	ActiveJobs int       `json:"active_jobs"`
}

// BuildsResponse lists pool jobs alongside the persisted history.
type BuildsResponse struct {
	Queued  []queue.Job               `json:"queued"`
	Active  []queue.Job               `json:"active"`
	Recent  []queue.Job               `json:"recent"`
	History []eventstore.BuildSummary `json:"history,omitempty"`
}

// EventResponse is one stored build event.
type EventResponse struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// BuildEventsResponse is the /api/builds/{id}/events payload.
type BuildEventsResponse struct {
	BuildID string          `json:"build_id"`
	Events  []EventResponse `json:"events"`
}
