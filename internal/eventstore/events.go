package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// BuildStartedMeta describes a build when a worker picks it up.
type BuildStartedMeta struct {
	ProjectID string `json:"project_id,omitempty"` // empty for stateless builds
	Engine    string `json:"engine,omitempty"`
	Mode      string `json:"mode"`
	Source    string `json:"source"`
	WorkerID  string `json:"worker_id"`
}

// PassData is the payload of a PassCompleted event.
type PassData struct {
	Name       string `json:"name"`
	Tool       string `json:"tool"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Launched   bool   `json:"launched"`
}

// BuildCompletedData is the payload of a BuildCompleted event.
type BuildCompletedData struct {
	Engine     string `json:"engine"`
	MainFile   string `json:"main_file"`
	Artifact   string `json:"artifact"`
	Passes     int    `json:"passes"`
	DurationMS int64  `json:"duration_ms"`
}

// BuildFailedData is the payload of a BuildFailed event.
type BuildFailedData struct {
	Stage string `json:"stage"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func newEvent(buildID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("build_id", buildID).
			Build()
	}
	return &BaseEvent{
		EventBuildID:   buildID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// NewBuildStarted creates a BuildStarted event.
func NewBuildStarted(buildID string, meta BuildStartedMeta) (Event, error) {
	return newEvent(buildID, TypeBuildStarted, meta)
}

// NewPassCompleted creates a PassCompleted event for one toolchain invocation.
func NewPassCompleted(buildID string, pass PassData) (Event, error) {
	return newEvent(buildID, TypePassCompleted, pass)
}

// NewBuildCompleted creates a BuildCompleted event.
func NewBuildCompleted(buildID string, data BuildCompletedData) (Event, error) {
	return newEvent(buildID, TypeBuildCompleted, data)
}

// NewBuildFailed creates a BuildFailed event. stage names where the build stopped
// (workspace, resolve, compile, queue) and code is the error category.
func NewBuildFailed(buildID, stage, code, message string) (Event, error) {
	return newEvent(buildID, TypeBuildFailed, BuildFailedData{Stage: stage, Code: code, Error: message})
}
