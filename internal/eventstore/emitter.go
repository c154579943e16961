package eventstore

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
)

// Emitter persists build lifecycle events and keeps the projection current.
type Emitter struct {
	store      Store
	projection *BuildHistoryProjection
	logger     *slog.Logger
}

// NewEmitter creates an Emitter. A nil store turns every emit into a no-op.
func NewEmitter(store Store, projection *BuildHistoryProjection, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, projection: projection, logger: logger}
}

// EmitEvent persists an event to the store and updates the projection.
func (e *Emitter) EmitEvent(ctx context.Context, event Event) error {
	if e == nil || e.store == nil {
		return nil
	}
	if err := e.store.Append(ctx, event.BuildID(), event.Type(), event.Payload(), event.Metadata()); err != nil {
		return err
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	return nil
}

func (e *Emitter) EmitBuildStarted(ctx context.Context, buildID string, meta BuildStartedMeta) error {
	event, err := NewBuildStarted(buildID, meta)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitPassCompleted(ctx context.Context, buildID string, pass PassData) error {
	event, err := NewPassCompleted(buildID, pass)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitBuildLog(ctx context.Context, buildID, log string) error {
	return e.EmitEvent(ctx, NewBuildLog(buildID, log))
}

func (e *Emitter) EmitBuildCompleted(ctx context.Context, buildID string, data BuildCompletedData) error {
	event, err := NewBuildCompleted(buildID, data)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitBuildFailed(ctx context.Context, buildID, stage, code, message string) error {
	event, err := NewBuildFailed(buildID, stage, code, message)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

// Events returns the stored events of a build. Unknown builds are NotFoundError.
func (e *Emitter) Events(ctx context.Context, buildID string) ([]Event, error) {
	if e == nil || e.store == nil {
		return nil, errors.NotFoundError("build history is disabled").Build()
	}
	events, err := e.store.GetByBuildID(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NotFoundError("unknown build").WithContext("build_id", buildID).Build()
	}
	return events, nil
}

// BuildLog returns the retained full log of a build.
func (e *Emitter) BuildLog(ctx context.Context, buildID string) (string, error) {
	events, err := e.Events(ctx, buildID)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type() == TypeBuildLog {
			return DecodeBuildLog(events[i])
		}
	}
	e.logger.Debug("Build has no retained log", logfields.BuildID(buildID))
	return "", errors.NotFoundError("build has no retained log").WithContext("build_id", buildID).Build()
}

// Projection returns the history projection, which may be nil.
func (e *Emitter) Projection() *BuildHistoryProjection {
	if e == nil {
		return nil
	}
	return e.projection
}
