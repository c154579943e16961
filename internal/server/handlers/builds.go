package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
)

// JobSource is the live view of the worker pool.
type JobSource interface {
	Workers() int
	Length() int
	Queued() []queue.Job
	Active() []queue.Job
	History() []queue.Job
}

// BuildHistory serves persisted build events.
type BuildHistory interface {
	Events(ctx context.Context, buildID string) ([]eventstore.Event, error)
	BuildLog(ctx context.Context, buildID string) (string, error)
	Projection() *eventstore.BuildHistoryProjection
}

// BuildHandlers serves the /api/builds endpoints.
type BuildHandlers struct {
	jobs         JobSource
	history      BuildHistory
	errorAdapter *errors.HTTPErrorAdapter
}

// NewBuildHandlers returns build API handlers. history may be nil.
func NewBuildHandlers(jobs JobSource, history BuildHistory, logger *slog.Logger) *BuildHandlers {
	return &BuildHandlers{
		jobs:         jobs,
		history:      history,
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
	}
}

// HandleList returns queued, running and recently finished jobs plus the
// persisted history projection.
func (h *BuildHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	resp := responses.BuildsResponse{
		Queued: h.jobs.Queued(),
		Active: h.jobs.Active(),
		Recent: h.jobs.History(),
	}
	if h.history != nil {
		if p := h.history.Projection(); p != nil {
			resp.History = p.GetHistory()
		}
	}
	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to write builds response").Build())
	}
}

// HandleEvents returns the stored event stream of one build.
func (h *BuildHandlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.history == nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.NotFoundError("build history is disabled").Build())
		return
	}
	events, err := h.history.Events(r.Context(), id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := responses.BuildEventsResponse{BuildID: id, Events: make([]responses.EventResponse, 0, len(events))}
	for _, e := range events {
		er := responses.EventResponse{
			ID:        e.ID(),
			Type:      e.Type(),
			Timestamp: e.Timestamp(),
			Metadata:  e.Metadata(),
		}
		// Compressed log payloads are served by HandleLog.
		if e.Type() != eventstore.TypeBuildLog && json.Valid(e.Payload()) {
			er.Payload = json.RawMessage(e.Payload())
		}
		resp.Events = append(resp.Events, er)
	}
	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to write events response").Build())
	}
}

// HandleLog returns the full retained log of one build as plain text.
func (h *BuildHandlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.history == nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.NotFoundError("build history is disabled").Build())
		return
	}
	log, err := h.history.BuildLog(r.Context(), id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(log))
}
