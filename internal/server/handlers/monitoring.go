package handlers

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
	"git.home.luguber.info/inful/texbuilder/internal/version"
)

// EngineInfo reports the configured and installed engines.
type EngineInfo interface {
	AvailableEngines() []string
	Settings() build.Settings
}

// MonitoringHandlers contains status, health and landing page handlers.
type MonitoringHandlers struct {
	engines      EngineInfo
	jobs         JobSource
	authEnabled  bool
	startTime    time.Time
	errorAdapter *errors.HTTPErrorAdapter
	markdown     goldmark.Markdown
}

// NewMonitoringHandlers creates a new monitoring handlers instance.
func NewMonitoringHandlers(engines EngineInfo, jobs JobSource, authEnabled bool, logger *slog.Logger) *MonitoringHandlers {
	return &MonitoringHandlers{
		engines:      engines,
		jobs:         jobs,
		authEnabled:  authEnabled,
		startTime:    time.Now(),
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
		markdown:     goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// HandleStatus reports installed engines, the default engine and the pass timeout.
func (h *MonitoringHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	settings := h.engines.Settings()
	resp := responses.StatusResponse{
		Status:         "ok",
		Engines:        h.engines.AvailableEngines(),
		DefaultEngine:  settings.DefaultEngine,
		CompileTimeout: int(settings.PassTimeout / time.Second),
		Version:        version.String(),
		Workers:        h.jobs.Workers(),
		QueueLength:    h.jobs.Length(),
		Timestamp:      time.Now().UTC(),
	}
	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to write status response").Build())
	}
}

// HandleHealthCheck handles the health check endpoint.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := responses.HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Version:    version.Version,
		Uptime:     time.Since(h.startTime).Seconds(),
		ActiveJobs: len(h.jobs.Active()),
	}
	if err := writeJSONPretty(w, r, http.StatusOK, health); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to write health response").Build())
	}
}

// HandleLanding renders the landing page listing endpoints and engines.
func (h *MonitoringHandlers) HandleLanding(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if err := h.markdown.Convert([]byte(h.landingMarkdown(r)), &body); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to render landing page").Build())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>texbuilder</title></head><body>\n%s</body></html>\n", body.String())
}

func (h *MonitoringHandlers) landingMarkdown(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := scheme + "://" + r.Host

	engines := h.engines.AvailableEngines()
	engineList := "none found on PATH"
	if len(engines) > 0 {
		engineList = "`" + strings.Join(engines, "`, `") + "`"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# texbuilder %s\n\n", html.EscapeString(version.String()))
	fmt.Fprintf(&b, "LaTeX compile server at `%s`.\n\n", html.EscapeString(base))
	fmt.Fprintf(&b, "**Engines:** %s (default `%s`)\n\n", engineList, h.engines.Settings().DefaultEngine)
	b.WriteString("| Method | Path | Purpose |\n|---|---|---|\n")
	b.WriteString("| POST | `/compile` | JSON fileset, full or delta mode |\n")
	b.WriteString("| POST | `/compile-zip` | Multipart ZIP upload (`project`) |\n")
	b.WriteString("| POST | `/compile-delta` | Multipart `deleted_files` and `delta_zip` for a cached project |\n")
	b.WriteString("| GET | `/status` | Engines, default engine, timeout |\n")
	b.WriteString("| GET | `/api/builds` | Recent builds |\n")
	b.WriteString("| GET | `/metrics` | Prometheus metrics |\n\n")
	if h.authEnabled {
		b.WriteString("Compile and API routes require `Authorization: Bearer <token>`.\n")
	} else {
		b.WriteString("Authentication is disabled.\n")
	}
	return b.String()
}
