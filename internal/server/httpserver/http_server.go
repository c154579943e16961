// Package httpserver wires the texbuilder HTTP routes onto a chi router and
// runs the listener.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	derrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/server/handlers"
	smw "git.home.luguber.info/inful/texbuilder/internal/server/middleware"
)

// Server owns the HTTP listener.
type Server struct {
	cfg          config.ServerConfig
	router       chi.Router
	server       *http.Server
	addr         net.Addr
	logger       *slog.Logger
	errorAdapter *derrors.HTTPErrorAdapter

	monitoringHandlers *handlers.MonitoringHandlers
	compileHandlers    *handlers.CompileHandlers
	buildHandlers      *handlers.BuildHandlers
}

// New builds the router for cfg. The listener is opened by Start.
func New(cfg *config.Config, rt Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg.Server,
		logger:       logger,
		errorAdapter: derrors.NewHTTPErrorAdapter(logger),
	}
	maxBody := cfg.MaxRequestBytes()
	s.monitoringHandlers = handlers.NewMonitoringHandlers(rt.Engines, rt.Jobs, cfg.Server.AuthToken != "", logger)
	// Archives expand; the uncompressed cap is a multiple of the body limit.
	s.compileHandlers = handlers.NewCompileHandlers(rt.Compiler, 4*maxBody, logger)
	s.buildHandlers = handlers.NewBuildHandlers(rt.Jobs, rt.History, logger)
	s.router = s.routes(maxBody, rt.Metrics)
	return s
}

func (s *Server) routes(maxBody int64, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(smw.Chain(s.logger, s.errorAdapter))
	r.Use(smw.CORS(s.cfg.CORSOrigin))

	r.Get("/", s.monitoringHandlers.HandleLanding)
	r.Get("/status", s.monitoringHandlers.HandleStatus)
	r.Get("/healthz", s.monitoringHandlers.HandleHealthCheck)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(smw.BearerAuth(s.cfg.AuthToken, s.errorAdapter))
		r.With(smw.MaxBytes(maxBody)).Post("/compile", s.compileHandlers.HandleCompile)
		r.With(smw.MaxBytes(maxBody)).Post("/compile-zip", s.compileHandlers.HandleCompileZip)
		r.With(smw.MaxBytes(maxBody)).Post("/compile-delta", s.compileHandlers.HandleCompileDelta)

		r.Route("/api/builds", func(r chi.Router) {
			r.Get("/", s.buildHandlers.HandleList)
			r.Get("/{id}/events", s.buildHandlers.HandleEvents)
			r.Get("/{id}/log", s.buildHandlers.HandleLog)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, r, derrors.NotFoundError("no such endpoint").WithContext("path", r.URL.Path).Build())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("method not allowed").WithContext("method", r.Method).Build())
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("http startup failed: %w", err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.addr = ln.Addr()

	// No write timeout: a compile response is only written once the build finishes.
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", logfields.Error(err))
		}
	}()
	s.logger.Info("HTTP server started",
		slog.String("addr", s.addr.String()),
		slog.Bool("auth", s.cfg.AuthToken != ""),
		slog.Int("max_connections", s.cfg.MaxConnections))
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop gracefully shuts the server down, waiting for in-flight responses until
// ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
