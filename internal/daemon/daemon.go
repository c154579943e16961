// Package daemon assembles the texbuilder service: workspace cache, build
// pipeline, worker pool, build history, notifications, janitor, config
// watcher and HTTP server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/compiler"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
	"git.home.luguber.info/inful/texbuilder/internal/janitor"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/notify"
	"git.home.luguber.info/inful/texbuilder/internal/resolver"
	"git.home.luguber.info/inful/texbuilder/internal/server/httpserver"
	"git.home.luguber.info/inful/texbuilder/internal/toolchain"
	"git.home.luguber.info/inful/texbuilder/internal/version"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Option customizes how the daemon is assembled.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	runner  toolchain.Runner
	locator toolchain.Locator
}

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithToolchain replaces the process runner and executable locator.
func WithToolchain(r toolchain.Runner, l toolchain.Locator) Option {
	return func(o *options) {
		o.runner = r
		o.locator = l
	}
}

// Daemon represents the main daemon service.
type Daemon struct {
	mu         sync.RWMutex
	config     *config.Config
	configPath string
	status     atomic.Value // Status
	startTime  time.Time
	logger     *slog.Logger

	registry      *prom.Registry
	core          *Core
	eventStore    eventstore.Store
	emitter       *eventstore.Emitter
	notifier      notify.Notifier
	janitor       *janitor.Janitor
	configWatcher *ConfigWatcher
	httpServer    *httpserver.Server
	closed        bool
}

// New assembles a daemon from cfg. configPath enables hot reload of build
// settings when non-empty.
func New(cfg *config.Config, configPath string, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     o.logger,
		registry:   prom.NewRegistry(),
	}
	d.status.Store(StatusStopped)
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(d.registry)

	if !cfg.History.Disabled {
		store, err := eventstore.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create event store: %w", err)
		}
		d.eventStore = store
		projection := eventstore.NewBuildHistoryProjection(store, cfg.Build.HistorySize)
		if err := projection.Rebuild(context.Background()); err != nil {
			d.logger.Warn("Failed to rebuild build history projection", logfields.Error(err))
		}
		d.emitter = eventstore.NewEmitter(store, projection, d.logger)
	}

	notifier, err := notify.New(cfg.Notify, d.logger)
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	d.notifier = notifier

	poolOpts := []queue.Option{queue.WithNotifier(notifier)}
	if d.emitter != nil {
		poolOpts = append(poolOpts, queue.WithEventEmitter(d.emitter))
	}
	core, err := NewCore(cfg, CoreOptions{
		Logger:   d.logger,
		Recorder: recorder,
		Runner:   o.runner,
		Locator:  o.locator,
		Pool:     poolOpts,
	})
	if err != nil {
		d.closeStores()
		return nil, err
	}
	d.core = core

	janitorOpts := []janitor.Option{janitor.WithLogger(d.logger)}
	if d.eventStore != nil {
		janitorOpts = append(janitorOpts, janitor.WithEventStore(d.eventStore))
	}
	d.janitor = janitor.New(core.Cache, cfg.Workspace, cfg.History, janitorOpts...)

	if configPath != "" {
		d.configWatcher, err = NewConfigWatcher(configPath, d, d.logger)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	rt := httpserver.Runtime{
		Compiler: core.Service,
		Engines:  core.Orchestrator,
		Jobs:     core.Pool,
		Metrics:  metrics.HTTPHandler(d.registry),
	}
	if d.emitter != nil {
		rt.History = d.emitter
	}
	d.httpServer = httpserver.New(cfg, rt, d.logger)
	return d, nil
}

// Start starts every component and returns once the listener is bound.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.GetStatus(); s != StatusStopped || d.closed {
		return fmt.Errorf("daemon is not in stopped state: %s", s)
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	d.logger.Info("Starting texbuilder daemon", slog.String("version", version.String()))

	// Builds outlive ctx; Stop decides when running jobs are canceled.
	d.core.Pool.Start(context.WithoutCancel(ctx))

	if err := d.janitor.Start(ctx); err != nil {
		d.logger.Error("Failed to start janitor", logfields.Error(err))
	}

	if d.configWatcher != nil {
		if err := d.configWatcher.Start(ctx); err != nil {
			d.logger.Error("Failed to start config watcher", logfields.Error(err))
		}
	}

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusError)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.status.Store(StatusRunning)
	d.logger.Info("texbuilder daemon started",
		slog.String("addr", d.httpServer.Addr().String()),
		slog.Int("workers", d.core.Pool.Workers()),
		slog.Any("engines", d.core.Orchestrator.AvailableEngines()),
		logfields.Path(d.core.Cache.Root()))
	return nil
}

// Run starts the daemon, blocks until ctx is done, then stops it within the
// configured shutdown grace period.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		_ = d.Stop(context.Background())
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), d.Config().Server.ShutdownGrace)
	defer cancel()
	return d.Stop(stopCtx)
}

// Stop gracefully shuts down the daemon. In-flight responses are drained first,
// then the pool, then background jobs and stores. A stopped daemon cannot be
// started again.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopping:
		return nil
	case StatusStopped:
		// Never started: only the stores are open.
		d.closeStores()
		return nil
	}
	d.status.Store(StatusStopping)
	d.logger.Info("Stopping texbuilder daemon")

	var firstErr error
	if err := d.httpServer.Stop(ctx); err != nil {
		d.logger.Error("Failed to stop HTTP server", logfields.Error(err))
		firstErr = err
	}
	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			d.logger.Error("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if err := d.janitor.Stop(); err != nil {
		d.logger.Error("Failed to stop janitor", logfields.Error(err))
	}
	d.core.Pool.Stop(ctx)
	d.closeStores()

	d.status.Store(StatusStopped)
	d.logger.Info("texbuilder daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return firstErr
}

func (d *Daemon) closeStores() {
	if d.closed {
		return
	}
	d.closed = true
	if d.notifier != nil {
		if err := d.notifier.Close(); err != nil {
			d.logger.Error("Failed to close notifier", logfields.Error(err))
		}
	}
	if d.eventStore != nil {
		if err := d.eventStore.Close(); err != nil {
			d.logger.Error("Failed to close event store", logfields.Error(err))
		}
	}
}

// ReloadConfig applies the reloadable part of cfg: the build settings. Other
// sections keep their startup values until restart.
func (d *Daemon) ReloadConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}
	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()

	settings := build.SettingsFromConfig(cfg)
	d.core.Orchestrator.UpdateSettings(settings)
	d.logger.Info("Build settings updated",
		logfields.Engine(settings.DefaultEngine),
		slog.Any("engines", settings.Engines),
		slog.Duration("pass_timeout", settings.PassTimeout))
	return nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// Addr returns the HTTP listen address once started.
func (d *Daemon) Addr() string {
	if a := d.httpServer.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Service returns the compile service.
func (d *Daemon) Service() *compiler.Service {
	return d.core.Service
}

// Janitor returns the eviction scheduler.
func (d *Daemon) Janitor() *janitor.Janitor {
	return d.janitor
}

// Core is the compile engine without any outer surface: cache, resolver,
// orchestrator, pool and service. The daemon and the one-shot CLI share it.
type Core struct {
	Cache        *workspace.Cache
	Orchestrator *build.Orchestrator
	Pool         *queue.Pool
	Service      *compiler.Service
}

// CoreOptions customizes NewCore. Zero values select production defaults.
type CoreOptions struct {
	Logger   *slog.Logger
	Recorder metrics.Recorder
	Runner   toolchain.Runner
	Locator  toolchain.Locator
	Pool     []queue.Option
	// Workers overrides build.concurrent_builds when positive.
	Workers int
}

// NewCore builds the compile engine from cfg. The pool is not started.
func NewCore(cfg *config.Config, o CoreOptions) (*Core, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	recorder := metrics.OrNoop(o.Recorder)
	if o.Runner == nil {
		o.Runner = toolchain.NewExecRunner(o.Logger)
	}
	if o.Locator == nil {
		o.Locator = toolchain.PathLocator{}
	}

	cacheOpts := []workspace.Option{workspace.WithRecorder(recorder), workspace.WithLogger(o.Logger)}
	if cfg.Workspace.ScratchDir != "" {
		cacheOpts = append(cacheOpts, workspace.WithScratchDir(cfg.Workspace.ScratchDir))
	}
	cache, err := workspace.NewCache(cfg.Workspace.Root, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace cache: %w", err)
	}

	orch := build.NewOrchestrator(build.SettingsFromConfig(cfg), o.Runner, o.Locator,
		build.WithRecorder(recorder), build.WithLogger(o.Logger))

	workers := cfg.Build.ConcurrentBuilds
	if o.Workers > 0 {
		workers = o.Workers
	}
	poolOpts := append([]queue.Option{
		queue.WithRecorder(recorder),
		queue.WithLogger(o.Logger),
		queue.WithHistorySize(cfg.Build.HistorySize),
	}, o.Pool...)
	pool := queue.New(workers, cfg.Build.QueueSize, poolOpts...)

	return &Core{
		Cache:        cache,
		Orchestrator: orch,
		Pool:         pool,
		Service:      compiler.New(cache, resolver.New(o.Logger), orch, pool, o.Logger),
	}, nil
}
