// Package janitor evicts idle project workspaces and prunes old build history
// on a fixed interval.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

const jobName = "workspace-sweep"

// Report summarizes one sweep.
type Report struct {
	Evicted []string
	Skipped []string // locked by a running build
	Failed  []string
	Pruned  int64
}

// Janitor owns the sweep schedule.
type Janitor struct {
	cache     *workspace.Cache
	store     eventstore.Store
	maxIdle   time.Duration
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	scheduler gocron.Scheduler
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the time source used for history retention.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// WithEventStore enables history pruning against store.
func WithEventStore(store eventstore.Store) Option {
	return func(j *Janitor) { j.store = store }
}

// New returns a Janitor for cache. History pruning only runs when an event store
// is set and the retention is positive.
func New(cache *workspace.Cache, wcfg config.WorkspaceConfig, hcfg config.HistoryConfig, opts ...Option) *Janitor {
	j := &Janitor{
		cache:     cache,
		maxIdle:   wcfg.MaxIdle,
		interval:  wcfg.SweepInterval,
		retention: hcfg.Retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.interval <= 0 {
		j.interval = j.maxIdle
	}
	return j
}

// Enabled reports whether Start schedules anything.
func (j *Janitor) Enabled() bool {
	return j.maxIdle > 0 || (j.store != nil && j.retention > 0)
}

// Start schedules the sweep. A janitor with nothing to do is a no-op.
func (j *Janitor) Start(ctx context.Context) error {
	if !j.Enabled() {
		j.logger.Info("Janitor disabled")
		return nil
	}
	interval := j.interval
	if interval <= 0 {
		interval = j.retention
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	job, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Warn("Sweep failed", logfields.Error(err))
			}
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create sweep job: %w", err)
	}
	j.scheduler = s
	s.Start()
	j.logger.Info("Janitor started",
		logfields.ScheduleID(job.ID().String()),
		logfields.ScheduleName(jobName),
		slog.Duration("interval", interval),
		slog.Duration("max_idle", j.maxIdle))
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	s := j.scheduler
	j.scheduler = nil
	j.logger.Info("Stopping janitor")
	return s.Shutdown()
}

// Sweep evicts workspaces idle for longer than the configured maximum and prunes
// history past retention. Workspaces whose lock is held are left for a later sweep.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	if j.maxIdle > 0 {
		idle, err := j.cache.Idle(j.maxIdle)
		if err != nil {
			return rep, err
		}
		for _, key := range idle {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			j.evict(key, &rep)
		}
	}

	if j.store != nil && j.retention > 0 {
		n, err := j.store.DeleteBefore(ctx, j.now().Add(-j.retention))
		if err != nil {
			return rep, err
		}
		rep.Pruned = n
	}

	if len(rep.Evicted) > 0 || len(rep.Skipped) > 0 || rep.Pruned > 0 {
		j.logger.Info("Sweep finished",
			slog.Int("evicted", len(rep.Evicted)),
			slog.Int("skipped", len(rep.Skipped)),
			slog.Int64("pruned_events", rep.Pruned))
	}
	return rep, nil
}

func (j *Janitor) evict(key string, rep *Report) {
	unlock, ok := j.cache.Locks().TryLock(key)
	if !ok {
		rep.Skipped = append(rep.Skipped, key)
		return
	}
	defer unlock()

	// A build may have finished between listing and locking.
	if last, seen := j.cache.LastUsed(key); seen && j.now().Sub(last) <= j.maxIdle {
		return
	}
	if err := j.cache.Evict(key); err != nil {
		j.logger.Warn("Eviction failed", logfields.Workspace(key), logfields.Error(err))
		rep.Failed = append(rep.Failed, key)
		return
	}
	rep.Evicted = append(rep.Evicted, key)
}
