// Package queue runs builds on a bounded worker pool and keeps a short history
// of recent jobs.
package queue

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
)

// EventEmitter abstracts event emission for build lifecycle events.
type EventEmitter interface {
	EmitBuildStarted(ctx context.Context, buildID string, meta eventstore.BuildStartedMeta) error
	EmitPassCompleted(ctx context.Context, buildID string, pass eventstore.PassData) error
	EmitBuildLog(ctx context.Context, buildID, log string) error
	EmitBuildCompleted(ctx context.Context, buildID string, data eventstore.BuildCompletedData) error
	EmitBuildFailed(ctx context.Context, buildID, stage, code, message string) error
}

// Notifier is told about every finished job. Implementations must not block for long.
type Notifier interface {
	BuildFinished(ctx context.Context, job Job, result *build.Result)
}

// Pool manages the queue of build jobs.
type Pool struct {
	jobs        chan *entry
	workers     int
	maxSize     int
	mu          sync.RWMutex
	queued      map[string]*entry
	active      map[string]*entry
	history     []*entry
	historySize int
	stopChan    chan struct{}
	stopped     bool
	wg          sync.WaitGroup

	recorder     metrics.Recorder
	eventEmitter EventEmitter
	notifier     Notifier
	logger       *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) { p.recorder = metrics.OrNoop(r) }
}

func WithEventEmitter(e EventEmitter) Option {
	return func(p *Pool) { p.eventEmitter = e }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pool) { p.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHistorySize bounds the number of finished jobs kept in memory.
func WithHistorySize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.historySize = n
		}
	}
}

// New creates a pool with the given number of workers and queue capacity.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:        make(chan *entry, queueSize),
		workers:     workers,
		maxSize:     queueSize,
		queued:      make(map[string]*entry),
		active:      make(map[string]*entry),
		historySize: 50,
		stopChan:    make(chan struct{}),
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins processing jobs with the configured number of workers.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting build pool", slog.Int("workers", p.workers), slog.Int("max_size", p.maxSize))
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop stops accepting jobs and waits for running jobs until ctx ends, after which
// running jobs are canceled. Jobs still queued fail with a runtime error.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.mu.Lock()
		for _, e := range p.active {
			if e.cancel != nil {
				e.cancel()
			}
		}
		p.mu.Unlock()
		<-done
	}
	p.drain()
}

// drain fails every job left in the channel once the workers are gone.
func (p *Pool) drain() {
	for {
		select {
		case e := <-p.jobs:
			p.finishUnstarted(e, StatusFailed, errors.RuntimeError("build pool is shutting down").Build())
		default:
			return
		}
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Length returns the current queue length.
func (p *Pool) Length() int {
	return len(p.jobs)
}

// Do queues a build and waits for it. A full queue is rejected immediately with a
// runtime error. If ctx ends while the job is still queued, the job is dropped;
// once started, Do waits for the task to return (the task sees ctx canceled).
func (p *Pool) Do(ctx context.Context, spec Spec, task Task) (*build.Result, error) {
	if task == nil {
		return nil, errors.InternalError("build task is required").Build()
	}
	e := &entry{
		Job: Job{
			ID:        uuid.NewString(),
			ProjectID: spec.ProjectID,
			Engine:    spec.Engine,
			Mode:      spec.Mode,
			Source:    spec.Source,
			Status:    StatusQueued,
			CreatedAt: time.Now(),
		},
		task:   task,
		caller: ctx,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, errors.RuntimeError("build pool is shutting down").Build()
	}
	select {
	case p.jobs <- e:
		p.queued[e.ID] = e
	default:
		p.mu.Unlock()
		p.recorder.IncQueueRejected()
		p.recorder.IncBuildOutcome(metrics.BuildOutcomeRejected)
		p.logger.Warn("Build queue is full", slog.Int("max_size", p.maxSize))
		return nil, errors.RuntimeError("build queue is full").
			WithContext("queue_size", p.maxSize).
			Build()
	}
	p.mu.Unlock()
	p.recorder.SetQueueDepth(len(p.jobs))

	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
	}

	err := errors.WrapError(ctx.Err(), errors.CategoryRuntime, "build canceled while queued").Build()
	if p.finishUnstarted(e, StatusCanceled, err) {
		return nil, err
	}
	// A worker claimed the job first.
	<-e.done
	return e.result, e.err
}

// finishUnstarted completes a job that never reached a worker. It reports false
// when a worker already claimed the job, in which case done is left to the worker.
func (p *Pool) finishUnstarted(e *entry, status Status, err error) bool {
	p.mu.Lock()
	if e.Status != StatusQueued {
		p.mu.Unlock()
		return false
	}
	now := time.Now()
	e.Status = status
	e.CompletedAt = &now
	e.err = err
	e.Error = err.Error()
	e.Code = string(errors.GetCategory(err))
	delete(p.queued, e.ID)
	p.addToHistoryLocked(e)
	p.mu.Unlock()

	if status == StatusCanceled {
		p.recorder.IncBuildOutcome(metrics.BuildOutcomeCanceled)
	} else {
		p.recorder.IncBuildOutcome(metrics.BuildOutcomeError)
	}
	close(e.done)
	return true
}

func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case e := <-p.jobs:
			p.recorder.SetQueueDepth(len(p.jobs))
			if e != nil {
				p.processJob(ctx, e, workerID)
			}
		}
	}
}

func (p *Pool) processJob(ctx context.Context, e *entry, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.caller, cancel)
	defer stop()

	p.mu.Lock()
	if e.Status != StatusQueued {
		// canceled by the caller while waiting
		p.mu.Unlock()
		return
	}
	startTime := time.Now()
	e.cancel = cancel
	e.StartedAt = &startTime
	e.Status = StatusRunning
	e.Worker = workerID
	delete(p.queued, e.ID)
	p.active[e.ID] = e
	activeCount := len(p.active)
	p.mu.Unlock()
	p.recorder.SetActiveBuilds(activeCount)

	logger := p.logger.With(logfields.BuildID(e.ID), logfields.Worker(workerID))
	if e.ProjectID != "" {
		logger = logger.With(logfields.ProjectID(e.ProjectID))
	}
	logger.Info("Build started", logfields.Mode(e.Mode), slog.String("source", string(e.Source)))
	p.emitBuildStarted(jobCtx, e)

	result, err := p.runTask(jobCtx, e, logger)

	p.markJobCompleted(e, result, err)
	p.recorder.IncBuildOutcome(outcomeLabel(err))
	p.emitCompletionEvents(context.WithoutCancel(ctx), e, result, err, logger)
	if p.notifier != nil {
		p.notifier.BuildFinished(context.WithoutCancel(ctx), e.snapshot(), result)
	}
	close(e.done)
}

// runTask executes the task, converting a panic into an internal error.
func (p *Pool) runTask(ctx context.Context, e *entry, logger *slog.Logger) (result *build.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Build panicked", slog.Any("panic", r))
			result = nil
			err = errors.InternalError("build panicked").
				WithContext("panic", fmt.Sprint(r)).
				WithContext("build_id", e.ID).
				Build()
		}
	}()
	return e.task(ctx, e.ID)
}

func (p *Pool) markJobCompleted(e *entry, result *build.Result, err error) {
	endTime := time.Now()
	p.mu.Lock()
	e.CompletedAt = &endTime
	if e.StartedAt != nil {
		e.Duration = endTime.Sub(*e.StartedAt)
	}
	e.result = result
	e.err = err
	if result != nil {
		e.Engine = result.Engine
		e.Passes = result.EnginePasses()
	}
	switch {
	case err == nil:
		e.Status = StatusSucceeded
	case isCanceled(err):
		e.Status = StatusCanceled
	default:
		e.Status = StatusFailed
	}
	if err != nil {
		e.Error = err.Error()
		e.Code = string(errors.GetCategory(err))
	}
	delete(p.active, e.ID)
	p.addToHistoryLocked(e)
	activeCount := len(p.active)
	p.mu.Unlock()
	p.recorder.SetActiveBuilds(activeCount)
}

func (p *Pool) addToHistoryLocked(e *entry) {
	p.history = append(p.history, e)
	if len(p.history) > p.historySize {
		copy(p.history, p.history[len(p.history)-p.historySize:])
		p.history = p.history[:p.historySize]
	}
}

func (p *Pool) emitBuildStarted(ctx context.Context, e *entry) {
	if p.eventEmitter == nil {
		return
	}
	meta := eventstore.BuildStartedMeta{
		ProjectID: e.ProjectID,
		Engine:    e.Engine,
		Mode:      e.Mode,
		Source:    string(e.Source),
		WorkerID:  e.Worker,
	}
	if err := p.eventEmitter.EmitBuildStarted(ctx, e.ID, meta); err != nil {
		p.logger.Warn("Failed to emit BuildStarted event", logfields.BuildID(e.ID), logfields.Error(err))
	}
}

func (p *Pool) emitCompletionEvents(ctx context.Context, e *entry, result *build.Result, err error, logger *slog.Logger) {
	if err != nil {
		logger.Warn("Build failed", logfields.JobStatus(string(e.Status)), logfields.Error(err))
	} else {
		logger.Info("Build completed", logfields.DurationMS(float64(e.Duration.Milliseconds())), slog.Int("passes", e.Passes))
	}
	if p.eventEmitter == nil {
		return
	}

	warn := func(event string, emitErr error) {
		if emitErr != nil {
			logger.Warn("Failed to emit "+event+" event", logfields.Error(emitErr))
		}
	}
	if result != nil {
		for _, pass := range result.Passes {
			warn(eventstore.TypePassCompleted, p.eventEmitter.EmitPassCompleted(ctx, e.ID, eventstore.PassData{
				Name:       pass.Name,
				Tool:       pass.Tool,
				ExitCode:   pass.ExitCode,
				DurationMS: pass.Duration.Milliseconds(),
				TimedOut:   pass.TimedOut,
				Launched:   pass.Launched,
			}))
		}
		warn(eventstore.TypeBuildLog, p.eventEmitter.EmitBuildLog(ctx, e.ID, result.Log()))
	}

	if err != nil {
		warn(eventstore.TypeBuildFailed, p.eventEmitter.EmitBuildFailed(ctx, e.ID, stageOf(err), e.Code, err.Error()))
		return
	}
	data := eventstore.BuildCompletedData{DurationMS: e.Duration.Milliseconds()}
	if result != nil {
		data.Engine = result.Engine
		data.MainFile = result.MainFile
		data.Artifact = result.ArtifactName()
		data.Passes = result.EnginePasses()
	}
	warn(eventstore.TypeBuildCompleted, p.eventEmitter.EmitBuildCompleted(ctx, e.ID, data))
}

// Queued returns snapshots of jobs waiting for a worker.
func (p *Pool) Queued() []Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return snapshots(p.queued)
}

// Active returns snapshots of the running jobs.
func (p *Pool) Active() []Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return snapshots(p.active)
}

// History returns snapshots of finished jobs, newest first.
func (p *Pool) History() []Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Job, 0, len(p.history))
	for i := len(p.history) - 1; i >= 0; i-- {
		out = append(out, p.history[i].snapshot())
	}
	return out
}

// JobSnapshot returns a copy of a job (queued, active, then history).
func (p *Pool) JobSnapshot(id string) (Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if e, ok := p.queued[id]; ok {
		return e.snapshot(), true
	}
	if e, ok := p.active[id]; ok {
		return e.snapshot(), true
	}
	for _, e := range p.history {
		if e.ID == id {
			return e.snapshot(), true
		}
	}
	return Job{}, false
}

func snapshots(m map[string]*entry) []Job {
	out := make([]Job, 0, len(m))
	for _, e := range m {
		out = append(out, e.snapshot())
	}
	sortByCreated(out)
	return out
}

func sortByCreated(jobs []Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.Before(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

func isCanceled(err error) bool {
	return stdErrors.Is(err, context.Canceled)
}

func outcomeLabel(err error) metrics.BuildOutcomeLabel {
	if err == nil {
		return metrics.BuildOutcomeSuccess
	}
	if isCanceled(err) {
		return metrics.BuildOutcomeCanceled
	}
	switch errors.GetCategory(err) {
	case errors.CategoryCompilation:
		return metrics.BuildOutcomeCompilation
	case errors.CategoryTimeout:
		return metrics.BuildOutcomeTimeout
	case errors.CategoryValidation, errors.CategoryConfig, errors.CategoryCacheMiss, errors.CategoryNotFound:
		return metrics.BuildOutcomeRejected
	default:
		return metrics.BuildOutcomeError
	}
}

// stageOf returns the "stage" context of a classified error, defaulting by category.
func stageOf(err error) string {
	if c, ok := errors.AsClassified(err); ok {
		if s, ok := c.Context().GetString("stage"); ok {
			return s
		}
		switch c.Category() {
		case errors.CategoryValidation, errors.CategoryCacheMiss:
			return "workspace"
		case errors.CategoryNotFound:
			return "resolve"
		case errors.CategoryInternal:
			return "build"
		}
	}
	return "compile"
}
