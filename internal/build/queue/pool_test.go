package queue

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/eventstore"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	failed []string // stage:code
}

func (r *recordingEmitter) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingEmitter) EmitBuildStarted(_ context.Context, _ string, meta eventstore.BuildStartedMeta) error {
	r.add(eventstore.TypeBuildStarted + ":" + meta.Source)
	return nil
}

func (r *recordingEmitter) EmitPassCompleted(_ context.Context, _ string, pass eventstore.PassData) error {
	r.add(eventstore.TypePassCompleted + ":" + pass.Name)
	return nil
}

func (r *recordingEmitter) EmitBuildLog(context.Context, string, string) error {
	r.add(eventstore.TypeBuildLog)
	return nil
}

func (r *recordingEmitter) EmitBuildCompleted(context.Context, string, eventstore.BuildCompletedData) error {
	r.add(eventstore.TypeBuildCompleted)
	return nil
}

func (r *recordingEmitter) EmitBuildFailed(_ context.Context, _ string, stage, code, _ string) error {
	r.add(eventstore.TypeBuildFailed)
	r.mu.Lock()
	r.failed = append(r.failed, stage+":"+code)
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []Job
}

func (n *recordingNotifier) BuildFinished(_ context.Context, job Job, _ *build.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
}

func startPool(t *testing.T, workers, size int, opts ...Option) *Pool {
	t.Helper()
	p := New(workers, size, opts...)
	p.Start(t.Context())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func successTask(_ context.Context, buildID string) (*build.Result, error) {
	return &build.Result{
		BuildID:  buildID,
		Success:  true,
		Engine:   "pdflatex",
		MainFile: "main.tex",
		Passes: []build.PassRecord{
			{Name: build.PassPrimary, Tool: "pdflatex", Launched: true},
			{Name: build.PassSecond, Tool: "pdflatex", Launched: true},
		},
	}, nil
}

func TestDoRunsTaskAndRecordsHistory(t *testing.T) {
	emitter := &recordingEmitter{}
	notifier := &recordingNotifier{}
	p := startPool(t, 2, 4, WithEventEmitter(emitter), WithNotifier(notifier))

	res, err := p.Do(t.Context(), Spec{ProjectID: "thesis", Mode: "full", Source: SourceJSON}, successTask)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.BuildID)

	job, ok := p.JobSnapshot(res.BuildID)
	require.True(t, ok, "the task receives the job id as build id")
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "thesis", job.ProjectID)
	assert.Equal(t, 2, job.Passes)
	assert.Equal(t, "pdflatex", job.Engine)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	assert.Equal(t, []string{
		"BuildStarted:json",
		"PassCompleted:pass1",
		"PassCompleted:pass2",
		"BuildLog",
		"BuildCompleted",
	}, emitter.snapshot())

	require.Len(t, notifier.jobs, 1)
	assert.Equal(t, res.BuildID, notifier.jobs[0].ID)
	assert.Len(t, p.History(), 1)
}

func TestFailedTaskEmitsBuildFailed(t *testing.T) {
	emitter := &recordingEmitter{}
	p := startPool(t, 1, 4, WithEventEmitter(emitter))

	_, err := p.Do(t.Context(), Spec{Source: SourceDelta}, func(context.Context, string) (*build.Result, error) {
		return nil, errors.CacheMissError("project workspace not found").Build()
	})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryCacheMiss))

	hist := p.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusFailed, hist[0].Status)
	assert.Equal(t, "cache_miss", hist[0].Code)
	assert.Equal(t, []string{"workspace:cache_miss"}, emitter.failed)
}

func TestFullQueueIsRejected(t *testing.T) {
	p := startPool(t, 1, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	blocking := func(ctx context.Context, id string) (*build.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return successTask(ctx, id)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Do(context.Background(), Spec{}, blocking)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Do(context.Background(), Spec{}, blocking)
	}()
	require.Eventually(t, func() bool { return p.Length() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := p.Do(t.Context(), Spec{}, blocking)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRuntime))
	assert.Len(t, p.Active(), 1)
	assert.Len(t, p.Queued(), 1)

	close(release)
	wg.Wait()
}

func TestWorkerBoundIsRespected(t *testing.T) {
	p := startPool(t, 2, 16)
	var running, peak atomic.Int32

	task := func(ctx context.Context, id string) (*build.Result, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return successTask(ctx, id)
	}

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Do(context.Background(), Spec{}, task)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, p.History(), 6)
}

func TestPanicBecomesInternalError(t *testing.T) {
	p := startPool(t, 1, 2)

	_, err := p.Do(t.Context(), Spec{}, func(context.Context, string) (*build.Result, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryInternal))

	_, err = p.Do(t.Context(), Spec{}, successTask)
	assert.NoError(t, err, "worker survives a panicking task")
}

func TestCancelWhileQueuedDropsJob(t *testing.T) {
	p := startPool(t, 1, 4)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = p.Do(context.Background(), Spec{}, func(ctx context.Context, id string) (*build.Result, error) {
			close(started)
			<-release
			return successTask(ctx, id)
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(t.Context())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, Spec{}, func(ctx context.Context, id string) (*build.Result, error) {
			ran.Store(true)
			return successTask(ctx, id)
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(p.Queued()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	require.Eventually(t, func() bool { return len(p.History()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestFinishUnstartedLeavesClaimedJobToWorker(t *testing.T) {
	p := New(1, 1)
	e := &entry{Job: Job{ID: "claimed", Status: StatusRunning}, done: make(chan struct{})}

	won := p.finishUnstarted(e, StatusCanceled, errors.RuntimeError("canceled").Build())
	assert.False(t, won)
	assert.Equal(t, StatusRunning, e.Status)
	select {
	case <-e.done:
		t.Fatal("done must stay open for the worker")
	default:
	}
	assert.Empty(t, p.History())
}

func TestCancelRacingDequeueNeverHidesARun(t *testing.T) {
	p := startPool(t, 1, 4)
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(t.Context())
		var ran atomic.Bool
		go cancel()
		_, err := p.Do(ctx, Spec{}, func(taskCtx context.Context, id string) (*build.Result, error) {
			ran.Store(true)
			return successTask(taskCtx, id)
		})
		if err != nil && strings.Contains(err.Error(), "canceled while queued") {
			require.False(t, ran.Load(), "iteration %d: job reported as dropped but its task ran", i)
		}
		cancel()
	}
}

func TestCancelWhileRunningWaitsForTask(t *testing.T) {
	p := startPool(t, 1, 1)
	ctx, cancel := context.WithCancel(t.Context())
	started := make(chan struct{})
	var cleanedUp atomic.Bool

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, Spec{}, func(taskCtx context.Context, _ string) (*build.Result, error) {
			close(started)
			<-taskCtx.Done()
			time.Sleep(10 * time.Millisecond)
			cleanedUp.Store(true)
			return nil, errors.WrapError(taskCtx.Err(), errors.CategoryRuntime, "canceled").Build()
		})
		errCh <- err
	}()
	<-started
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, cleanedUp.Load(), "Do returns only after the running task finished")
	assert.Equal(t, StatusCanceled, p.History()[0].Status)
}

func TestStopRejectsNewJobs(t *testing.T) {
	p := New(1, 2)
	p.Start(t.Context())
	p.Stop(t.Context())
	p.Stop(t.Context())

	_, err := p.Do(t.Context(), Spec{}, successTask)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRuntime))
}

func TestHistoryIsBounded(t *testing.T) {
	p := startPool(t, 1, 4, WithHistorySize(2))
	var ids []string
	for range 3 {
		res, err := p.Do(t.Context(), Spec{}, successTask)
		require.NoError(t, err)
		ids = append(ids, res.BuildID)
	}
	hist := p.History()
	require.Len(t, hist, 2)
	assert.Equal(t, ids[2], hist[0].ID)
	_, ok := p.JobSnapshot(ids[0])
	assert.False(t, ok)
}
