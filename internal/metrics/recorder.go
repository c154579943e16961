package metrics

import "time"

// ResultLabel enumerates toolchain pass result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success" // exit code 0
	ResultWarning ResultLabel = "warning" // non-zero exit, pipeline continued
	ResultFailed  ResultLabel = "failed"  // could not be launched
	ResultTimeout ResultLabel = "timeout"
)

// BuildOutcomeLabel is the final status of a build job.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess     BuildOutcomeLabel = "success"
	BuildOutcomeCompilation BuildOutcomeLabel = "compilation_failed"
	BuildOutcomeTimeout     BuildOutcomeLabel = "timeout"
	BuildOutcomeRejected    BuildOutcomeLabel = "rejected" // validation, config, cache miss
	BuildOutcomeCanceled    BuildOutcomeLabel = "canceled"
	BuildOutcomeError       BuildOutcomeLabel = "error"
)

// Recorder defines observability hooks for the compile pipeline. Implementations
// may forward to Prometheus or anything else; NoopRecorder is used when metrics
// are not configured.
type Recorder interface {
	ObservePassDuration(pass string, d time.Duration)
	IncPassResult(pass string, result ResultLabel)
	ObserveBuildDuration(engine string, d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
	IncLockContention()
	IncCacheMiss()
	ObserveDeltaEntries(n int)
	SetQueueDepth(n int)
	SetActiveBuilds(n int)
	IncQueueRejected()
	IncWorkspaceEvicted()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePassDuration(string, time.Duration)  {}
func (NoopRecorder) IncPassResult(string, ResultLabel)          {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)          {}
func (NoopRecorder) IncLockContention()                         {}
func (NoopRecorder) IncCacheMiss()                              {}
func (NoopRecorder) ObserveDeltaEntries(int)                    {}
func (NoopRecorder) SetQueueDepth(int)                          {}
func (NoopRecorder) SetActiveBuilds(int)                        {}
func (NoopRecorder) IncQueueRejected()                          {}
func (NoopRecorder) IncWorkspaceEvicted()                       {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
