package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "texbuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	passDuration     *prom.HistogramVec
	passResults      *prom.CounterVec
	buildDuration    *prom.HistogramVec
	buildOutcome     *prom.CounterVec
	lockContention   prom.Counter
	cacheMisses      prom.Counter
	deltaEntries     prom.Histogram
	queueDepth       prom.Gauge
	activeBuilds     prom.Gauge
	queueRejected    prom.Counter
	workspaceEvicted prom.Counter
}

// buildBuckets cover sub-second scratch builds up to multi-minute theses.
var buildBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		passDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of individual toolchain passes",
			Buckets:   buildBuckets,
		}, []string{"pass"}),
		passResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pass_results_total",
			Help:      "Toolchain pass results by outcome",
		}, []string{"pass", "result"}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration by engine",
			Buckets:   buildBuckets,
		}, []string{"engine"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		lockContention: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_lock_contention_total",
			Help:      "Requests that waited for another build of the same project",
		}),
		cacheMisses: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_cache_misses_total",
			Help:      "Delta requests for projects without a workspace",
		}),
		deltaEntries: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "delta_entries",
			Help:      "Number of entries applied per file delta",
			Buckets:   prom.ExponentialBuckets(1, 4, 7),
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Build jobs waiting for a worker",
		}),
		activeBuilds: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_builds",
			Help:      "Build jobs currently running",
		}),
		queueRejected: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Build jobs rejected because the queue was full",
		}),
		workspaceEvicted: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_evictions_total",
			Help:      "Idle workspaces removed by the janitor",
		}),
	}
	reg.MustRegister(pr.passDuration, pr.passResults, pr.buildDuration, pr.buildOutcome,
		pr.lockContention, pr.cacheMisses, pr.deltaEntries, pr.queueDepth, pr.activeBuilds,
		pr.queueRejected, pr.workspaceEvicted)
	return pr
}

func (p *PrometheusRecorder) ObservePassDuration(pass string, d time.Duration) {
	if p == nil {
		return
	}
	p.passDuration.WithLabelValues(pass).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPassResult(pass string, result ResultLabel) {
	if p == nil {
		return
	}
	p.passResults.WithLabelValues(pass, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(engine string, d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.WithLabelValues(engine).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncLockContention() {
	if p == nil {
		return
	}
	p.lockContention.Inc()
}

func (p *PrometheusRecorder) IncCacheMiss() {
	if p == nil {
		return
	}
	p.cacheMisses.Inc()
}

func (p *PrometheusRecorder) ObserveDeltaEntries(n int) {
	if p == nil {
		return
	}
	p.deltaEntries.Observe(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetActiveBuilds(n int) {
	if p == nil {
		return
	}
	p.activeBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) IncQueueRejected() {
	if p == nil {
		return
	}
	p.queueRejected.Inc()
}

func (p *PrometheusRecorder) IncWorkspaceEvicted() {
	if p == nil {
		return
	}
	p.workspaceEvicted.Inc()
}
