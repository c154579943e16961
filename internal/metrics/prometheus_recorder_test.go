package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObservePassDuration("pass1", 150*time.Millisecond)
	pr.IncPassResult("pass1", ResultWarning)
	pr.ObserveBuildDuration("pdflatex", 500*time.Millisecond)
	pr.IncBuildOutcome(BuildOutcomeSuccess)
	pr.IncLockContention()
	pr.IncLockContention()
	pr.IncCacheMiss()
	pr.ObserveDeltaEntries(3)
	pr.SetQueueDepth(4)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	body := scrape(t, reg)
	assert.Contains(t, body, "texbuilder_workspace_lock_contention_total 2")
	assert.Contains(t, body, `texbuilder_build_outcomes_total{outcome="success"} 1`)
	assert.Contains(t, body, "texbuilder_queue_depth 4")
	assert.Contains(t, body, `texbuilder_pass_results_total{pass="pass1",result="warning"} 1`)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncQueueRejected()

	assert.True(t, strings.Contains(scrape(t, reg), "texbuilder_queue_rejected_total 1"))
}

func scrape(t *testing.T, reg *prom.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	HTTPHandler(reg).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncCacheMiss()
		pr.SetActiveBuilds(2)
	})
}
