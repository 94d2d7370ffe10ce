package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestObserveRun(t *testing.T) {
	labels := map[string]string{"status": "FAILED", "code": "DRIVER_TOTAL_ZERO"}
	before := counterValue(t, "planalloc_allocation_runs_total", labels)
	detailsBefore := counterValue(t, "planalloc_allocation_details_total", nil)

	ObserveRun("FAILED", "DRIVER_TOTAL_ZERO", 20*time.Millisecond, 0)
	ObserveRun("SUCCESS", "", 10*time.Millisecond, 4)

	assert.Equal(t, before+1, counterValue(t, "planalloc_allocation_runs_total", labels))
	assert.Equal(t, detailsBefore+4, counterValue(t, "planalloc_allocation_details_total", nil))
}

func TestLockConflictAndExport(t *testing.T) {
	conflicts := counterValue(t, "planalloc_allocation_lock_conflicts_total", nil)
	LockConflict()
	assert.Equal(t, conflicts+1, counterValue(t, "planalloc_allocation_lock_conflicts_total", nil))

	exported := counterValue(t, "planalloc_export_results_total", map[string]string{"result": "exported"})
	ObserveExport("exported")
	assert.Equal(t, exported+1, counterValue(t, "planalloc_export_results_total", map[string]string{"result": "exported"}))
}

func TestObserveHTTP(t *testing.T) {
	labels := map[string]string{"route": "GET /healthz", "code": "200"}
	before := counterValue(t, "planalloc_http_requests_total", labels)
	ObserveHTTP("GET /healthz", 200, time.Millisecond)
	assert.Equal(t, before+1, counterValue(t, "planalloc_http_requests_total", labels))
}

func TestHTTPGuards(t *testing.T) {
	limited := counterValue(t, "planalloc_http_rate_limited_total", nil)
	suspicious := counterValue(t, "planalloc_http_suspicious_requests_total", nil)

	RateLimited()
	SuspiciousRequest()
	SuspiciousRequest()

	assert.Equal(t, limited+1, counterValue(t, "planalloc_http_rate_limited_total", nil))
	assert.Equal(t, suspicious+2, counterValue(t, "planalloc_http_suspicious_requests_total", nil))
}
