package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolscout/catalogd/internal/metrics"
)

func TestMetrics_NilReceiver_DoesNotPanic(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.RunFinished("discovery", true, time.Second)
		m.RunRejected("discovery")
		m.ReportWriteFailed()
		m.BroadcastFailed()
		m.Invalidated("tools-data")
		m.QualityPass(90, map[string]int{"schema-error": 1}, 1, 0, true)
		m.LeaseReaped()
		m.HTTPRequest("GET", 200)
	})
}

func TestMetrics_Handler_ExposesRecordedValues(t *testing.T) {
	m := metrics.New("test")
	m.RunFinished("refresh", false, 2*time.Second)
	m.QualityPass(87, map[string]int{"mock-data-suspected": 3}, 2, 1, true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `catalogd_runs_total{kind="refresh",outcome="failure"} 1`))
	assert.True(t, strings.Contains(body, "catalogd_quality_score 87"))
	assert.True(t, strings.Contains(body, `catalogd_info{`))
}

func TestMetrics_QualityPass_AccumulatesFindings(t *testing.T) {
	m := metrics.New("test")
	m.QualityPass(90, map[string]int{"range-warning": 2}, 0, 0, false)
	m.QualityPass(91, map[string]int{"range-warning": 3}, 0, 0, false)

	count, err := testutil.GatherAndCount(m.Registry(), "catalogd_quality_findings_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
