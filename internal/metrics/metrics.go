// Package metrics holds the Prometheus collectors exported on /metrics.
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalogd"

// Metrics groups every collector on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	runsRejected      *prometheus.CounterVec
	reportWriteErrors prometheus.Counter
	broadcastErrors   prometheus.Counter
	invalidations     *prometheus.CounterVec

	qualityScore    prometheus.Gauge
	qualityFindings *prometheus.CounterVec
	qualityFixes    prometheus.Counter
	qualitySkipped  prometheus.Counter
	qualityAlerts   prometheus.Counter

	leasesReaped prometheus.Counter
	httpRequests *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Orchestrator runs by job kind and outcome.",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "Orchestrator run duration by job kind.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
		runsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_already_running_total",
			Help: "Trigger requests answered as no-ops because the kind was already running.",
		}, []string{"kind"}),
		reportWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_write_failures_total",
			Help: "Run reports that could not be persisted after retries.",
		}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_failures_total",
			Help: "Completion events that failed to publish.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_invalidations_total",
			Help: "Cache invalidations by view or tag.",
		}, []string{"target"}),
		qualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quality_score",
			Help: "Quality score of the last completed pass.",
		}),
		qualityFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "quality_findings_total",
			Help: "Quality findings by kind.",
		}, []string{"kind"}),
		qualityFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quality_fixes_applied_total",
			Help: "Records auto-fixed by the quality engine.",
		}),
		qualitySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quality_fixes_skipped_total",
			Help: "Fixes skipped because the record changed or the write failed.",
		}),
		qualityAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quality_alerts_total",
			Help: "Quality passes that crossed an alert threshold.",
		}),
		leasesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "leases_reaped_total",
			Help: "Expired job leases reclaimed by the reaper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "code"}),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "info",
		Help: "Build information about catalogd.",
	}, []string{"version", "go_version"})
	info.WithLabelValues(version, runtime.Version()).Set(1)

	reg.MustRegister(
		m.runsTotal, m.runDuration, m.runsRejected, m.reportWriteErrors,
		m.broadcastErrors, m.invalidations, m.qualityScore, m.qualityFindings,
		m.qualityFixes, m.qualitySkipped, m.qualityAlerts, m.leasesReaped,
		m.httpRequests, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RunFinished records one orchestrator run.
func (m *Metrics) RunFinished(kind string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.runsTotal.WithLabelValues(kind, outcome).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RunRejected records a trigger that found the kind already running.
func (m *Metrics) RunRejected(kind string) {
	if m == nil {
		return
	}
	m.runsRejected.WithLabelValues(kind).Inc()
}

// ReportWriteFailed records a run report lost after retries.
func (m *Metrics) ReportWriteFailed() {
	if m == nil {
		return
	}
	m.reportWriteErrors.Inc()
}

// BroadcastFailed records a failed completion event.
func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastErrors.Inc()
}

// Invalidated records one invalidated view or tag.
func (m *Metrics) Invalidated(target string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(target).Inc()
}

// QualityPass records the outcome of a quality pass.
func (m *Metrics) QualityPass(score int, findingsByKind map[string]int, fixed, skipped int, alerted bool) {
	if m == nil {
		return
	}
	m.qualityScore.Set(float64(score))
	for kind, n := range findingsByKind {
		m.qualityFindings.WithLabelValues(kind).Add(float64(n))
	}
	m.qualityFixes.Add(float64(fixed))
	m.qualitySkipped.Add(float64(skipped))
	if alerted {
		m.qualityAlerts.Inc()
	}
}

// LeaseReaped records a reclaimed job lease.
func (m *Metrics) LeaseReaped() {
	if m == nil {
		return
	}
	m.leasesReaped.Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
