package metrics

import (
	"time"

	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventsync"

// SyncMetrics holds all Prometheus metrics for the Slack sync.
type SyncMetrics struct {
	SlackCalls        *prometheus.CounterVec
	SlackCallDuration *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	LastRunTimestamp  prometheus.Gauge
	TenantsTotal      *prometheus.CounterVec
	StepChanges       *prometheus.CounterVec
	StepFailures      *prometheus.CounterVec
}

// NewSyncMetrics initializes the metrics and registers them with reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	f := promauto.With(reg)
	return &SyncMetrics{
		SlackCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slack",
			Name:      "calls_total",
			Help:      "Total number of Slack API calls by method and outcome.",
		}, []string{"method", "outcome"}), // outcome: ok or an error kind
		SlackCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "slack",
			Name:      "call_duration_seconds",
			Help:      "Slack API call latency including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by outcome.",
		}, []string{"outcome"}), // outcome: completed, locked, failed
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of completed sync runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last sync run finished.",
		}),
		TenantsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "tenants_total",
			Help:      "Total number of tenant syncs by outcome.",
		}, []string{"outcome"}),
		StepChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "changes_total",
			Help:      "Total number of units changed by step and action.",
		}, []string{"step", "action"}),
		StepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "failures_total",
			Help:      "Total number of failed units by step and category.",
		}, []string{"step", "category"}),
	}
}

// ObserveSlackCall matches slack.CallObserver.
func (m *SyncMetrics) ObserveSlackCall(method, outcome string, d time.Duration) {
	m.SlackCalls.WithLabelValues(method, outcome).Inc()
	m.SlackCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveReport records the changes and failures of one step.
func (m *SyncMetrics) ObserveReport(rep reconcile.Report) {
	changes := map[string]int{
		"linked":   rep.Linked,
		"invited":  rep.Invited,
		"created":  rep.Created,
		"renamed":  rep.Renamed,
		"topic":    rep.Topics,
		"archived": rep.Archived,
		"added":    rep.Added,
		"removed":  rep.Removed,
	}
	for action, n := range changes {
		if n > 0 {
			m.StepChanges.WithLabelValues(rep.Step, action).Add(float64(n))
		}
	}
	for category, n := range rep.CountBy() {
		m.StepFailures.WithLabelValues(rep.Step, string(category)).Add(float64(n))
	}
}

// ObserveTenant records the outcome of one tenant.
func (m *SyncMetrics) ObserveTenant(outcome string) {
	m.TenantsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished run.
func (m *SyncMetrics) ObserveRun(outcome string, d time.Duration, finished time.Time) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.RunDuration.Observe(d.Seconds())
		m.LastRunTimestamp.Set(float64(finished.Unix()))
	}
}
