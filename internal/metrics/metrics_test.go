package metrics_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/eventsync/internal/metrics"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSlackCall(t *testing.T) {
	m := metrics.NewSyncMetrics(prometheus.NewRegistry())

	m.ObserveSlackCall("users.lookupByEmail", "ok", 120*time.Millisecond)
	m.ObserveSlackCall("users.lookupByEmail", "ok", 80*time.Millisecond)
	m.ObserveSlackCall("users.lookupByEmail", "rate_limited", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SlackCalls.WithLabelValues("users.lookupByEmail", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlackCalls.WithLabelValues("users.lookupByEmail", "rate_limited")))
}

func TestObserveReport(t *testing.T) {
	m := metrics.NewSyncMetrics(prometheus.NewRegistry())

	m.ObserveReport(reconcile.Report{
		Step:    reconcile.StepUsergroups,
		Added:   3,
		Removed: 1,
		Failures: []reconcile.Failure{
			{Category: reconcile.NotFound},
			{Category: reconcile.NotFound},
		},
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.StepChanges.WithLabelValues("usergroups", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepChanges.WithLabelValues("usergroups", "removed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepFailures.WithLabelValues("usergroups", "not_found")))
}

func TestObserveRun(t *testing.T) {
	m := metrics.NewSyncMetrics(prometheus.NewRegistry())
	finished := time.Unix(1_700_000_000, 0)

	m.ObserveRun("locked", 0, finished)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastRunTimestamp))

	m.ObserveRun("completed", 3*time.Second, finished)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("locked")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastRunTimestamp))
}
