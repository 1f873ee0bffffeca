package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes that acquired the guard and ran.",
		},
		[]string{"op"},
	)

	passSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "passes_skipped_total",
			Help:      "Pass invocations rejected because another pass was in flight.",
		},
		[]string{"op"},
	)

	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of individual push/pull passes.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	recordsPushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "records_pushed_total",
			Help:      "Dirty records confirmed written to the remote store.",
		},
	)

	recordsPulledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "records_pulled_total",
			Help:      "Remote records written into the local store by pull passes.",
		},
	)

	conflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved by the last-writer-wins rule.",
		},
		[]string{"winner"},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Subsystem: "reconcile",
			Name:      "in_flight",
			Help:      "1 while a reconciliation pass holds the guard.",
		},
	)
)
