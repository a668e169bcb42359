// Package observability provides Prometheus metrics for the allocation
// pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	AllocationsTotal     *prometheus.CounterVec
	CapacityRaces        prometheus.Counter
	AllocationDuration   prometheus.Histogram
	CandidatesPerRequest prometheus.Histogram
	OutboxPending        prometheus.Gauge
	FeedbackApplied      prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocations_total",
			Help: "Allocation requests by outcome",
		}, []string{"outcome"}),
		CapacityRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocation_capacity_races_total",
			Help: "Reservation attempts lost to a concurrent workload increment",
		}),
		AllocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allocation_duration_seconds",
			Help:    "End-to-end allocation pipeline duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		CandidatesPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allocation_candidates_per_request",
			Help:    "Candidates surviving the structural filter",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Unpublished outbox entries",
		}),
		FeedbackApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consultation_feedback_applied_total",
			Help: "Quality-stat updates folded in from feedback events",
		}),
	}

	prometheus.MustRegister(
		m.AllocationsTotal,
		m.CapacityRaces,
		m.AllocationDuration,
		m.CandidatesPerRequest,
		m.OutboxPending,
		m.FeedbackApplied,
	)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
