/*
metrics.go - Prometheus instrumentation for the settlement API

PURPOSE:
  Counters and histograms for the operational signals that matter to this
  engine: how long recomputation passes take, how often saves succeed,
  fail validation, or lose an optimistic-concurrency race.

EXPOSED AT:
  GET /metrics (see server.go)
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RecomputeDuration tracks one full recomputation pass, snapshot load
// included.
var RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "settlement",
	Subsystem: "engine",
	Name:      "recompute_duration_seconds",
	Help:      "Duration of one availability+totals recomputation pass.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
})

// RequisitionSaves counts save attempts by outcome.
var RequisitionSaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "engine",
	Name:      "requisition_saves_total",
	Help:      "Requisition save attempts by outcome (saved, invalid, conflict, error).",
}, []string{"outcome"})

// ValidationFailures counts pre-save validation failures by field code.
var ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "engine",
	Name:      "validation_failures_total",
	Help:      "Validation gate failures by error code.",
}, []string{"code"})

// SaveConflicts counts optimistic-concurrency losses, including those
// later resolved by a retry.
var SaveConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "engine",
	Name:      "save_conflicts_total",
	Help:      "Saves that lost an optimistic-concurrency race.",
})

// ConsistencyWarnings counts totals that drifted beyond the rounding
// tolerance. Nonzero values deserve investigation.
var ConsistencyWarnings = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "engine",
	Name:      "totals_consistency_warnings_total",
	Help:      "Requisitions whose total drifted from subtotal+tax beyond tolerance.",
})
