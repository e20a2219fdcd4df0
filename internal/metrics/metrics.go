// Package metrics exposes Prometheus collectors for the intervention
// engine. Persistence and delivery failures are never surfaced to the
// evaluation caller, so these counters are the place they stay visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts evaluation pipeline runs.
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "evaluations_total",
		Help:      "Number of evaluation pipeline runs.",
	})

	// InterventionsSelected counts evaluations that produced a winning trigger.
	InterventionsSelected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "interventions_selected_total",
		Help:      "Number of evaluations that selected a trigger.",
	})

	// InterventionsDelivered counts successful deliveries.
	InterventionsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "interventions_delivered_total",
		Help:      "Number of interventions handed to the transport.",
	})

	// InterventionsDropped counts interventions dropped after validation
	// failure or retry exhaustion, labelled by reason.
	InterventionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "interventions_dropped_total",
		Help:      "Number of interventions dropped, by reason.",
	}, []string{"reason"})

	// Reschedules counts retry enqueues.
	Reschedules = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "reschedules_total",
		Help:      "Number of delivery retries enqueued.",
	})

	// DeliveryFailures counts transport errors and timeouts.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "delivery_failures_total",
		Help:      "Number of transport delivery failures.",
	})

	// PersistenceFailures counts store write failures swallowed on the
	// user-facing path.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "persistence_failures_total",
		Help:      "Number of store write failures absorbed internally.",
	})

	// ScreenerBlocks counts candidates vetoed by the safety screener.
	ScreenerBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "screener_blocks_total",
		Help:      "Number of sensitive candidates blocked by the safety screener.",
	})

	// SilencePeriods counts habituation silence periods imposed.
	SilencePeriods = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "silence_periods_total",
		Help:      "Number of habituation silence periods imposed.",
	})

	// MicroInterventions counts emitted micro-interventions, by kind.
	MicroInterventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nudgeloop",
		Name:      "micro_interventions_total",
		Help:      "Number of micro-interventions emitted, by kind.",
	}, []string{"kind"})
)
