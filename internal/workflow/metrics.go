package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Workflow evaluations by entity type and outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "workflow",
			Name:      "actions_total",
			Help:      "Executed workflow actions by type and status",
		},
		[]string{"type", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Duration of one RunWorkflows call in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"trigger"},
	)

	dispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crm",
			Subsystem: "workflow",
			Name:      "dispatch_queue_depth",
			Help:      "Events waiting in the dispatcher queues",
		},
	)
)
