package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aawallet",
		Subsystem: "consolidation",
		Name:      "transfers_total",
		Help:      "Count of consolidation transfers by kind and terminal status.",
	}, []string{"kind", "status"})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aawallet",
		Subsystem: "consolidation",
		Name:      "runs_total",
		Help:      "Count of consolidation runs by outcome.",
	}, []string{"outcome"})
)

// Consolidation records consolidation executor outcomes.
type Consolidation struct{}

// NewConsolidation constructs the consolidation metrics collector.
func NewConsolidation() *Consolidation {
	return &Consolidation{}
}

// ObserveTransfer counts a transfer reaching a terminal status.
func (Consolidation) ObserveTransfer(kind, status string) {
	transfersTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRun counts a finished run; outcome is "completed", "partial" or "failed".
func (Consolidation) ObserveRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}
