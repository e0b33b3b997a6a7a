// Package metrics holds the Prometheus collectors for the page store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voton", Name: "page_operations_total", Help: "Repository operations by name and result."},
		[]string{"op", "result"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voton", Name: "events_published_total", Help: "Change notifications broadcast by kind."},
		[]string{"kind"},
	)
	CascadeCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "voton", Name: "cascade_cycles_skipped_total", Help: "Already-visited pages skipped during cascade delete."},
	)
)

// RegisterCollectors registers every collector with reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(PageOperations)
	reg.MustRegister(EventsPublished)
	reg.MustRegister(CascadeCycles)
}

// Observe records the outcome of a repository operation.
func Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PageOperations.WithLabelValues(op, result).Inc()
}
