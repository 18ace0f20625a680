package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	transitions *prometheus.CounterVec
	height      prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aidledger",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Count of escrow lifecycle events segmented by type.",
			}, []string{"type"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aidledger",
				Subsystem: "chain",
				Name:      "height",
				Help:      "Current logical height of the ledger.",
			}),
		}
		prometheus.MustRegister(eventRegistry.transitions, eventRegistry.height)
	})
	return eventRegistry
}

// RecordTransition increments the lifecycle counter for the supplied event
// type.
func (m *eventMetrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.transitions.WithLabelValues(normalized).Inc()
}

// RecordHeight publishes the current logical height.
func (m *eventMetrics) RecordHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}
