package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tally/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
	charged prometheus.Counter
	fees    *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted events segmented by type.",
			}, []string{"type"}),
			charged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "charged_amount_total",
				Help:      "Sum of amounts charged by executed payments.",
			}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "fee_amount_total",
				Help:      "Sum of fees distributed segmented by recipient.",
			}, []string{"recipient"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.charged, eventRegistry.fees)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can sit in an emitter
// fan-out next to the event log.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
	wire := events.Wire(evt)
	if wire == nil {
		return
	}
	if amount, ok := parseAmount(wire.Attributes["amount"]); ok && wire.Type == "subscription.payment.executed" {
		m.charged.Add(amount)
		if fee, ok := parseAmount(wire.Attributes["keeperFee"]); ok {
			m.fees.WithLabelValues("keeper").Add(fee)
		}
		if fee, ok := parseAmount(wire.Attributes["platformFee"]); ok {
			m.fees.WithLabelValues("platform").Add(fee)
		}
	}
}

func parseAmount(value string) (float64, bool) {
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(parsed), true
}
