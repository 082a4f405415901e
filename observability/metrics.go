package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tally"

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// KeeperMetrics tracks the keeper sweep loop.
type KeeperMetrics struct {
	sweeps     prometheus.Counter
	due        prometheus.Gauge
	executions *prometheus.CounterVec
	latency    prometheus.Histogram
	retries    prometheus.Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// RPC returns the lazily-initialised registry recording HTTP handler activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total RPC errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of RPC requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Keeper returns the keeper metrics registry.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "sweeps_total",
				Help:      "Number of completed keeper sweeps.",
			}),
			due: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "due_agreements",
				Help:      "Agreements found due during the last sweep.",
			}),
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "executions_total",
				Help:      "Keeper execute attempts segmented by error category.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of keeper sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "retries_total",
				Help:      "Execute attempts retried after infrastructure errors.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.sweeps,
			keeperRegistry.due,
			keeperRegistry.executions,
			keeperRegistry.latency,
			keeperRegistry.retries,
		)
	})
	return keeperRegistry
}

// ObserveSweep records one sweep and the number of due agreements it saw.
func (m *KeeperMetrics) ObserveSweep(due int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.due.Set(float64(due))
	m.latency.Observe(duration.Seconds())
}

// RecordExecution counts one execute attempt by outcome ("success" or an
// error category).
func (m *KeeperMetrics) RecordExecution(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	m.executions.WithLabelValues(outcome).Inc()
}

// RecordRetry counts a retried execute attempt.
func (m *KeeperMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
