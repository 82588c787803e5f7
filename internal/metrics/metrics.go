package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cce",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cce",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	// Call flow metrics
	complianceDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cce",
			Subsystem: "compliance",
			Name:      "denials_total",
			Help:      "Contacts denied by the compliance gate",
		},
		[]string{"reason"},
	)

	callsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cce",
			Subsystem: "call",
			Name:      "initiated_total",
			Help:      "Calls accepted by the telephony provider",
		},
		[]string{"provider"},
	)

	dialsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cce",
			Subsystem: "call",
			Name:      "dials_rejected_total",
			Help:      "Dial requests rejected by the telephony provider",
		},
	)

	callsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cce",
			Subsystem: "call",
			Name:      "finalized_total",
			Help:      "Calls that reached a terminal status",
		},
		[]string{"status"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cce",
			Subsystem: "call",
			Name:      "duration_seconds",
			Help:      "Connected call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
		},
		[]string{"status"},
	)

	activeCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cce",
			Subsystem: "call",
			Name:      "active_total",
			Help:      "Calls currently in flight",
		},
	)
)

// Collector is the metrics sink handed to the orchestrator and reconciler.
type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordDenial(reason string) {
	complianceDenials.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordCallInitiated(provider string) {
	callsInitiated.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordDialRejected() {
	dialsRejected.Inc()
}

func (c *Collector) RecordCallFinalized(status string, duration time.Duration) {
	callsFinalized.WithLabelValues(status).Inc()
	callDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *Collector) SetActiveCalls(n int) {
	activeCalls.Set(float64(n))
}

// RecordHTTPRequest feeds the API middleware metrics.
func RecordHTTPRequest(method, handler, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, handler, status).Inc()
	httpRequestDuration.WithLabelValues(method, handler).Observe(duration.Seconds())
}
