// Package metrics exposes the gateway's Prometheus collectors and
// implements the observer interfaces the throttle and request
// pipeline call into, generalized from the ConnStats/HTTPStats atomic
// counters in http-stats.go into a direct
// prometheus/client_golang registration (spec.md §6 Observability).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapsestore/objectgw/internal/throttle"
)

// Metrics owns every collector registered for the gateway; its
// throttle.Observer implementation is the adapter AsThrottleObserver
// returns.
type Metrics struct {
	registry *prometheus.Registry

	requestsCompleted *prometheus.CounterVec
	requestLatencyMs  *prometheus.HistogramVec
	requestTimeMs     *prometheus.HistogramVec
	inboundBytes      prometheus.Counter
	outboundBytes     prometheus.Counter
	deletedBytes      prometheus.Counter

	queueDepth    prometheus.Gauge
	throttleCount prometheus.Counter
}

// New registers every collector against its own registry and returns
// the Metrics handle. Labels deliberately exclude remote IP, object
// owner, and caller name to avoid a cardinality explosion (spec.md §6).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_completed",
			Help: "Count of completed HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		requestLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds, including queueing.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"method"}),
		requestTimeMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_time_ms",
			Help:    "Time spent actively handling a request, excluding queueing.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"method"}),
		inboundBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbound_streamed_bytes",
			Help: "Total bytes streamed from clients into the gateway.",
		}),
		outboundBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbound_streamed_bytes",
			Help: "Total bytes streamed from the gateway to clients.",
		}),
		deletedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deleted_bytes",
			Help: "Total bytes freed by completed delete operations.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "throttle_queue_depth",
			Help: "Current depth of the admission wait queue.",
		}),
		throttleCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "throttle_rejections_total",
			Help: "Requests rejected because the wait queue was also full.",
		}),
	}
	m.registry.MustRegister(
		m.requestsCompleted, m.requestLatencyMs, m.requestTimeMs,
		m.inboundBytes, m.outboundBytes, m.deletedBytes,
		m.queueDepth, m.throttleCount,
	)
	return m
}

// Handler serves the Prometheus scrape endpoint (spec.md §6 GET
// :metrics_port/metrics).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request's status and latency.
func (m *Metrics) ObserveRequest(method, status string, latencyMs, activeMs float64) {
	m.requestsCompleted.WithLabelValues(method, status).Inc()
	m.requestLatencyMs.WithLabelValues(method).Observe(latencyMs)
	m.requestTimeMs.WithLabelValues(method).Observe(activeMs)
}

// AddInboundBytes records bytes streamed in from a client body.
func (m *Metrics) AddInboundBytes(n int64) { m.inboundBytes.Add(float64(n)) }

// AddOutboundBytes records bytes streamed out to a client.
func (m *Metrics) AddOutboundBytes(n int64) { m.outboundBytes.Add(float64(n)) }

// AddDeletedBytes records bytes freed by a completed delete.
func (m *Metrics) AddDeletedBytes(n int64) { m.deletedBytes.Add(float64(n)) }

var _ throttle.Observer = (*throttleObserver)(nil)

// throttleObserver adapts Metrics to throttle.Observer without
// exposing the gauge/counter internals on Metrics itself.
type throttleObserver struct{ m *Metrics }

// AsThrottleObserver returns the throttle.Observer backed by m.
func (m *Metrics) AsThrottleObserver() throttle.Observer { return throttleObserver{m} }

func (o throttleObserver) OnClientClose()   {}
func (o throttleObserver) OnSocketTimeout() {}
func (o throttleObserver) OnThrottle()      { o.m.throttleCount.Inc() }
func (o throttleObserver) OnQueueEnter()    { o.m.queueDepth.Inc() }
func (o throttleObserver) OnQueueLeave()    { o.m.queueDepth.Dec() }
