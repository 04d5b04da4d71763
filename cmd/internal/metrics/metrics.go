// Package metrics owns the Prometheus collectors for tether.
//
// A *Metrics is nil-safe: every recording method is a no-op on a nil receiver, so packages take
// an optional *Metrics and tests never need a registry.
//
// Label values are bounded: event types come from the wire contract, scopes and outcomes are
// fixed strings chosen by callers, and HTTP paths are the registered mux patterns.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tether"

type Metrics struct {
	reg *prometheus.Registry

	messagesSent prometheus.Counter
	threadsTorn  prometheus.Counter
	rotations    *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	wsConns      prometheus.Gauge
	wsEvents     *prometheus.CounterVec
	httpReqs     *prometheus.CounterVec
	httpLat      *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New builds a Metrics on a private registry that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chat_messages_sent_total",
			Help: "Messages appended to a thread.",
		}),
		threadsTorn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chat_threads_torn_down_total",
			Help: "Threads removed after both parties deleted them.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_rotations_total",
			Help: "Refresh rotations by outcome (rotated, cached, rejected).",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Actions rejected by a rate limiter, by scope.",
		}, []string{"scope"}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_connections",
			Help: "Open realtime connections.",
		}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_events_total",
			Help: "Inbound realtime events by type and result.",
		}, []string{"type", "result"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_requests_inflight",
			Help: "In-flight HTTP requests.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesSent, m.threadsTorn, m.rotations, m.rateLimited,
		m.wsConns, m.wsEvents, m.httpReqs, m.httpLat, m.httpInflight,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) ThreadTornDown() {
	if m != nil {
		m.threadsTorn.Inc()
	}
}

// Rotation records a refresh rotation outcome.
func (m *Metrics) Rotation(outcome string) {
	if m != nil {
		m.rotations.WithLabelValues(outcome).Inc()
	}
}

// RateLimited records a rejection by the limiter guarding scope.
func (m *Metrics) RateLimited(scope string) {
	if m != nil {
		m.rateLimited.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.wsConns.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.wsConns.Dec()
	}
}

// Event records one inbound realtime event. ok=false means an <event>-error was sent.
func (m *Metrics) Event(typ string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.wsEvents.WithLabelValues(typ, result).Inc()
}

// ObserveHTTP records a finished request. path must be a route pattern, never a raw URL.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpLat.WithLabelValues(method, path).Observe(d.Seconds())
}

// InflightHTTP adjusts the in-flight gauge by delta.
func (m *Metrics) InflightHTTP(delta float64) {
	if m != nil {
		m.httpInflight.Add(delta)
	}
}
