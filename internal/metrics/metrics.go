package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "constellation"

// Metrics exposes the service's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	reg prometheus.Gatherer

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	activePresence     prometheus.Gauge
	realtimeSubs       prometheus.Gauge
	generationDuration *prometheus.HistogramVec
	generationFailures *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg, reusing collectors that are
// already registered. A nil reg uses a fresh registry.
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{reg: reg}
	m.httpRequests = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"}))
	m.httpDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"}))
	m.activePresence = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "active_users",
		Help:      "Presence rows inside the activity window at the last prune.",
	}))
	m.realtimeSubs = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Open websocket subscriptions.",
	}))
	m.generationDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "generation_duration_seconds",
		Help:      "Chat model call latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"status"}))
	m.generationFailures = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "generation_failures_total",
		Help:      "Chat model calls that failed.",
	}, []string{"reason"}))
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) SetActivePresence(n int) {
	if m == nil {
		return
	}
	m.activePresence.Set(float64(n))
}

func (m *Metrics) SetRealtimeSubscribers(n int) {
	if m == nil {
		return
	}
	m.realtimeSubs.Set(float64(n))
}

// ObserveGeneration records one model call. reason labels failures.
func (m *Metrics) ObserveGeneration(d time.Duration, reason string) {
	if m == nil {
		return
	}
	status := "ok"
	if reason != "" {
		status = "error"
		m.generationFailures.WithLabelValues(reason).Inc()
	}
	m.generationDuration.WithLabelValues(status).Observe(d.Seconds())
}
