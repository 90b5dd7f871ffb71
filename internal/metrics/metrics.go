// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider operations.
const (
	OpExchange = "exchange"
	OpRefresh  = "refresh"
	OpProfile  = "profile"
)

// Provider call results.
const (
	ResultOK            = "ok"
	ResultTransport     = "transport_error"
	ResultProviderError = "provider_error"
	ResultMalformed     = "malformed"
)

// Metrics groups the collectors registered for one broker instance.
type Metrics struct {
	gatherer prometheus.Gatherer

	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	MeOutcomes       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh registry, which keeps tests isolated from the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiktok_provider_requests_total",
			Help: "Outbound TikTok API calls by operation and result",
		}, []string{"op", "result"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiktok_provider_request_duration_seconds",
			Help:    "Latency of outbound TikTok API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		MeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_me_outcomes_total",
			Help: "Terminal outcomes of the /me orchestration",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_http_requests_total",
			Help: "HTTP requests served by route and status",
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderDuration,
		m.MeOutcomes,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProvider records one outbound call.
func (m *Metrics) ObserveProvider(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(op, result).Inc()
	m.ProviderDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveOutcome records the terminal state of one /me request.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.MeOutcomes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
