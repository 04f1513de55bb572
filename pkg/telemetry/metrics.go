// Package telemetry exposes Prometheus metrics for the gateway. A nil *Metrics
// is valid and records nothing, so components can take an optional pointer.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpgw"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeDenied  = "denied"
)

// Config resolution result labels.
const (
	ResolveMemoHit = "memo_hit"
	ResolveLoaded  = "loaded"
	ResolveFailed  = "failed"
)

// Metrics groups the gateway's collectors around a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionAttempts *prometheus.CounterVec
	toolInvocations    *prometheus.CounterVec
	invocationSeconds  *prometheus.HistogramVec
	configResolutions  *prometheus.CounterVec
	remoteFetches      *prometheus.CounterVec
}

// New registers the gateway collectors, plus the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Downstream connection attempts by server and outcome.",
		}, []string{"server", "outcome"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations routed to downstream servers by outcome.",
		}, []string{"server", "outcome"}),
		invocationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_seconds",
			Help:      "Latency of downstream tool invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		configResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_resolutions_total",
			Help:      "Configuration resolutions by result.",
		}, []string{"result"}),
		remoteFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_config_fetches_total",
			Help:      "Remote configuration lookups by source (cache or network) and outcome.",
		}, []string{"source", "outcome"}),
	}
	reg.MustRegister(
		m.connectionAttempts,
		m.toolInvocations,
		m.invocationSeconds,
		m.configResolutions,
		m.remoteFetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionAttempt(server, outcome string) {
	if m == nil {
		return
	}
	m.connectionAttempts.WithLabelValues(server, outcome).Inc()
}

func (m *Metrics) ToolInvocation(server, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(server, outcome).Inc()
	if elapsed > 0 {
		m.invocationSeconds.WithLabelValues(server).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ConfigResolution(result string) {
	if m == nil {
		return
	}
	m.configResolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) RemoteFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.remoteFetches.WithLabelValues(source, outcome).Inc()
}
