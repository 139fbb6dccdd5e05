// Package metrics exposes the bridge's Prometheus counters and histograms.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "csbridge"

type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	relayMessages    *prometheus.CounterVec
	relayClients     prometheus.Gauge
	emailsSent       *prometheus.CounterVec
	lintViolations   prometheus.Counter
}

// New creates the metric set and registers it on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Chat completion calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of chat completion calls including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome",
		}, []string{"tool", "outcome"}),
		relayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Inbound relay messages by type",
		}, []string{"type"}),
		relayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_clients",
			Help:      "Currently connected relay clients",
		}),
		emailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Notification emails by kind and outcome",
		}, []string{"kind", "outcome"}),
		lintViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_lint_violations_total",
			Help:      "Generated replies containing a forbidden phrase",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.providerRequests, m.providerLatency, m.toolCalls,
		m.relayMessages, m.relayClients, m.emailsSent, m.lintViolations)
	return m
}

// Handler serves the exposition format for g, or the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProvider(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ObserveRelayMessage(msgType string) {
	if m == nil {
		return
	}
	m.relayMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RelayClientConnected() {
	if m == nil {
		return
	}
	m.relayClients.Inc()
}

func (m *Metrics) RelayClientDisconnected() {
	if m == nil {
		return
	}
	m.relayClients.Dec()
}

func (m *Metrics) ObserveEmail(kind, outcome string) {
	if m == nil {
		return
	}
	m.emailsSent.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveLintViolation() {
	if m == nil {
		return
	}
	m.lintViolations.Inc()
}
