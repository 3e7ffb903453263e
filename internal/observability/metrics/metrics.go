package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AssistantMetrics exposes counters/histograms for tool calls, NexHealth
// requests and call-state persistence.
type AssistantMetrics struct {
	toolCalls       *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	stateConflicts  prometheus.Counter
	webhooks        *prometheus.CounterVec
}

func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "assistant",
			Name:      "tool_calls_total",
			Help:      "Tool calls handled, by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "assistant",
			Name:      "tool_call_duration_seconds",
			Help:      "Latency of tool call handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "nexhealth",
			Name:      "requests_total",
			Help:      "NexHealth API calls, by operation and outcome",
		}, []string{"operation", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "nexhealth",
			Name:      "request_duration_seconds",
			Help:      "Latency of NexHealth API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "callstate",
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts while saving call state",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Inbound VAPI webhook requests",
		}, []string{"message_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.toolCalls, m.toolLatency, m.upstreamCalls, m.upstreamLatency, m.stateConflicts, m.webhooks)
	return m
}

func (m *AssistantMetrics) ObserveTool(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveUpstream satisfies nexhealth.Observer.
func (m *AssistantMetrics) ObserveUpstream(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(operation, outcome).Inc()
	m.upstreamLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *AssistantMetrics) ObserveStateConflict() {
	if m == nil {
		return
	}
	m.stateConflicts.Inc()
}

func (m *AssistantMetrics) ObserveWebhook(messageType, status string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(messageType, status).Inc()
}
