// Package metrics holds the Prometheus collectors for the query pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records
// nothing, so components can take one optionally.
//
// Usage:
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.ToolExecuted("get_cve_details", "ok", time.Since(start))
type Metrics struct {
	// ToolExecutions counts executor outcomes.
	// Labels: tool, status (ok|not_found|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures executor latency in seconds.
	// Labels: tool
	// Buckets: 1ms, 5ms, 10ms, 50ms, 100ms, 500ms, 1s, 5s
	ToolDuration *prometheus.HistogramVec

	// Intents counts resolved intents.
	// Labels: source (rule|structured|llm), matcher
	Intents *prometheus.CounterVec

	// Turns counts conversation turns by outcome.
	// Labels: status (ok|not_found|error|rejected)
	Turns *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ToolExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cveagent_tool_executions_total",
				Help: "Total number of tool executions by tool and result status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cveagent_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tool"},
		),
		Intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cveagent_intents_total",
				Help: "Total number of resolved intents by source and matcher",
			},
			[]string{"source", "matcher"},
		),
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cveagent_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"status"},
		),
	}
}

// ToolExecuted records one executor call.
func (m *Metrics) ToolExecuted(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// IntentResolved records the path that produced an intent.
func (m *Metrics) IntentResolved(source, matcher string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(source, matcher).Inc()
}

func (m *Metrics) TurnCompleted(status string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(status).Inc()
}
