package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/user/sagecodex/pkg/sse"
)

// Metrics holds the server's prometheus collectors. Stream events are
// counted by type so that nothing pushed to clients is silently invisible
// to operators.
type Metrics struct {
	Turns        *prometheus.CounterVec
	StreamEvents *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
	StageAdvance *prometheus.CounterVec
}

// NewMetrics registers the collectors against reg. Passing a fresh
// registry keeps tests independent of global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sagecodex_turns_total",
			Help: "Conversation turns processed, by outcome.",
		}, []string{"outcome"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sagecodex_stream_events_total",
			Help: "SSE events emitted to clients, by event type.",
		}, []string{"type"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sagecodex_tool_calls_total",
			Help: "Tool calls dispatched, by outcome.",
		}, []string{"outcome"}),
		StageAdvance: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sagecodex_stage_advances_total",
			Help: "Stage advance attempts, by outcome.",
		}, []string{"outcome"}),
	}
}

// countingEmit wraps an EmitFunc so every emitted event is counted. Tool
// completions are additionally counted by outcome.
func (m *Metrics) countingEmit(emit sse.EmitFunc) sse.EmitFunc {
	return func(ev sse.Event) error {
		m.StreamEvents.WithLabelValues(ev.Type).Inc()
		if end, ok := ev.Data.(sse.ToolEnd); ok && ev.Type == sse.TypeToolEnd {
			outcome := "ok"
			if end.IsError {
				outcome = "error"
			}
			m.ToolCalls.WithLabelValues(outcome).Inc()
		}
		return emit(ev)
	}
}
