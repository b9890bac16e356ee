// Package metrics defines the Prometheus series scraped off the REST
// surface's /metrics endpoint. Kept as a package-level promauto registry,
// the same shape the teacher uses, extended with the per-turn/per-sentence
// series spec.md §2's component list implies (every counter named there
// needs a scrape target, per SPEC_FULL.md's ambient-stack expansion).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_gateway_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cortex_gateway_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cortex_gateway_inference_latency_seconds",
			Help: "Inference latency in seconds",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_gateway_active_sessions",
			Help: "Number of active sessions",
		},
	)

	MemoryOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_gateway_memory_operations_total",
			Help: "Total number of memory operations",
		},
	)

	// TurnDuration tracks the wall-clock span of one orchestrator turn from
	// Building to its terminal state, labeled by how the turn ended.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cortex_gateway_turn_duration_seconds",
			Help: "Turn duration from Building to a terminal state",
		},
		[]string{"outcome"},
	)

	// SentencesEmitted counts sentences dispatched by the char_stream_tts and
	// sentence_sync strategies (and so by mixed, which runs both), the
	// sentence-throughput series listed in SPEC_FULL.md §1.
	SentencesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_gateway_sentences_emitted_total",
			Help: "Total sentences emitted by an output strategy",
		},
		[]string{"channel", "strategy"},
	)

	// TTSQueueDepth reports the TTS worker pool's current backlog.
	TTSQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_gateway_tts_queue_depth",
			Help: "Number of TTS synthesis tasks queued or in flight",
		},
	)

	// TurnsCancelled counts turns that ended in the Cancelled state.
	TurnsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_gateway_turns_cancelled_total",
			Help: "Total turns ended by cancellation",
		},
	)
)
