// Package observability registers the Prometheus metrics for the chat
// and retrieval pipelines.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process-wide instruments. One instance is created
// at startup and shared by the server handlers.
type Metrics struct {
	registry *prometheus.Registry

	CompletionRequests *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	TokensUsed         *prometheus.CounterVec

	RetrievalQueries  prometheus.Counter
	RetrievalDuration prometheus.Histogram
	RetrievalResults  prometheus.Histogram

	DocumentsIndexed *prometheus.CounterVec
	ChunksIndexed    prometheus.Counter

	ToolInvocations *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		CompletionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_completion_requests_total",
			Help: "Completion requests by model and terminal state.",
		}, []string{"model", "state"}),

		CompletionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_completion_duration_seconds",
			Help:    "Completion request duration by model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),

		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tokens_used_total",
			Help: "Token usage by model and direction (prompt/completion).",
		}, []string{"model", "direction"}),

		RetrievalQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_retrieval_queries_total",
			Help: "Retrieval queries executed.",
		}),

		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_retrieval_duration_seconds",
			Help:    "Retrieval query duration.",
			Buckets: prometheus.DefBuckets,
		}),

		RetrievalResults: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_retrieval_results",
			Help:    "Result count per retrieval query.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		DocumentsIndexed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_documents_indexed_total",
			Help: "Document ingestions by terminal status.",
		}, []string{"status"}),

		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_chunks_indexed_total",
			Help: "Chunks written to the indices.",
		}),

		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tool_invocations_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
