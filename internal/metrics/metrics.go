package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundUpdates   *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	HandlerLatency   *prometheus.HistogramVec
	LLMRequests      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	VectorRequests   *prometheus.CounterVec
	VectorLatency    *prometheus.HistogramVec
	CheckoutCommits  *prometheus.CounterVec
	InvoiceDispatch  *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_updates_total",
				Help:      "Total inbound webhook updates, by outcome (processed, duplicate, rejected).",
			}, []string{"outcome"}),
			OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_messages_total",
				Help:      "Total outbound chat messages sent, by kind (text, photo).",
			}, []string{"kind"}),
			HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_dispatch_duration_seconds",
				Help:      "Latency of orchestrator dispatch; every update is recorded under intent=\"dispatch\", with no per-intent breakdown.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"intent"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM provider requests by operation and outcome.",
			}, []string{"operation", "status"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for LLM provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			VectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vector_requests_total",
				Help:      "Total vector index requests by outcome.",
			}, []string{"status"}),
			VectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vector_request_duration_seconds",
				Help:      "Latency distribution for vector index search calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			CheckoutCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkout_commits_total",
				Help:      "Total checkout commit attempts by outcome.",
			}, []string{"outcome"}),
			InvoiceDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoice_dispatch_total",
				Help:      "Total invoice dispatch attempts by outcome.",
			}, []string{"outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component and taxonomy tag.",
			}, []string{"component", "tag"}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundUpdates,
			metricsInstance.OutboundMessages,
			metricsInstance.HandlerLatency,
			metricsInstance.LLMRequests,
			metricsInstance.LLMLatency,
			metricsInstance.VectorRequests,
			metricsInstance.VectorLatency,
			metricsInstance.CheckoutCommits,
			metricsInstance.InvoiceDispatch,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
