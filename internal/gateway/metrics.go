package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_gateway",
		Name:      "http_requests_total",
		Help:      "HTTP requests by path and status code.",
	}, []string{"path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "llm_gateway",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by path.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"path"})

	chatTurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_gateway",
		Name:      "chat_turns_total",
		Help:      "Completed chat exchanges by provider and model.",
	}, []string{"provider", "model"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_gateway",
		Name:      "tool_calls_total",
		Help:      "Tool call outcomes by tool name and result.",
	}, []string{"tool", "outcome"})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_gateway",
		Name:      "provider_errors_total",
		Help:      "Vendor errors by provider and reason.",
	}, []string{"provider", "reason"})
)

func observeToolCalls(results []toolCallReport) {
	for _, r := range results {
		outcome := "ok"
		if r.Error != "" {
			outcome = "error"
		}
		toolCallsTotal.WithLabelValues(r.Name, outcome).Inc()
	}
}
