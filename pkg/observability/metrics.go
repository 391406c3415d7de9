// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the agentd runtime.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and model.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration records HTTP request duration in seconds by method and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ProviderRequestsTotal counts requests sent to backend LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by kind, name, and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"kind", "tool_name", "status"},
	)

	// ToolDuration records tool execution duration in seconds by kind and name.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind", "tool_name"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// GenAIClientOperationDuration follows the OpenTelemetry GenAI
	// semantic conventions for a client-side model invocation.
	GenAIClientOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gen_ai_client_operation_duration_seconds",
			Help:    "GenAI client operation duration",
			Buckets: LLMBuckets,
		},
		[]string{"gen_ai_operation_name", "gen_ai_system", "gen_ai_request_model", "gen_ai_response_model", "error_type"},
	)

	// GenAIClientTokenUsage follows the OpenTelemetry GenAI semantic
	// conventions for input/output token counts.
	GenAIClientTokenUsage = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gen_ai_client_token_usage",
			Help:    "GenAI client token usage",
			Buckets: []float64{1, 4, 16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		},
		[]string{"gen_ai_operation_name", "gen_ai_system", "gen_ai_token_type", "gen_ai_request_model", "gen_ai_response_model"},
	)

	// GenAIServerTimeToFirstToken follows the OpenTelemetry GenAI
	// semantic conventions for streaming time-to-first-token.
	GenAIServerTimeToFirstToken = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gen_ai_server_time_to_first_token_seconds",
			Help:    "GenAI time to first token",
			Buckets: LLMBuckets,
		},
		[]string{"gen_ai_operation_name", "gen_ai_system", "gen_ai_request_model"},
	)

	// GenAIServerTimePerOutputToken follows the OpenTelemetry GenAI
	// semantic conventions for average inter-token latency.
	GenAIServerTimePerOutputToken = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gen_ai_server_time_per_output_token_seconds",
			Help:    "GenAI average time per output token",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5},
		},
		[]string{"gen_ai_operation_name", "gen_ai_system", "gen_ai_request_model"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		ToolDuration,
		RateLimitRejectedTotal,
		GenAIClientOperationDuration,
		GenAIClientTokenUsage,
		GenAIServerTimeToFirstToken,
		GenAIServerTimePerOutputToken,
	)
}

// RecordGenAIMetrics records the OpenTelemetry GenAI semantic-convention
// metrics for a single chat completion. timeToFirstToken is nil for
// non-streaming calls, which skips both the TTFT and per-output-token
// observations (neither is meaningful without a first-token timestamp).
func RecordGenAIMetrics(provider, model string, duration time.Duration, inputTokens, outputTokens int, timeToFirstToken *time.Duration) {
	const operation = "chat"

	GenAIClientOperationDuration.WithLabelValues(operation, provider, model, model, "").Observe(duration.Seconds())
	GenAIClientTokenUsage.WithLabelValues(operation, provider, "input", model, model).Observe(float64(inputTokens))
	GenAIClientTokenUsage.WithLabelValues(operation, provider, "output", model, model).Observe(float64(outputTokens))

	if timeToFirstToken == nil {
		return
	}
	GenAIServerTimeToFirstToken.WithLabelValues(operation, provider, model).Observe(timeToFirstToken.Seconds())

	if outputTokens > 1 {
		perToken := (duration - *timeToFirstToken) / time.Duration(outputTokens-1)
		GenAIServerTimePerOutputToken.WithLabelValues(operation, provider, model).Observe(perToken.Seconds())
	}
}
