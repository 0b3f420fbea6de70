package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderStatus classifies the operational state of an integration provider.
type ProviderStatus int

const (
	StatusUnknown ProviderStatus = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// RateLimitKind distinguishes the two classes of provider throttling.
type RateLimitKind string

const (
	RateLimitRequests RateLimitKind = "requests"
	RateLimitTokens   RateLimitKind = "tokens"
)

// MessageProviderMetrics holds rolling statistics for a message platform
// (Discord, Slack, Mattermost). All fields are snapshot values; consumers
// receive copies and cannot mutate registry state.
type MessageProviderMetrics struct {
	Provider string         `json:"provider"`
	Status   ProviderStatus `json:"status"`

	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesFailed   int64 `json:"messages_failed"`

	AvgResponseTime float64 `json:"avg_response_time_ms"`
	P50ResponseTime float64 `json:"p50_response_time_ms"`
	P95ResponseTime float64 `json:"p95_response_time_ms"`
	P99ResponseTime float64 `json:"p99_response_time_ms"`

	ErrorRate float64 `json:"error_rate"`

	LastActivity time.Time `json:"last_activity"`
	LastError    time.Time `json:"last_error,omitempty"`

	RateLimitHits      int64   `json:"rate_limit_hits"`
	RateLimitRemaining float64 `json:"rate_limit_remaining"`
}

// LLMProviderMetrics holds rolling statistics for an LLM provider
// (OpenAI, Anthropic, local models). Cost is tracked in decimal to avoid
// float drift on accumulation.
type LLMProviderMetrics struct {
	Provider string         `json:"provider"`
	Status   ProviderStatus `json:"status"`

	Requests       int64 `json:"requests"`
	RequestsFailed int64 `json:"requests_failed"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	AvgLatency float64 `json:"avg_latency_ms"`
	P50Latency float64 `json:"p50_latency_ms"`
	P95Latency float64 `json:"p95_latency_ms"`
	P99Latency float64 `json:"p99_latency_ms"`

	TotalCost     decimal.Decimal            `json:"total_cost"`
	CostByModel   map[string]decimal.Decimal `json:"cost_by_model,omitempty"`
	TokensByModel map[string]int64           `json:"tokens_by_model,omitempty"`

	ErrorRate float64 `json:"error_rate"`

	LastActivity time.Time `json:"last_activity"`
	LastError    time.Time `json:"last_error,omitempty"`

	RateLimitHits      int64   `json:"rate_limit_hits"`
	RateLimitRemaining float64 `json:"rate_limit_remaining"`
}

// DeriveStatus computes provider status from the error rate and failure
// count. The unhealthy band requires both a majority error rate and a
// sustained failure count, so a short burst of failures on a low-traffic
// provider degrades rather than pages.
func DeriveStatus(errorRate float64, failures, successes int64) ProviderStatus {
	switch {
	case errorRate > 50 && failures > 100:
		return StatusUnhealthy
	case errorRate > 10 || failures > 10:
		return StatusDegraded
	case successes > 0:
		return StatusHealthy
	default:
		return StatusUnknown
	}
}

// ErrorRate returns 100 × failures / total, or 0 when total is zero.
func ErrorRate(failures, total int64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(failures) / float64(total)
}
