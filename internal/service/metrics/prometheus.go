package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dmetrics "github.com/davidleathers/botwatch/internal/domain/metrics"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
)

// PrometheusBridge mirrors registry statistics into a prometheus.Registerer
// supplied by the host. The core never serves the scrape endpoint itself;
// exposition is the host's concern.
type PrometheusBridge struct {
	messagesTotal  *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	rateLimitHits  *prometheus.CounterVec
	errorRate      *prometheus.GaugeVec
	p95Latency     *prometheus.GaugeVec
	providerStatus *prometheus.GaugeVec
	llmTokens      *prometheus.CounterVec

	// Token totals in the snapshots are cumulative; the bridge tracks the
	// last seen values so the counters advance by deltas.
	mu             sync.Mutex
	lastPrompt     map[string]int64
	lastCompletion map[string]int64
}

// NewPrometheusBridge registers the collectors and subscribes to the point
// events emitted by the provider registry.
func NewPrometheusBridge(reg prometheus.Registerer, bus *events.Bus) *PrometheusBridge {
	factory := promauto.With(reg)

	b := &PrometheusBridge{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_messages_total",
			Help: "Message platform activity by provider and outcome",
		}, []string{"provider", "outcome"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_llm_requests_total",
			Help: "LLM requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		rateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_rate_limit_hits_total",
			Help: "Provider rate limit hits",
		}, []string{"provider"}),
		errorRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botwatch_provider_error_rate",
			Help: "Current provider error rate percentage",
		}, []string{"provider"}),
		p95Latency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botwatch_provider_p95_latency_ms",
			Help: "Rolling p95 latency per provider in milliseconds",
		}, []string{"provider"}),
		providerStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botwatch_provider_status",
			Help: "Provider status (0 unknown, 1 healthy, 2 degraded, 3 unhealthy)",
		}, []string{"provider"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_llm_tokens_total",
			Help: "LLM token usage by provider",
		}, []string{"provider", "kind"}),
		lastPrompt:     make(map[string]int64),
		lastCompletion: make(map[string]int64),
	}

	bus.Subscribe(events.TopicMessageRecorded, b.onMessageRecorded)
	bus.Subscribe(events.TopicLLMRecorded, b.onLLMRecorded)
	bus.Subscribe(events.TopicRateLimitHit, b.onRateLimitHit)

	return b
}

func (b *PrometheusBridge) onMessageRecorded(_ events.Topic, payload interface{}) {
	m, ok := payload.(dmetrics.MessageProviderMetrics)
	if !ok {
		return
	}
	b.errorRate.WithLabelValues(m.Provider).Set(m.ErrorRate)
	b.p95Latency.WithLabelValues(m.Provider).Set(m.P95ResponseTime)
	b.providerStatus.WithLabelValues(m.Provider).Set(float64(m.Status))
	b.messagesTotal.WithLabelValues(m.Provider, "recorded").Inc()
}

func (b *PrometheusBridge) onLLMRecorded(_ events.Topic, payload interface{}) {
	m, ok := payload.(dmetrics.LLMProviderMetrics)
	if !ok {
		return
	}
	b.errorRate.WithLabelValues(m.Provider).Set(m.ErrorRate)
	b.p95Latency.WithLabelValues(m.Provider).Set(m.P95Latency)
	b.providerStatus.WithLabelValues(m.Provider).Set(float64(m.Status))
	b.llmRequests.WithLabelValues(m.Provider, "recorded").Inc()

	b.mu.Lock()
	promptDelta := m.PromptTokens - b.lastPrompt[m.Provider]
	completionDelta := m.CompletionTokens - b.lastCompletion[m.Provider]
	b.lastPrompt[m.Provider] = m.PromptTokens
	b.lastCompletion[m.Provider] = m.CompletionTokens
	b.mu.Unlock()

	if promptDelta > 0 {
		b.llmTokens.WithLabelValues(m.Provider, "prompt").Add(float64(promptDelta))
	}
	if completionDelta > 0 {
		b.llmTokens.WithLabelValues(m.Provider, "completion").Add(float64(completionDelta))
	}
}

func (b *PrometheusBridge) onRateLimitHit(_ events.Topic, payload interface{}) {
	switch m := payload.(type) {
	case dmetrics.MessageProviderMetrics:
		b.rateLimitHits.WithLabelValues(m.Provider).Inc()
	case dmetrics.LLMProviderMetrics:
		b.rateLimitHits.WithLabelValues(m.Provider).Inc()
	}
}
