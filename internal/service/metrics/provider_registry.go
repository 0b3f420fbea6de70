package metrics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/metrics"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
)

// ProviderRegistry tracks per-provider rolling statistics for message
// platforms and LLM providers. Providers are registered up front; recording
// against an unknown provider is a silent no-op so producer typos can never
// crash the host.
type ProviderRegistry struct {
	logger *zap.Logger
	bus    *events.Bus

	windowSize int

	mu      sync.RWMutex
	message map[string]*messageState
	llm     map[string]*llmState
}

type messageState struct {
	m              metrics.MessageProviderMetrics
	responseTimes  *metrics.Window
	statusOverride *metrics.ProviderStatus
}

type llmState struct {
	m              metrics.LLMProviderMetrics
	latencies      *metrics.Window
	statusOverride *metrics.ProviderStatus
}

// Snapshot is a full copy of all provider metrics.
type Snapshot struct {
	Message map[string]metrics.MessageProviderMetrics `json:"message"`
	LLM     map[string]metrics.LLMProviderMetrics     `json:"llm"`
}

// Summary aggregates registry contents across providers.
type Summary struct {
	MessageProviders int `json:"message_providers"`
	LLMProviders     int `json:"llm_providers"`

	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesFailed   int64 `json:"messages_failed"`

	LLMRequests int64           `json:"llm_requests"`
	LLMFailed   int64           `json:"llm_failed"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   decimal.Decimal `json:"total_cost"`

	OverallErrorRate float64        `json:"overall_error_rate"`
	ByStatus         map[string]int `json:"by_status"`
}

// NewProviderRegistry creates a registry. windowSize bounds the per-provider
// response-time buffers.
func NewProviderRegistry(windowSize int, bus *events.Bus, logger *zap.Logger) *ProviderRegistry {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &ProviderRegistry{
		logger:     logger,
		bus:        bus,
		windowSize: windowSize,
		message:    make(map[string]*messageState),
		llm:        make(map[string]*llmState),
	}
}

// RegisterMessageProvider adds a message platform to the registry.
// Registering an existing provider is a no-op.
func (r *ProviderRegistry) RegisterMessageProvider(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.message[provider]; exists {
		return
	}
	r.message[provider] = &messageState{
		m:             metrics.MessageProviderMetrics{Provider: provider, Status: metrics.StatusUnknown},
		responseTimes: metrics.NewWindow(r.windowSize),
	}
}

// RegisterLLMProvider adds an LLM provider to the registry.
func (r *ProviderRegistry) RegisterLLMProvider(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.llm[provider]; exists {
		return
	}
	r.llm[provider] = &llmState{
		m: metrics.LLMProviderMetrics{
			Provider:      provider,
			Status:        metrics.StatusUnknown,
			TotalCost:     decimal.Zero,
			CostByModel:   make(map[string]decimal.Decimal),
			TokensByModel: make(map[string]int64),
		},
		latencies: metrics.NewWindow(r.windowSize),
	}
}

// RecordMessageReceived records an inbound message. A responseTime of zero
// means the latency was not measured.
func (r *ProviderRegistry) RecordMessageReceived(provider string, responseTime time.Duration) {
	r.recordMessage(provider, responseTime, func(s *messageState) {
		s.m.MessagesReceived++
	})
}

// RecordMessageSent records an outbound message.
func (r *ProviderRegistry) RecordMessageSent(provider string, responseTime time.Duration) {
	r.recordMessage(provider, responseTime, func(s *messageState) {
		s.m.MessagesSent++
	})
}

// RecordMessageFailed records a delivery failure.
func (r *ProviderRegistry) RecordMessageFailed(provider string) {
	now := time.Now()
	r.recordMessage(provider, 0, func(s *messageState) {
		s.m.MessagesFailed++
		s.m.LastError = now
	})
}

func (r *ProviderRegistry) recordMessage(provider string, responseTime time.Duration, mutate func(*messageState)) {
	r.mu.Lock()
	s, ok := r.message[provider]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("ignoring metrics for unknown message provider", zap.String("provider", provider))
		return
	}

	mutate(s)
	if responseTime > 0 {
		s.responseTimes.Push(float64(responseTime.Milliseconds()))
	}
	s.m.LastActivity = time.Now()
	r.recomputeMessage(s)

	snapshot := s.m
	r.mu.Unlock()

	r.bus.Publish(events.TopicMessageRecorded, snapshot)
}

// RecordLLMRequest records one LLM call. Cost may be decimal.Zero when the
// provider does not report pricing; model may be empty.
func (r *ProviderRegistry) RecordLLMRequest(provider string, latency time.Duration, promptTokens, completionTokens int64, cost decimal.Decimal, success bool, model string) {
	r.mu.Lock()
	s, ok := r.llm[provider]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("ignoring metrics for unknown llm provider", zap.String("provider", provider))
		return
	}

	now := time.Now()
	s.m.Requests++
	if !success {
		s.m.RequestsFailed++
		s.m.LastError = now
	}
	s.m.PromptTokens += promptTokens
	s.m.CompletionTokens += completionTokens
	s.m.TotalTokens += promptTokens + completionTokens
	if !cost.IsZero() {
		s.m.TotalCost = s.m.TotalCost.Add(cost)
	}
	if model != "" {
		if !cost.IsZero() {
			s.m.CostByModel[model] = s.m.CostByModel[model].Add(cost)
		}
		s.m.TokensByModel[model] += promptTokens + completionTokens
	}
	if latency > 0 {
		s.latencies.Push(float64(latency.Milliseconds()))
	}
	s.m.LastActivity = now
	r.recomputeLLM(s)

	snapshot := r.copyLLM(s)
	r.mu.Unlock()

	r.bus.Publish(events.TopicLLMRecorded, snapshot)
}

// RecordRateLimitHit counts a throttling event for either provider family.
func (r *ProviderRegistry) RecordRateLimitHit(provider string, kind metrics.RateLimitKind) {
	r.mu.Lock()
	if s, ok := r.message[provider]; ok {
		s.m.RateLimitHits++
		snapshot := s.m
		r.mu.Unlock()
		r.bus.Publish(events.TopicRateLimitHit, snapshot)
		return
	}
	if s, ok := r.llm[provider]; ok {
		s.m.RateLimitHits++
		snapshot := r.copyLLM(s)
		r.mu.Unlock()
		r.bus.Publish(events.TopicRateLimitHit, snapshot)
		return
	}
	r.mu.Unlock()
	r.logger.Debug("ignoring rate limit hit for unknown provider",
		zap.String("provider", provider),
		zap.String("kind", string(kind)),
	)
}

// SetRateLimitRemaining updates the remaining-quota gauge for a provider.
func (r *ProviderRegistry) SetRateLimitRemaining(provider string, remaining float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.message[provider]; ok {
		s.m.RateLimitRemaining = remaining
		return
	}
	if s, ok := r.llm[provider]; ok {
		s.m.RateLimitRemaining = remaining
	}
}

// OverrideStatus pins a provider's status, bypassing derivation, until
// ClearStatusOverride is called. Used when an integration knows it is down
// (e.g. auth revoked) before any traffic fails.
func (r *ProviderRegistry) OverrideStatus(provider string, status metrics.ProviderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.message[provider]; ok {
		s.statusOverride = &status
		s.m.Status = status
		return
	}
	if s, ok := r.llm[provider]; ok {
		s.statusOverride = &status
		s.m.Status = status
	}
}

// ClearStatusOverride resumes derived status for a provider.
func (r *ProviderRegistry) ClearStatusOverride(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.message[provider]; ok {
		s.statusOverride = nil
		r.recomputeMessage(s)
		return
	}
	if s, ok := r.llm[provider]; ok {
		s.statusOverride = nil
		r.recomputeLLM(s)
	}
}

// MessageMetrics returns a copy of one message provider's metrics.
func (r *ProviderRegistry) MessageMetrics(provider string) (metrics.MessageProviderMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.message[provider]
	if !ok {
		return metrics.MessageProviderMetrics{}, false
	}
	return s.m, true
}

// LLMMetrics returns a copy of one LLM provider's metrics.
func (r *ProviderRegistry) LLMMetrics(provider string) (metrics.LLMProviderMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.llm[provider]
	if !ok {
		return metrics.LLMProviderMetrics{}, false
	}
	return r.copyLLM(s), true
}

// AllMetrics returns a snapshot copy of every provider's metrics.
func (r *ProviderRegistry) AllMetrics() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Message: make(map[string]metrics.MessageProviderMetrics, len(r.message)),
		LLM:     make(map[string]metrics.LLMProviderMetrics, len(r.llm)),
	}
	for name, s := range r.message {
		snap.Message[name] = s.m
	}
	for name, s := range r.llm {
		snap.LLM[name] = r.copyLLM(s)
	}
	return snap
}

// GetSummary aggregates across all providers.
func (r *ProviderRegistry) GetSummary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := Summary{
		MessageProviders: len(r.message),
		LLMProviders:     len(r.llm),
		TotalCost:        decimal.Zero,
		ByStatus:         make(map[string]int),
	}
	for _, s := range r.message {
		sum.MessagesReceived += s.m.MessagesReceived
		sum.MessagesSent += s.m.MessagesSent
		sum.MessagesFailed += s.m.MessagesFailed
		sum.ByStatus[s.m.Status.String()]++
	}
	for _, s := range r.llm {
		sum.LLMRequests += s.m.Requests
		sum.LLMFailed += s.m.RequestsFailed
		sum.TotalTokens += s.m.TotalTokens
		sum.TotalCost = sum.TotalCost.Add(s.m.TotalCost)
		sum.ByStatus[s.m.Status.String()]++
	}

	totalOps := sum.MessagesReceived + sum.MessagesSent + sum.MessagesFailed + sum.LLMRequests
	sum.OverallErrorRate = metrics.ErrorRate(sum.MessagesFailed+sum.LLMFailed, totalOps)
	return sum
}

// Reset clears all provider state but keeps registrations.
func (r *ProviderRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.message {
		r.message[name] = &messageState{
			m:             metrics.MessageProviderMetrics{Provider: name, Status: metrics.StatusUnknown},
			responseTimes: metrics.NewWindow(r.windowSize),
		}
	}
	for name := range r.llm {
		r.llm[name] = &llmState{
			m: metrics.LLMProviderMetrics{
				Provider:      name,
				Status:        metrics.StatusUnknown,
				TotalCost:     decimal.Zero,
				CostByModel:   make(map[string]decimal.Decimal),
				TokensByModel: make(map[string]int64),
			},
			latencies: metrics.NewWindow(r.windowSize),
		}
	}
}

// recomputeMessage refreshes derived fields. Caller holds the write lock.
func (r *ProviderRegistry) recomputeMessage(s *messageState) {
	total := s.m.MessagesReceived + s.m.MessagesSent + s.m.MessagesFailed
	s.m.ErrorRate = metrics.ErrorRate(s.m.MessagesFailed, total)

	values := s.responseTimes.Values()
	s.m.AvgResponseTime = metrics.Mean(values)
	s.m.P50ResponseTime = metrics.Percentile(values, 50)
	s.m.P95ResponseTime = metrics.Percentile(values, 95)
	s.m.P99ResponseTime = metrics.Percentile(values, 99)

	if s.statusOverride != nil {
		s.m.Status = *s.statusOverride
		return
	}
	successes := s.m.MessagesReceived + s.m.MessagesSent
	s.m.Status = metrics.DeriveStatus(s.m.ErrorRate, s.m.MessagesFailed, successes)
}

// recomputeLLM refreshes derived fields. Caller holds the write lock.
func (r *ProviderRegistry) recomputeLLM(s *llmState) {
	s.m.ErrorRate = metrics.ErrorRate(s.m.RequestsFailed, s.m.Requests)

	values := s.latencies.Values()
	s.m.AvgLatency = metrics.Mean(values)
	s.m.P50Latency = metrics.Percentile(values, 50)
	s.m.P95Latency = metrics.Percentile(values, 95)
	s.m.P99Latency = metrics.Percentile(values, 99)

	if s.statusOverride != nil {
		s.m.Status = *s.statusOverride
		return
	}
	s.m.Status = metrics.DeriveStatus(s.m.ErrorRate, s.m.RequestsFailed, s.m.Requests-s.m.RequestsFailed)
}

// copyLLM deep-copies the per-model maps so subscribers cannot mutate
// registry state through a snapshot.
func (r *ProviderRegistry) copyLLM(s *llmState) metrics.LLMProviderMetrics {
	c := s.m
	c.CostByModel = make(map[string]decimal.Decimal, len(s.m.CostByModel))
	for model, cost := range s.m.CostByModel {
		c.CostByModel[model] = cost
	}
	c.TokensByModel = make(map[string]int64, len(s.m.TokensByModel))
	for model, tokens := range s.m.TokensByModel {
		c.TokensByModel[model] = tokens
	}
	return c
}
