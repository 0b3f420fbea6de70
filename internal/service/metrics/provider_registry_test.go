package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dmetrics "github.com/davidleathers/botwatch/internal/domain/metrics"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
)

func newTestRegistry(t *testing.T) (*ProviderRegistry, *events.Bus) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	r := NewProviderRegistry(100, bus, zap.NewNop())
	r.RegisterMessageProvider("discord")
	r.RegisterLLMProvider("openai")
	return r, bus
}

func TestErrorRateAfterSequence(t *testing.T) {
	r, _ := newTestRegistry(t)

	// 7 received, 2 sent, 1 failed: errorRate = 100 × 1 / 10.
	for i := 0; i < 7; i++ {
		r.RecordMessageReceived("discord", 10*time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		r.RecordMessageSent("discord", 10*time.Millisecond)
	}
	r.RecordMessageFailed("discord")

	m, ok := r.MessageMetrics("discord")
	require.True(t, ok)
	assert.Equal(t, int64(7), m.MessagesReceived)
	assert.Equal(t, int64(2), m.MessagesSent)
	assert.Equal(t, int64(1), m.MessagesFailed)
	assert.InDelta(t, 10.0, m.ErrorRate, 0.001)
	assert.Equal(t, dmetrics.StatusHealthy, m.Status)
	assert.False(t, m.LastActivity.IsZero())
	assert.False(t, m.LastError.IsZero())
}

func TestStatusIsPureFunctionOfCounts(t *testing.T) {
	r, _ := newTestRegistry(t)

	// Drive error rate above the degraded band.
	r.RecordMessageReceived("discord", 0)
	for i := 0; i < 2; i++ {
		r.RecordMessageFailed("discord")
	}

	m, ok := r.MessageMetrics("discord")
	require.True(t, ok)
	assert.Greater(t, m.ErrorRate, 10.0)
	assert.Equal(t, dmetrics.StatusDegraded, m.Status)

	// Recovery: enough successes pull the rate back under the band.
	for i := 0; i < 50; i++ {
		r.RecordMessageSent("discord", 0)
	}
	m, _ = r.MessageMetrics("discord")
	assert.Equal(t, dmetrics.StatusHealthy, m.Status)
}

func TestConsecutiveLLMFailuresDegradeNotUnhealthy(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < 6; i++ {
		r.RecordLLMRequest("openai", 100*time.Millisecond, 10, 10, decimal.Zero, false, "gpt-4")
	}

	m, ok := r.LLMMetrics("openai")
	require.True(t, ok)
	assert.Equal(t, int64(6), m.RequestsFailed)
	assert.Equal(t, 100.0, m.ErrorRate)
	// Failure count is below the unhealthy band, so a 100% error rate on
	// six requests degrades rather than pages.
	assert.Equal(t, dmetrics.StatusDegraded, m.Status)
}

func TestLLMCostAndTokenAccounting(t *testing.T) {
	r, _ := newTestRegistry(t)

	cost := decimal.RequireFromString("0.0015")
	r.RecordLLMRequest("openai", 200*time.Millisecond, 100, 50, cost, true, "gpt-4")
	r.RecordLLMRequest("openai", 300*time.Millisecond, 200, 100, cost, true, "gpt-4")

	m, ok := r.LLMMetrics("openai")
	require.True(t, ok)
	assert.Equal(t, int64(450), m.TotalTokens)
	assert.True(t, m.TotalCost.Equal(decimal.RequireFromString("0.0030")))
	assert.True(t, m.CostByModel["gpt-4"].Equal(decimal.RequireFromString("0.0030")))
	assert.Equal(t, int64(450), m.TokensByModel["gpt-4"])
	assert.Equal(t, dmetrics.StatusHealthy, m.Status)
}

func TestPercentilesFromResponseTimes(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 1; i <= 100; i++ {
		r.RecordMessageReceived("discord", time.Duration(i)*time.Millisecond)
	}

	m, ok := r.MessageMetrics("discord")
	require.True(t, ok)
	assert.Equal(t, 95.0, m.P95ResponseTime)
	assert.Equal(t, 50.0, m.P50ResponseTime)
	assert.Equal(t, 99.0, m.P99ResponseTime)
	assert.InDelta(t, 50.5, m.AvgResponseTime, 0.001)
}

func TestUnknownProviderIsSilentNoOp(t *testing.T) {
	r, _ := newTestRegistry(t)

	// Must not panic or create state.
	r.RecordMessageReceived("telegram", time.Millisecond)
	r.RecordLLMRequest("mistral", time.Millisecond, 1, 1, decimal.Zero, true, "")
	r.RecordRateLimitHit("telegram", dmetrics.RateLimitRequests)

	_, ok := r.MessageMetrics("telegram")
	assert.False(t, ok)
	snap := r.AllMetrics()
	assert.Len(t, snap.Message, 1)
	assert.Len(t, snap.LLM, 1)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.RecordLLMRequest("openai", time.Millisecond, 1, 1, decimal.RequireFromString("0.01"), true, "gpt-4")

	m, _ := r.LLMMetrics("openai")
	m.CostByModel["gpt-4"] = decimal.RequireFromString("999")

	fresh, _ := r.LLMMetrics("openai")
	assert.True(t, fresh.CostByModel["gpt-4"].Equal(decimal.RequireFromString("0.01")))
}

func TestPointEventsCarrySnapshots(t *testing.T) {
	r, bus := newTestRegistry(t)

	var received []dmetrics.MessageProviderMetrics
	bus.Subscribe(events.TopicMessageRecorded, func(_ events.Topic, payload interface{}) {
		m, ok := payload.(dmetrics.MessageProviderMetrics)
		if ok {
			received = append(received, m)
		}
	})

	r.RecordMessageReceived("discord", 5*time.Millisecond)
	r.RecordMessageReceived("discord", 5*time.Millisecond)

	require.Len(t, received, 2)
	assert.Equal(t, int64(1), received[0].MessagesReceived)
	assert.Equal(t, int64(2), received[1].MessagesReceived)
}

func TestStatusOverride(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.OverrideStatus("discord", dmetrics.StatusUnhealthy)
	r.RecordMessageSent("discord", time.Millisecond)

	m, _ := r.MessageMetrics("discord")
	assert.Equal(t, dmetrics.StatusUnhealthy, m.Status)

	r.ClearStatusOverride("discord")
	m, _ = r.MessageMetrics("discord")
	assert.Equal(t, dmetrics.StatusHealthy, m.Status)
}

func TestGetSummary(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.RecordMessageReceived("discord", time.Millisecond)
	r.RecordMessageFailed("discord")
	r.RecordLLMRequest("openai", time.Millisecond, 10, 5, decimal.RequireFromString("0.02"), true, "gpt-4")

	sum := r.GetSummary()
	assert.Equal(t, 1, sum.MessageProviders)
	assert.Equal(t, 1, sum.LLMProviders)
	assert.Equal(t, int64(1), sum.MessagesReceived)
	assert.Equal(t, int64(1), sum.MessagesFailed)
	assert.Equal(t, int64(1), sum.LLMRequests)
	assert.Equal(t, int64(15), sum.TotalTokens)
	assert.True(t, sum.TotalCost.Equal(decimal.RequireFromString("0.02")))
	// 1 failure over 3 operations.
	assert.InDelta(t, 33.333, sum.OverallErrorRate, 0.001)
}
