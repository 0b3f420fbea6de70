package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreCountersAndGauges(t *testing.T) {
	s := NewStore(10, zap.NewNop())

	s.IncCounter("messages_total", 1)
	s.IncCounter("messages_total", 2)
	s.SetGauge("queue_depth", 7)
	s.SetGauge("queue_depth", 3)

	assert.Equal(t, 3.0, s.Counter("messages_total"))
	assert.Equal(t, 3.0, s.Gauge("queue_depth"))
	assert.Equal(t, 0.0, s.Counter("missing"))
}

func TestStoreKPIs(t *testing.T) {
	s := NewStore(10, zap.NewNop())

	s.SetKPI("daily_active_bots", 42, 100, "bots")

	kpi, ok := s.KPI("daily_active_bots")
	require.True(t, ok)
	assert.Equal(t, 42.0, kpi.Value)
	assert.Equal(t, 100.0, kpi.Target)
	assert.False(t, kpi.UpdatedAt.IsZero())

	_, ok = s.KPI("missing")
	assert.False(t, ok)
}

func TestStoreHistoryEviction(t *testing.T) {
	s := NewStore(5, zap.NewNop())

	for i := 0; i < 8; i++ {
		s.RecordSample("latency", float64(i), nil)
	}

	history := s.History("")
	require.Len(t, history, 5)
	assert.Equal(t, 3.0, history[0].Value)
	assert.Equal(t, 7.0, history[4].Value)
}

func TestStoreHistoryFilterByName(t *testing.T) {
	s := NewStore(10, zap.NewNop())
	s.RecordSample("a", 1, nil)
	s.RecordSample("b", 2, nil)
	s.RecordSample("a", 3, nil)

	assert.Len(t, s.History("a"), 2)
	assert.Len(t, s.History("b"), 1)
	assert.Len(t, s.History(""), 3)
}

func TestStoreSampleTagsCopied(t *testing.T) {
	s := NewStore(10, zap.NewNop())
	tags := map[string]string{"provider": "discord"}
	s.RecordSample("latency", 1, tags)

	tags["provider"] = "mutated"

	history := s.History("latency")
	require.Len(t, history, 1)
	assert.Equal(t, "discord", history[0].Tags["provider"])
}

func TestStoreHistoryTagsDetached(t *testing.T) {
	s := NewStore(10, zap.NewNop())
	s.RecordSample("latency", 1, map[string]string{"provider": "discord"})

	// Writing through a returned sample must not reach the stored buffer.
	first := s.History("latency")
	require.Len(t, first, 1)
	first[0].Tags["provider"] = "scribbled"

	second := s.History("latency")
	require.Len(t, second, 1)
	assert.Equal(t, "discord", second[0].Tags["provider"])
}

func TestStoreGetStats(t *testing.T) {
	s := NewStore(10, zap.NewNop())
	for i := 0; i < 3; i++ {
		s.IncCounter(fmt.Sprintf("c%d", i), 1)
		s.RecordSample("x", float64(i), nil)
	}

	stats := s.GetStats()
	assert.Len(t, stats.Counters, 3)
	assert.Equal(t, 3, stats.HistoryLen)
	require.NotNil(t, stats.OldestAt)
	require.NotNil(t, stats.NewestAt)
	assert.False(t, stats.NewestAt.Before(*stats.OldestAt))
}
