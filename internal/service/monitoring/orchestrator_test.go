package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/alert"
	danomaly "github.com/davidleathers/botwatch/internal/domain/anomaly"
	dlogs "github.com/davidleathers/botwatch/internal/domain/logs"
	dtrace "github.com/davidleathers/botwatch/internal/domain/trace"
	"github.com/davidleathers/botwatch/internal/infrastructure/config"
	"github.com/davidleathers/botwatch/internal/service/logs"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Metrics: config.MetricsConfig{
			HistorySize:        100,
			ResponseTimeWindow: 100,
		},
		Health: config.HealthConfig{
			CheckInterval: time.Minute,
			SweepInterval: time.Minute,
			ProbeTimeout:  time.Second,
			HistorySize:   10,
		},
		Alerts: config.AlertsConfig{
			EvaluationInterval:  time.Minute,
			Cooldown:            time.Minute,
			ConsecutiveFailures: 3,
			HistorySize:         100,
		},
		Anomaly: config.AnomalyConfig{
			WindowSize:        20,
			SweepInterval:     time.Minute,
			LatencyWarning:    2000,
			LatencyCritical:   5000,
			ErrorRateWarning:  10,
			ErrorRateCritical: 25,
			CostRatioWarning:  3,
			CostRatioCritical: 5,
		},
		Logs: config.LogsConfig{
			Capacity:        1000,
			ErrorRateWindow: time.Minute,
		},
		Tracing: config.TracingConfig{
			SampleRate:        1,
			ExportInterval:    time.Minute,
			MaxCompletedSpans: 100,
		},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(testConfig(), zap.NewNop())
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))

	// A second Start on a running service is a conflict with no side effects.
	assert.Error(t, s.Start(ctx))

	require.NoError(t, s.Stop(ctx))
	// Stop is idempotent.
	require.NoError(t, s.Stop(ctx))

	// A stopped service can be started again.
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestRecordingFlowsIntoSummary(t *testing.T) {
	s := newTestService(t)

	s.RecordMessageReceived("discord", 50*time.Millisecond)
	s.RecordMessageSent("discord", 80*time.Millisecond)
	s.RecordMessageFailed("discord")
	s.RecordLLMRequest("openai", 400*time.Millisecond, 120, 80, decimal.NewFromFloat(0.02), true, "gpt-4o")

	sum := s.GetProviderSummary()
	assert.Equal(t, int64(1), sum.MessagesReceived)
	assert.Equal(t, int64(1), sum.MessagesSent)
	assert.Equal(t, int64(1), sum.MessagesFailed)
	assert.Equal(t, int64(1), sum.LLMRequests)
	assert.True(t, sum.TotalCost.Equal(decimal.NewFromFloat(0.02)))
}

func TestUnknownProviderIsSilentlyIgnored(t *testing.T) {
	s := newTestService(t)

	assert.NotPanics(t, func() {
		s.RecordMessageReceived("telegram", 10*time.Millisecond)
		s.RecordMessageFailed("telegram")
	})
	assert.Zero(t, s.GetProviderSummary().MessagesReceived)
}

func TestLoggingFlowsIntoQueries(t *testing.T) {
	s := newTestService(t)

	s.Info("bot", "started", nil)
	s.Error("llm", "completion failed", &logs.Fields{Provider: "openai"})

	entries := s.QueryLogs(dlogs.Filter{Levels: []dlogs.Level{dlogs.LevelError}})
	require.Len(t, entries, 1)
	assert.Equal(t, "completion failed", entries[0].Message)

	stats := s.GetLogStats()
	assert.Equal(t, 2, stats.Total)
}

func TestLogConditionBecomesAlert(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Logs().RegisterCondition(logs.ConditionConfig{
		ID:       "crash_watch",
		Name:     "crash watch",
		Type:     logs.ConditionKeyword,
		Severity: alert.SeverityCritical,
		Keyword:  "panic",
		Cooldown: time.Minute,
	}))

	s.Error("worker", "panic in message handler", nil)

	active := s.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, alert.SeverityCritical, active[0].Level)
	assert.Equal(t, "logs", active[0].Source)
	assert.Equal(t, "crash watch", active[0].Title)
}

func TestAnomalyBecomesAlert(t *testing.T) {
	s := newTestService(t)

	// Warm the cost baseline, then spike it.
	for i := 0; i < 10; i++ {
		s.Anomalies().AddDataPoint("openai", danomaly.TypeCost, 1.0)
	}
	s.Anomalies().DetectCostValue("openai", danomaly.IntegrationLLM, 10.0)

	active := s.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, alert.SeverityCritical, active[0].Level)
	assert.Equal(t, "openai", active[0].Source)
}

func TestAlertLifecycleThroughService(t *testing.T) {
	s := newTestService(t)

	created := s.Alerts().CreateAlert(context.Background(), alert.SeverityWarning, "system", "memory", "memory high", "over threshold", nil)
	require.NotNil(t, created)

	require.NoError(t, s.AcknowledgeAlert(created.ID))
	require.NoError(t, s.ResolveAlert(created.ID))

	sum := s.GetAlertSummary()
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Resolved)
	assert.Empty(t, s.GetActiveAlerts())
}

func TestTracingThroughService(t *testing.T) {
	s := newTestService(t)

	root := s.StartTrace("handle_message")
	child := s.StartSpan("llm_call", root)
	s.EndSpan(child.SpanID, dtrace.StatusOK, nil)
	s.EndSpan(root.SpanID, dtrace.StatusOK, nil)

	tree := s.GetTraceTree(root.TraceID)
	require.Len(t, tree.Roots, 1)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.Equal(t, "llm_call", tree.Roots[0].Children[0].Span.Operation)
}

func TestHealthCheckThroughService(t *testing.T) {
	s := newTestService(t)

	result := s.PerformHealthCheck(context.Background())
	assert.NotEmpty(t, result.Status)
	assert.NotZero(t, result.Timestamp)

	trends := s.GetHealthTrends()
	assert.Equal(t, 1, trends.Samples)
}

func TestDefaultThresholdsRegistered(t *testing.T) {
	s := newTestService(t)

	ids := make(map[string]bool)
	for _, th := range s.Alerts().Thresholds() {
		ids[th.ID] = true
	}
	for _, want := range []string{
		"system_memory_high",
		"system_disk_high",
		"system_unhealthy",
		"providers_error_rate",
		"logs_error_rate",
	} {
		assert.True(t, ids[want], "missing default threshold %s", want)
	}
}

func TestPrometheusBridgeGatedByConfig(t *testing.T) {
	// The default test config leaves the bridge off.
	s := newTestService(t)
	assert.Nil(t, s.PrometheusRegistry())

	cfg := testConfig()
	cfg.Metrics.PrometheusEnabled = true
	enabled := New(cfg, zap.NewNop())
	t.Cleanup(func() { _ = enabled.Close(context.Background()) })

	reg := enabled.PrometheusRegistry()
	require.NotNil(t, reg)

	enabled.RecordMessageReceived("discord", 10*time.Millisecond)
	enabled.RecordMessageSent("discord", 20*time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "botwatch_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expected the discord series on the service registry")
}

func TestCloseResetsState(t *testing.T) {
	s := New(testConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	s.RecordMessageReceived("discord", 10*time.Millisecond)
	s.Info("bot", "hello", nil)

	require.NoError(t, s.Close(ctx))

	assert.Zero(t, s.GetProviderSummary().MessagesReceived)
	assert.Zero(t, s.GetLogStats().Total)
	assert.Empty(t, s.GetAllAlerts())
}
