package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1000, cfg.Metrics.HistorySize)
	assert.True(t, cfg.Metrics.PrometheusEnabled)
	assert.Equal(t, ":9090", cfg.Metrics.PrometheusAddr)
	assert.Equal(t, 5*time.Minute, cfg.Logs.ConditionCooldown)
	assert.False(t, cfg.Tracing.OTelEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, 3, cfg.Alerts.ConsecutiveFailures)
	assert.Equal(t, 100, cfg.Anomaly.WindowSize)
	assert.Equal(t, 10000, cfg.Logs.Capacity)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
	assert.Equal(t, 5000, cfg.Tracing.MaxCompletedSpans)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BOTWATCH_LOG_LEVEL", "debug")
	t.Setenv("BOTWATCH_METRICS__HISTORY_SIZE", "250")
	t.Setenv("BOTWATCH_TRACING__SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.Metrics.HistorySize)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
}
