package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Metrics MetricsConfig `koanf:"metrics"`
	Health  HealthConfig  `koanf:"health"`
	Alerts  AlertsConfig  `koanf:"alerts"`
	Anomaly AnomalyConfig `koanf:"anomaly"`
	Logs    LogsConfig    `koanf:"logs"`
	Tracing TracingConfig `koanf:"tracing"`
}

type MetricsConfig struct {
	HistorySize        int    `koanf:"history_size"`
	ResponseTimeWindow int    `koanf:"response_time_window"`
	PrometheusEnabled  bool   `koanf:"prometheus_enabled"`
	PrometheusAddr     string `koanf:"prometheus_addr"`
}

type HealthConfig struct {
	CheckInterval time.Duration `koanf:"check_interval"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
	HistorySize   int           `koanf:"history_size"`
}

type AlertsConfig struct {
	EvaluationInterval  time.Duration `koanf:"evaluation_interval"`
	Cooldown            time.Duration `koanf:"cooldown"`
	ConsecutiveFailures int           `koanf:"consecutive_failures"`
	HistorySize         int           `koanf:"history_size"`
}

type AnomalyConfig struct {
	WindowSize    int           `koanf:"window_size"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	LatencyWarning    float64 `koanf:"latency_warning_ms"`
	LatencyCritical   float64 `koanf:"latency_critical_ms"`
	ErrorRateWarning  float64 `koanf:"error_rate_warning"`
	ErrorRateCritical float64 `koanf:"error_rate_critical"`
	CostRatioWarning  float64 `koanf:"cost_ratio_warning"`
	CostRatioCritical float64 `koanf:"cost_ratio_critical"`
}

type LogsConfig struct {
	Capacity          int           `koanf:"capacity"`
	ErrorRateWindow   time.Duration `koanf:"error_rate_window"`
	ConditionCooldown time.Duration `koanf:"condition_cooldown"`
}

type TracingConfig struct {
	SampleRate        float64       `koanf:"sample_rate"`
	ExportInterval    time.Duration `koanf:"export_interval"`
	MaxCompletedSpans int           `koanf:"max_completed_spans"`
	OTelEnabled       bool          `koanf:"otel_enabled"`
}

// Load builds configuration from defaults, an optional configs/config.yaml
// and BOTWATCH_-prefixed environment variables, later sources winning.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Metrics: MetricsConfig{
			HistorySize:        1000,
			ResponseTimeWindow: 100,
			PrometheusEnabled:  true,
			PrometheusAddr:     ":9090",
		},
		Health: HealthConfig{
			CheckInterval: 30 * time.Second,
			SweepInterval: 60 * time.Second,
			ProbeTimeout:  2 * time.Second,
			HistorySize:   100,
		},
		Alerts: AlertsConfig{
			EvaluationInterval:  30 * time.Second,
			Cooldown:            5 * time.Minute,
			ConsecutiveFailures: 3,
			HistorySize:         1000,
		},
		Anomaly: AnomalyConfig{
			WindowSize:        100,
			SweepInterval:     60 * time.Second,
			LatencyWarning:    2000,
			LatencyCritical:   5000,
			ErrorRateWarning:  10,
			ErrorRateCritical: 25,
			CostRatioWarning:  3,
			CostRatioCritical: 5,
		},
		Logs: LogsConfig{
			Capacity:          10000,
			ErrorRateWindow:   60 * time.Second,
			ConditionCooldown: 5 * time.Minute,
		},
		Tracing: TracingConfig{
			SampleRate:        1.0,
			ExportInterval:    30 * time.Second,
			MaxCompletedSpans: 5000,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// The config file is optional; defaults plus environment cover the rest.
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	// Environment variables use __ as the hierarchy separator so key names
	// keep their underscores: BOTWATCH_ALERTS__HISTORY_SIZE → alerts.history_size.
	if err := k.Load(env.Provider("BOTWATCH_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "BOTWATCH_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
