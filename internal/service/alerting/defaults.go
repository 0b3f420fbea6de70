package alerting

import (
	"time"

	"github.com/davidleathers/botwatch/internal/domain/alert"
)

// DefaultThresholds is the zero-configuration rule set registered at
// startup. Values mirror the provider status bands so threshold alerts and
// status derivation agree on what "degraded" means.
func DefaultThresholds(cooldown time.Duration, consecutiveFailures int) []alert.Threshold {
	return []alert.Threshold{
		{
			ID:                  "system_memory_high",
			Source:              "system",
			Metric:              "memory_percent",
			Compare:             alert.CompareGT,
			Value:               90,
			Severity:            alert.SeverityWarning,
			Enabled:             true,
			Cooldown:            cooldown,
			ConsecutiveFailures: consecutiveFailures,
			MessageTemplate:     "process memory usage above 90%",
		},
		{
			ID:                  "system_disk_high",
			Source:              "system",
			Metric:              "disk_percent",
			Compare:             alert.CompareGT,
			Value:               90,
			Severity:            alert.SeverityWarning,
			Enabled:             true,
			Cooldown:            cooldown,
			ConsecutiveFailures: consecutiveFailures,
			MessageTemplate:     "disk usage above 90%",
		},
		{
			ID:                  "system_unhealthy",
			Source:              "system",
			Metric:              "health_status",
			Compare:             alert.CompareGTE,
			Value:               2,
			Severity:            alert.SeverityCritical,
			Enabled:             true,
			Cooldown:            cooldown,
			ConsecutiveFailures: 1,
			MessageTemplate:     "overall health is unhealthy",
		},
		{
			ID:                  "providers_error_rate",
			Source:              "providers",
			Metric:              "overall_error_rate",
			Compare:             alert.CompareGT,
			Value:               25,
			Severity:            alert.SeverityCritical,
			Enabled:             true,
			Cooldown:            cooldown,
			ConsecutiveFailures: consecutiveFailures,
			MessageTemplate:     "provider error rate above 25%",
		},
		{
			ID:                  "logs_error_rate",
			Source:              "logs",
			Metric:              "error_rate",
			Compare:             alert.CompareGT,
			Value:               50,
			Severity:            alert.SeverityWarning,
			Enabled:             true,
			Cooldown:            cooldown,
			ConsecutiveFailures: consecutiveFailures,
			MessageTemplate:     "more than half of recent log volume is errors",
		},
	}
}
