package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of deviation was detected.
type Type string

const (
	TypeLatency   Type = "latency"
	TypeErrorRate Type = "error_rate"
	TypeCost      Type = "cost"
	TypeTokens    Type = "tokens"
	TypeRateLimit Type = "rate_limit"
)

// Severity of a detected anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IntegrationType distinguishes the two provider families.
type IntegrationType string

const (
	IntegrationMessage IntegrationType = "message"
	IntegrationLLM     IntegrationType = "llm"
)

// Anomaly records a live value deviating from its window-derived baseline
// beyond a static threshold. ExpectedValue is the window mean at the moment
// of detection; Deviation is value/expected, or the raw value when no
// baseline existed yet.
type Anomaly struct {
	ID              uuid.UUID       `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Integration     string          `json:"integration"`
	IntegrationType IntegrationType `json:"integration_type"`
	Type            Type            `json:"type"`
	Severity        Severity        `json:"severity"`
	Message         string          `json:"message"`

	Value         float64 `json:"value"`
	ExpectedValue float64 `json:"expected_value"`
	Deviation     float64 `json:"deviation"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary aggregates recent anomalies for the presentation layer.
type Summary struct {
	Total         int                `json:"total"`
	BySeverity    map[Severity]int   `json:"by_severity"`
	ByType        map[Type]int       `json:"by_type"`
	ByIntegration map[string]int     `json:"by_integration"`
	LastDetected  *time.Time         `json:"last_detected,omitempty"`
}
