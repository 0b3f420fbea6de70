package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the operator-facing level of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the lifecycle state of an alert. Transitions are monotonic:
// active → acknowledged → resolved, or active → resolved directly.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is a single operator-visible event. Immutable after creation except
// for its lifecycle fields (Status, AcknowledgedAt, ResolvedAt).
type Alert struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Severity  `json:"level"`
	Status    Status    `json:"status"`

	Source  string `json:"source"`
	Title   string `json:"title"`
	Message string `json:"message"`

	Metric    string   `json:"metric,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates an active alert with a fresh identifier.
func New(level Severity, source, title, message string) *Alert {
	return &Alert{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     level,
		Status:    StatusActive,
		Source:    source,
		Title:     title,
		Message:   message,
	}
}

// Acknowledge moves an active alert to acknowledged. Returns false when the
// alert is already acknowledged or resolved.
func (a *Alert) Acknowledge(at time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	a.Status = StatusAcknowledged
	t := at
	a.AcknowledgedAt = &t
	return true
}

// Resolve moves an active or acknowledged alert to resolved. Returns false
// when the alert is already resolved.
func (a *Alert) Resolve(at time.Time) bool {
	if a.Status == StatusResolved {
		return false
	}
	a.Status = StatusResolved
	t := at
	a.ResolvedAt = &t
	return true
}

// Clone returns a deep copy so consumers cannot mutate manager state.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Value != nil {
		v := *a.Value
		c.Value = &v
	}
	if a.Threshold != nil {
		v := *a.Threshold
		c.Threshold = &v
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Summary aggregates alert counts for the presentation layer.
type Summary struct {
	Total        int              `json:"total"`
	Active       int              `json:"active"`
	Acknowledged int              `json:"acknowledged"`
	Resolved     int              `json:"resolved"`
	BySeverity   map[Severity]int `json:"by_severity"`
	BySource     map[string]int   `json:"by_source"`
	LastAlertAt  *time.Time       `json:"last_alert_at,omitempty"`
}
