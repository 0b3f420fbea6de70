package alert

import (
	"time"
)

// Comparison is the operator applied between an observed value and the
// configured trigger value.
type Comparison string

const (
	CompareGT     Comparison = "gt"
	CompareLT     Comparison = "lt"
	CompareGTE    Comparison = "gte"
	CompareLTE    Comparison = "lte"
	CompareEQ     Comparison = "eq"
	CompareChange Comparison = "change" // relative change vs. window baseline
)

// Evaluate applies the comparison. For CompareChange the observed value is
// expected to already be a ratio against its baseline.
func (c Comparison) Evaluate(observed, trigger float64) bool {
	switch c {
	case CompareGT:
		return observed > trigger
	case CompareLT:
		return observed < trigger
	case CompareGTE:
		return observed >= trigger
	case CompareLTE:
		return observed <= trigger
	case CompareEQ:
		return observed == trigger
	case CompareChange:
		return observed >= trigger
	default:
		return false
	}
}

// Threshold is a configured alerting rule. Registered at startup from
// defaults and mutable at runtime; never deleted, only disabled, so alert
// history keeps pointing at a live rule.
type Threshold struct {
	ID       string     `json:"id" validate:"required"`
	Source   string     `json:"source" validate:"required"`
	Metric   string     `json:"metric" validate:"required"`
	Compare  Comparison `json:"compare" validate:"required,oneof=gt lt gte lte eq change"`
	Value    float64    `json:"value"`
	Severity Severity   `json:"severity" validate:"required,oneof=info warning critical"`

	// Window bounds how far back the rule looks where that applies
	// (rate-style metrics); zero means instantaneous.
	Window time.Duration `json:"window,omitempty"`

	Enabled  bool          `json:"enabled"`
	Cooldown time.Duration `json:"cooldown" validate:"min=0"`

	// ConsecutiveFailures is how many consecutive failing evaluations a key
	// must accumulate before an alert fires.
	ConsecutiveFailures int `json:"consecutive_failures" validate:"min=1"`

	// MessageTemplate may reference %s (metric) and %.2f (value).
	MessageTemplate string `json:"message_template,omitempty"`
}

// Key identifies the dedup/cooldown bucket shared by alerts from this rule.
func (t *Threshold) Key() string {
	return t.Source + ":" + t.Metric
}
