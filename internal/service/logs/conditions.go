package logs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/botwatch/internal/domain/alert"
	"github.com/davidleathers/botwatch/internal/domain/logs"
)

// ConditionType names the rule families evaluated on every inserted entry.
type ConditionType string

const (
	ConditionErrorRate    ConditionType = "error_rate"
	ConditionErrorCount   ConditionType = "error_count"
	ConditionWarningRate  ConditionType = "warning_rate"
	ConditionPatternMatch ConditionType = "pattern_match"
	ConditionKeyword      ConditionType = "keyword"
)

// ConditionConfig is the registration input for a log alert condition.
type ConditionConfig struct {
	ID       string         `validate:"required"`
	Name     string         `validate:"required"`
	Type     ConditionType  `validate:"required,oneof=error_rate error_count warning_rate pattern_match keyword"`
	Severity alert.Severity `validate:"required,oneof=info warning critical"`

	// Threshold is a percentage for the rate types; unused otherwise.
	Threshold float64
	// Window bounds the rate computation; defaults to the aggregator window.
	Window time.Duration
	// Pattern is a regular expression for pattern_match.
	Pattern string
	// Keyword is a case-insensitive substring for keyword.
	Keyword string

	Cooldown time.Duration `validate:"min=0"`
	Sources  []string      // empty means all sources
}

type condition struct {
	cfg           ConditionConfig
	pattern       *regexp.Regexp
	lastTriggered time.Time
}

// ConditionEvent is published on the bus when a condition fires.
type ConditionEvent struct {
	ConditionID   string         `json:"condition_id"`
	ConditionName string         `json:"condition_name"`
	Type          ConditionType  `json:"type"`
	Severity      alert.Severity `json:"severity"`
	Value         float64        `json:"value"`
	Threshold     float64        `json:"threshold"`
	Entry         logs.Entry     `json:"entry"`
	TriggeredAt   time.Time      `json:"triggered_at"`
}

var conditionValidator = validator.New()

// RegisterCondition adds or replaces a log alert condition. Invalid
// configuration is rejected and any previous condition with that id stays
// active unchanged.
func (a *Aggregator) RegisterCondition(cfg ConditionConfig) error {
	if err := conditionValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid log condition %q: %w", cfg.ID, err)
	}

	var pattern *regexp.Regexp
	switch cfg.Type {
	case ConditionPatternMatch:
		if cfg.Pattern == "" {
			return fmt.Errorf("invalid log condition %q: pattern_match requires a pattern", cfg.ID)
		}
		var err error
		pattern, err = regexp.Compile(cfg.Pattern)
		if err != nil {
			return fmt.Errorf("invalid log condition %q: %w", cfg.ID, err)
		}
	case ConditionKeyword:
		if cfg.Keyword == "" {
			return fmt.Errorf("invalid log condition %q: keyword requires a keyword", cfg.ID)
		}
	case ConditionErrorRate, ConditionWarningRate:
		if cfg.Threshold <= 0 {
			return fmt.Errorf("invalid log condition %q: rate conditions require a positive threshold", cfg.ID)
		}
	}

	if cfg.Window <= 0 {
		cfg.Window = a.errorRateWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = a.conditionCooldown
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.conditions[cfg.ID] = &condition{cfg: cfg, pattern: pattern}
	return nil
}

// RemoveCondition deletes a condition. Unknown ids are a no-op.
func (a *Aggregator) RemoveCondition(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conditions, id)
}

// Conditions returns a copy of the registered condition configs.
func (a *Aggregator) Conditions() []ConditionConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ConditionConfig, 0, len(a.conditions))
	for _, c := range a.conditions {
		out = append(out, c.cfg)
	}
	return out
}

// evaluateConditions checks every condition against the just-inserted entry.
// Each condition carries its own cooldown; a condition inside cooldown never
// fires regardless of how loud the stream is. Caller holds the write lock.
func (a *Aggregator) evaluateConditions(entry *logs.Entry) []ConditionEvent {
	now := time.Now()
	var triggered []ConditionEvent

	for _, c := range a.conditions {
		if len(c.cfg.Sources) > 0 && !containsString(c.cfg.Sources, entry.Source) {
			continue
		}
		if !c.lastTriggered.IsZero() && now.Sub(c.lastTriggered) < c.cfg.Cooldown {
			continue
		}

		value, hit := a.evaluate(c, entry)
		if !hit {
			continue
		}

		c.lastTriggered = now
		triggered = append(triggered, ConditionEvent{
			ConditionID:   c.cfg.ID,
			ConditionName: c.cfg.Name,
			Type:          c.cfg.Type,
			Severity:      c.cfg.Severity,
			Value:         value,
			Threshold:     c.cfg.Threshold,
			Entry:         *entry.Clone(),
			TriggeredAt:   now,
		})
	}
	return triggered
}

func (a *Aggregator) evaluate(c *condition, entry *logs.Entry) (float64, bool) {
	switch c.cfg.Type {
	case ConditionErrorCount:
		if entry.Level >= logs.LevelError {
			return 1, true
		}
	case ConditionErrorRate:
		rate := a.windowRate(c.cfg.Window, c.cfg.Sources, logs.LevelError)
		if rate >= c.cfg.Threshold {
			return rate, true
		}
	case ConditionWarningRate:
		rate := a.windowRate(c.cfg.Window, c.cfg.Sources, logs.LevelWarn)
		if rate >= c.cfg.Threshold {
			return rate, true
		}
	case ConditionPatternMatch:
		if c.pattern != nil && c.pattern.MatchString(entry.Message) {
			return 1, true
		}
	case ConditionKeyword:
		if strings.Contains(strings.ToLower(entry.Message), strings.ToLower(c.cfg.Keyword)) {
			return 1, true
		}
	}
	return 0, false
}

// windowRate computes 100 × entries-at-or-above-level / total entries within
// the window, optionally restricted to sources. Caller holds a lock.
func (a *Aggregator) windowRate(window time.Duration, sources []string, minLevel logs.Level) float64 {
	cutoff := time.Now().Add(-window)
	var total, matching int
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		if len(sources) > 0 && !containsString(sources, e.Source) {
			continue
		}
		total++
		if e.Level >= minLevel {
			matching++
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(matching) / float64(total)
}
