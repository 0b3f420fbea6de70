package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComparisonEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		cmp      Comparison
		observed float64
		trigger  float64
		want     bool
	}{
		{"gt above", CompareGT, 91, 90, true},
		{"gt equal", CompareGT, 90, 90, false},
		{"lt below", CompareLT, 1, 5, true},
		{"lt equal", CompareLT, 5, 5, false},
		{"gte equal", CompareGTE, 90, 90, true},
		{"gte below", CompareGTE, 89.9, 90, false},
		{"lte equal", CompareLTE, 5, 5, true},
		{"eq match", CompareEQ, 2, 2, true},
		{"eq mismatch", CompareEQ, 2.1, 2, false},
		{"change ratio over", CompareChange, 3.2, 3, true},
		{"change ratio under", CompareChange, 2.9, 3, false},
		{"unknown comparison never fires", Comparison("between"), 100, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmp.Evaluate(tt.observed, tt.trigger))
		})
	}
}

func TestThresholdKey(t *testing.T) {
	th := Threshold{Source: "providers", Metric: "error_rate"}
	assert.Equal(t, "providers:error_rate", th.Key())
}

func TestAlertLifecycleTransitions(t *testing.T) {
	now := time.Now()

	a := New(SeverityWarning, "system", "memory high", "over 90%")
	assert.Equal(t, StatusActive, a.Status)

	assert.True(t, a.Acknowledge(now))
	assert.Equal(t, StatusAcknowledged, a.Status)
	assert.False(t, a.Acknowledge(now), "second acknowledge must fail")

	assert.True(t, a.Resolve(now))
	assert.Equal(t, StatusResolved, a.Status)
	assert.False(t, a.Resolve(now), "second resolve must fail")
}

func TestResolveDirectlyFromActive(t *testing.T) {
	a := New(SeverityCritical, "llm", "down", "all providers failing")
	assert.True(t, a.Resolve(time.Now()))
	assert.Nil(t, a.AcknowledgedAt)
	assert.NotNil(t, a.ResolvedAt)
}

func TestCloneIsolation(t *testing.T) {
	v := 42.0
	a := New(SeverityInfo, "s", "t", "m")
	a.Value = &v
	a.Metadata = map[string]string{"k": "v"}

	c := a.Clone()
	*c.Value = 99
	c.Metadata["k"] = "changed"

	assert.Equal(t, 42.0, *a.Value)
	assert.Equal(t, "v", a.Metadata["k"])
}
