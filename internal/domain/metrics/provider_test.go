package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		errorRate float64
		failures  int64
		successes int64
		expected  ProviderStatus
	}{
		{"no activity", 0, 0, 0, StatusUnknown},
		{"only successes", 0, 0, 10, StatusHealthy},
		{"low error rate", 5, 2, 50, StatusHealthy},
		{"error rate above degraded band", 15, 3, 20, StatusDegraded},
		{"failure count above degraded band", 2, 11, 500, StatusDegraded},
		{"high rate but few failures stays degraded", 100, 6, 0, StatusDegraded},
		{"high rate and many failures", 60, 150, 100, StatusUnhealthy},
		{"many failures but low rate", 5, 150, 3000, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveStatus(tt.errorRate, tt.failures, tt.successes))
		})
	}
}

func TestErrorRate(t *testing.T) {
	assert.Equal(t, 0.0, ErrorRate(0, 0))
	assert.Equal(t, 50.0, ErrorRate(1, 2))
	assert.InDelta(t, 33.333, ErrorRate(1, 3), 0.001)
	assert.Equal(t, 100.0, ErrorRate(5, 5))
}

func TestProviderStatusString(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}
