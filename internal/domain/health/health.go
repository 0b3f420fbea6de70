package health

import (
	"time"
)

// Status is the derived overall or per-component health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ServiceState is the observed state of a probed sub-service.
type ServiceState string

const (
	ServiceUp       ServiceState = "up"
	ServiceDegraded ServiceState = "degraded"
	ServiceDown     ServiceState = "down"
)

// MemoryStats reports process heap usage.
type MemoryStats struct {
	HeapUsed    uint64  `json:"heap_used"`
	HeapTotal   uint64  `json:"heap_total"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskStats reports (simulated) disk usage.
type DiskStats struct {
	Used        uint64  `json:"used"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"used_percent"`
}

// ProbeResult is the timed outcome of a single sub-service check.
type ProbeResult struct {
	Name         string       `json:"name"`
	State        ServiceState `json:"state"`
	ResponseTime float64      `json:"response_time_ms"`
	Error        string       `json:"error,omitempty"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Result is a full health snapshot.
type Result struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`

	Memory   MemoryStats   `json:"memory"`
	Disk     DiskStats     `json:"disk"`
	Database ProbeResult   `json:"database"`
	Services []ProbeResult `json:"services"`
}

// Trends summarizes the snapshot history ring.
type Trends struct {
	Samples            int            `json:"samples"`
	Uptime             time.Duration  `json:"uptime"`
	AvgResponseTime    float64        `json:"avg_response_time_ms"`
	ErrorRate          float64        `json:"error_rate"` // % of snapshots not healthy
	StatusDistribution map[Status]int `json:"status_distribution"`
}
