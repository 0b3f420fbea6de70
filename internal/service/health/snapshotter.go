package health

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/health"
)

// Probe checks one sub-service. Implementations must honor ctx; the
// snapshotter applies a per-probe timeout and converts failure into a status
// value, never an error surfaced to callers.
type Probe func(ctx context.Context) error

// Config controls snapshotter behavior.
type Config struct {
	// CheckInterval throttles PerformHealthCheck: calls arriving before the
	// interval has elapsed get the cached result.
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	HistorySize   int
}

// Snapshotter samples process memory, disk and sub-service liveness and
// derives an overall status. It keeps a bounded ring of past snapshots for
// trend queries.
type Snapshotter struct {
	logger *zap.Logger
	cfg    Config

	startedAt time.Time

	mu       sync.Mutex
	dbProbe  Probe
	services map[string]Probe

	lastResult  *health.Result
	lastChecked time.Time

	history []health.Result
}

// New creates a snapshotter with simulated default probes for the database
// and three named services. Hosts replace them via SetDatabaseProbe/SetProbe.
func New(cfg Config, logger *zap.Logger) *Snapshotter {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	s := &Snapshotter{
		logger:    logger,
		cfg:       cfg,
		startedAt: time.Now(),
		services:  make(map[string]Probe),
	}
	s.dbProbe = simulatedProbe(5 * time.Millisecond)
	s.services["message_providers"] = simulatedProbe(10 * time.Millisecond)
	s.services["llm_providers"] = simulatedProbe(20 * time.Millisecond)
	s.services["scheduler"] = simulatedProbe(2 * time.Millisecond)
	return s
}

// SetDatabaseProbe replaces the database connectivity probe.
func (s *Snapshotter) SetDatabaseProbe(p Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbProbe = p
}

// SetProbe registers or replaces a named service probe.
func (s *Snapshotter) SetProbe(name string, p Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = p
}

// PerformHealthCheck runs all probes and derives overall status. Throttled:
// a call arriving before CheckInterval has elapsed since the previous check
// returns the cached result instead of recomputing.
func (s *Snapshotter) PerformHealthCheck(ctx context.Context) health.Result {
	s.mu.Lock()
	if s.lastResult != nil && time.Since(s.lastChecked) < s.cfg.CheckInterval {
		cached := *s.lastResult
		s.mu.Unlock()
		return cached
	}
	dbProbe := s.dbProbe
	probes := make(map[string]Probe, len(s.services))
	for name, p := range s.services {
		probes[name] = p
	}
	s.mu.Unlock()

	result := s.check(ctx, dbProbe, probes)

	s.mu.Lock()
	s.lastResult = &result
	s.lastChecked = time.Now()
	if len(s.history) >= s.cfg.HistorySize {
		s.history = s.history[1:]
	}
	s.history = append(s.history, result)
	s.mu.Unlock()

	return result
}

// ForceCheck bypasses the throttle. Used by tests and the shutdown probe.
func (s *Snapshotter) ForceCheck(ctx context.Context) health.Result {
	s.mu.Lock()
	s.lastChecked = time.Time{}
	s.mu.Unlock()
	return s.PerformHealthCheck(ctx)
}

// GetHealthTrends summarizes the snapshot ring.
func (s *Snapshotter) GetHealthTrends() health.Trends {
	s.mu.Lock()
	defer s.mu.Unlock()

	trends := health.Trends{
		Samples:            len(s.history),
		Uptime:             time.Since(s.startedAt),
		StatusDistribution: make(map[health.Status]int),
	}
	if len(s.history) == 0 {
		return trends
	}

	var totalResponse float64
	var probeCount int
	var notHealthy int
	for _, r := range s.history {
		trends.StatusDistribution[r.Status]++
		if r.Status != health.StatusHealthy {
			notHealthy++
		}
		totalResponse += r.Database.ResponseTime
		probeCount++
		for _, p := range r.Services {
			totalResponse += p.ResponseTime
			probeCount++
		}
	}
	if probeCount > 0 {
		trends.AvgResponseTime = totalResponse / float64(probeCount)
	}
	trends.ErrorRate = 100 * float64(notHealthy) / float64(len(s.history))
	return trends
}

// Reset clears cached results and history. Used by the shutdown sequence.
func (s *Snapshotter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = nil
	s.lastChecked = time.Time{}
	s.history = nil
}

func (s *Snapshotter) check(ctx context.Context, dbProbe Probe, probes map[string]Probe) health.Result {
	now := time.Now()
	result := health.Result{
		Timestamp: now,
		Uptime:    now.Sub(s.startedAt),
		Memory:    readMemory(),
		Disk:      readDisk(),
	}

	result.Database = s.runProbe(ctx, "database", dbProbe)
	for name, p := range probes {
		result.Services = append(result.Services, s.runProbe(ctx, name, p))
	}

	result.Status = derive(result)

	if result.Status != health.StatusHealthy {
		s.logger.Warn("health check not healthy",
			zap.String("status", string(result.Status)),
			zap.Float64("memory_pct", result.Memory.UsedPercent),
		)
	}
	return result
}

func (s *Snapshotter) runProbe(ctx context.Context, name string, p Probe) health.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := p(probeCtx)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	res := health.ProbeResult{
		Name:         name,
		ResponseTime: elapsed,
		CheckedAt:    start,
	}
	switch {
	case err != nil:
		res.State = health.ServiceDown
		res.Error = err.Error()
	case elapsed > 1000:
		res.State = health.ServiceDegraded
	default:
		res.State = health.ServiceUp
	}
	return res
}

// derive applies the priority rules: database or service failure beats
// resource pressure, resource pressure beats slow probes.
func derive(r health.Result) health.Status {
	if r.Database.State == health.ServiceDown {
		return health.StatusUnhealthy
	}
	for _, p := range r.Services {
		if p.State == health.ServiceDown {
			return health.StatusUnhealthy
		}
	}
	if r.Memory.UsedPercent > 90 || r.Disk.UsedPercent > 90 {
		return health.StatusDegraded
	}
	if r.Database.ResponseTime > 1000 {
		return health.StatusDegraded
	}
	for _, p := range r.Services {
		if p.ResponseTime > 1000 {
			return health.StatusDegraded
		}
	}
	return health.StatusHealthy
}

func readMemory() health.MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := health.MemoryStats{
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
	}
	if ms.HeapSys > 0 {
		stats.UsedPercent = 100 * float64(ms.HeapAlloc) / float64(ms.HeapSys)
	}
	return stats
}

// readDisk reports simulated disk usage. Real disk accounting belongs to the
// host; the core only needs a pressure signal shaped like one.
func readDisk() health.DiskStats {
	total := uint64(100 * 1 << 30)
	used := uint64(float64(total) * (0.30 + rand.Float64()*0.10))
	return health.DiskStats{
		Used:        used,
		Total:       total,
		UsedPercent: 100 * float64(used) / float64(total),
	}
}

// simulatedProbe sleeps for roughly the given latency and succeeds.
func simulatedProbe(latency time.Duration) Probe {
	return func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(latency):
			return nil
		}
	}
}
