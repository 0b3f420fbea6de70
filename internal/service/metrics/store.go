package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/metrics"
)

// Store holds process-wide counters, gauges, KPIs and a bounded
// time-ordered sample history. All accessors return copies.
type Store struct {
	logger *zap.Logger

	mu          sync.RWMutex
	counters    map[string]float64
	gauges      map[string]float64
	kpis        map[string]metrics.KPI
	history     []metrics.Sample
	historySize int
}

// Stats is the store summary returned to the presentation layer.
type Stats struct {
	Counters    map[string]float64     `json:"counters"`
	Gauges      map[string]float64     `json:"gauges"`
	KPIs        map[string]metrics.KPI `json:"kpis"`
	HistoryLen  int                    `json:"history_len"`
	OldestAt    *time.Time             `json:"oldest_at,omitempty"`
	NewestAt    *time.Time             `json:"newest_at,omitempty"`
}

// NewStore creates a store with a bounded history (FIFO eviction).
func NewStore(historySize int, logger *zap.Logger) *Store {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Store{
		logger:      logger,
		counters:    make(map[string]float64),
		gauges:      make(map[string]float64),
		kpis:        make(map[string]metrics.KPI),
		history:     make([]metrics.Sample, 0, historySize),
		historySize: historySize,
	}
}

// IncCounter adds delta to a named counter.
func (s *Store) IncCounter(name string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

// SetGauge sets a named gauge.
func (s *Store) SetGauge(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

// SetKPI upserts a named business metric.
func (s *Store) SetKPI(name string, value, target float64, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kpis[name] = metrics.KPI{
		Name:      name,
		Value:     value,
		Target:    target,
		Unit:      unit,
		UpdatedAt: time.Now(),
	}
}

// Counter returns the current value of a counter (0 when unknown).
func (s *Store) Counter(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

// Gauge returns the current value of a gauge (0 when unknown).
func (s *Store) Gauge(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gauges[name]
}

// KPI returns a named KPI and whether it exists.
func (s *Store) KPI(name string) (metrics.KPI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kpis[name]
	return k, ok
}

// KPIs returns a copy of all KPIs.
func (s *Store) KPIs() map[string]metrics.KPI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]metrics.KPI, len(s.kpis))
	for name, k := range s.kpis {
		out[name] = k
	}
	return out
}

// RecordSample appends an immutable sample to the bounded history.
func (s *Store) RecordSample(name string, value float64, tags map[string]string) {
	var tagsCopy map[string]string
	if tags != nil {
		tagsCopy = make(map[string]string, len(tags))
		for k, v := range tags {
			tagsCopy[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) >= s.historySize {
		s.history = s.history[1:]
	}
	s.history = append(s.history, metrics.Sample{
		Name:      name,
		Value:     value,
		Timestamp: time.Now(),
		Tags:      tagsCopy,
	})
}

// History returns a copy of the sample buffer, oldest first. A non-empty
// name filters to samples of that name.
func (s *Store) History(name string) []metrics.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Sample, 0, len(s.history))
	for _, sample := range s.history {
		if name != "" && sample.Name != name {
			continue
		}
		out = append(out, sample.Clone())
	}
	return out
}

// GetStats summarizes current store contents.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Counters:   make(map[string]float64, len(s.counters)),
		Gauges:     make(map[string]float64, len(s.gauges)),
		KPIs:       make(map[string]metrics.KPI, len(s.kpis)),
		HistoryLen: len(s.history),
	}
	for name, v := range s.counters {
		stats.Counters[name] = v
	}
	for name, v := range s.gauges {
		stats.Gauges[name] = v
	}
	for name, k := range s.kpis {
		stats.KPIs[name] = k
	}
	if len(s.history) > 0 {
		oldest := s.history[0].Timestamp
		newest := s.history[len(s.history)-1].Timestamp
		stats.OldestAt = &oldest
		stats.NewestAt = &newest
	}
	return stats
}

// Reset clears all state. Used by the shutdown sequence and tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]float64)
	s.gauges = make(map[string]float64)
	s.kpis = make(map[string]metrics.KPI)
	s.history = s.history[:0]
}
