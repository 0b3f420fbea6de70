package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/anomaly"
	"github.com/davidleathers/botwatch/internal/domain/metrics"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
	metricsvc "github.com/davidleathers/botwatch/internal/service/metrics"
)

// Thresholds are the static detection bands. Latency and error-rate bands
// are absolute values; cost bands are ratios against the window baseline
// ("×normal").
type Thresholds struct {
	LatencyWarningMS  float64
	LatencyCriticalMS float64
	ErrorRateWarning  float64
	ErrorRateCritical float64
	CostRatioWarning  float64
	CostRatioCritical float64
}

// Detector maintains per-(integration, metric) sliding windows and compares
// live values against them. Detection runs once per sweep over all
// registered providers, never per individual sample; AddDataPoint lets
// producers warm the windows up without triggering detection.
type Detector struct {
	logger   *zap.Logger
	bus      *events.Bus
	registry *metricsvc.ProviderRegistry

	windowSize int
	thresholds Thresholds

	mu       sync.Mutex
	windows  map[string]*metrics.Window
	lastCost map[string]decimal.Decimal

	recent    []anomaly.Anomaly
	recentCap int
}

// NewDetector creates a detector reading live values from registry.
func NewDetector(windowSize int, thresholds Thresholds, registry *metricsvc.ProviderRegistry, bus *events.Bus, logger *zap.Logger) *Detector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Detector{
		logger:     logger,
		bus:        bus,
		registry:   registry,
		windowSize: windowSize,
		thresholds: thresholds,
		windows:    make(map[string]*metrics.Window),
		lastCost:   make(map[string]decimal.Decimal),
		recentCap:  500,
	}
}

// AddDataPoint appends a historical value to an integration's window
// without running detection. Used for warm-up so the first sweep after a
// restart has a baseline.
func (d *Detector) AddDataPoint(integration string, typ anomaly.Type, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window(integration, typ).Push(value)
}

// Detect sweeps every registered provider once, comparing live values to
// window baselines and the static bands. Detected anomalies are retained
// and published on the bus.
func (d *Detector) Detect(ctx context.Context) []anomaly.Anomaly {
	snap := d.registry.AllMetrics()

	var found []anomaly.Anomaly
	d.mu.Lock()
	for name, m := range snap.Message {
		if m.MessagesReceived+m.MessagesSent+m.MessagesFailed == 0 {
			continue
		}
		found = append(found, d.detectPoint(name, anomaly.IntegrationMessage, anomaly.TypeLatency, m.AvgResponseTime)...)
		found = append(found, d.detectPoint(name, anomaly.IntegrationMessage, anomaly.TypeErrorRate, m.ErrorRate)...)
	}
	for name, m := range snap.LLM {
		if m.Requests == 0 {
			continue
		}
		found = append(found, d.detectPoint(name, anomaly.IntegrationLLM, anomaly.TypeLatency, m.AvgLatency)...)
		found = append(found, d.detectPoint(name, anomaly.IntegrationLLM, anomaly.TypeErrorRate, m.ErrorRate)...)

		// Cost is cumulative in the registry; the window tracks per-sweep
		// deltas so a long-lived counter does not drown the baseline.
		delta := m.TotalCost.Sub(d.lastCost[name])
		d.lastCost[name] = m.TotalCost
		if delta.Sign() > 0 {
			cost, _ := delta.Float64()
			found = append(found, d.detectCost(name, anomaly.IntegrationLLM, cost)...)
		}
	}

	for _, a := range found {
		if len(d.recent) >= d.recentCap {
			d.recent = d.recent[1:]
		}
		d.recent = append(d.recent, a)
	}
	d.mu.Unlock()

	for _, a := range found {
		d.logger.Warn("anomaly detected",
			zap.String("integration", a.Integration),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.Float64("value", a.Value),
			zap.Float64("expected", a.ExpectedValue),
		)
		d.bus.Publish(events.TopicAnomalyDetected, a)
	}
	return found
}

// DetectCostValue runs cost-ratio detection for one explicit value. Exposed
// for producers that track spend outside the registry (e.g. image
// generation billed per call).
func (d *Detector) DetectCostValue(integration string, integrationType anomaly.IntegrationType, value float64) []anomaly.Anomaly {
	d.mu.Lock()
	found := d.detectCost(integration, integrationType, value)
	for _, a := range found {
		if len(d.recent) >= d.recentCap {
			d.recent = d.recent[1:]
		}
		d.recent = append(d.recent, a)
	}
	d.mu.Unlock()

	for _, a := range found {
		d.bus.Publish(events.TopicAnomalyDetected, a)
	}
	return found
}

// Recent returns a copy of the retained anomalies, oldest first.
func (d *Detector) Recent() []anomaly.Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]anomaly.Anomaly, len(d.recent))
	copy(out, d.recent)
	return out
}

// GetAnomalySummary aggregates the retained anomalies.
func (d *Detector) GetAnomalySummary() anomaly.Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	sum := anomaly.Summary{
		Total:         len(d.recent),
		BySeverity:    make(map[anomaly.Severity]int),
		ByType:        make(map[anomaly.Type]int),
		ByIntegration: make(map[string]int),
	}
	for _, a := range d.recent {
		sum.BySeverity[a.Severity]++
		sum.ByType[a.Type]++
		sum.ByIntegration[a.Integration]++
	}
	if len(d.recent) > 0 {
		last := d.recent[len(d.recent)-1].Timestamp
		sum.LastDetected = &last
	}
	return sum
}

// Reset clears windows, baselines and retained anomalies.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = make(map[string]*metrics.Window)
	d.lastCost = make(map[string]decimal.Decimal)
	d.recent = nil
}

// detectPoint classifies value against the absolute bands for typ. The
// expected value is the window mean before the new point is inserted, so a
// point can never baseline itself. Caller holds the lock.
func (d *Detector) detectPoint(integration string, it anomaly.IntegrationType, typ anomaly.Type, value float64) []anomaly.Anomaly {
	w := d.window(integration, typ)
	expected := w.Mean()
	hadBaseline := w.Len() > 0
	w.Push(value)

	warning, critical := d.bands(typ)
	var severity anomaly.Severity
	switch {
	case critical > 0 && value >= critical:
		severity = anomaly.SeverityCritical
	case warning > 0 && value >= warning:
		severity = anomaly.SeverityWarning
	default:
		return nil
	}

	deviation := value
	if hadBaseline && expected > 0 {
		deviation = value / expected
	}

	return []anomaly.Anomaly{{
		ID:              uuid.New(),
		Timestamp:       time.Now(),
		Integration:     integration,
		IntegrationType: it,
		Type:            typ,
		Severity:        severity,
		Message:         fmt.Sprintf("%s for %s at %.2f (expected %.2f)", typ, integration, value, expected),
		Value:           value,
		ExpectedValue:   expected,
		Deviation:       deviation,
	}}
}

// detectCost classifies a cost value by its ratio against the window mean.
// Without a baseline the value only seeds the window. Caller holds the lock.
func (d *Detector) detectCost(integration string, it anomaly.IntegrationType, value float64) []anomaly.Anomaly {
	w := d.window(integration, anomaly.TypeCost)
	expected := w.Mean()
	hadBaseline := w.Len() > 0
	w.Push(value)

	if !hadBaseline || expected <= 0 {
		return nil
	}

	deviation := value / expected
	var severity anomaly.Severity
	switch {
	case d.thresholds.CostRatioCritical > 0 && deviation >= d.thresholds.CostRatioCritical:
		severity = anomaly.SeverityCritical
	case d.thresholds.CostRatioWarning > 0 && deviation >= d.thresholds.CostRatioWarning:
		severity = anomaly.SeverityWarning
	default:
		return nil
	}

	return []anomaly.Anomaly{{
		ID:              uuid.New(),
		Timestamp:       time.Now(),
		Integration:     integration,
		IntegrationType: it,
		Type:            anomaly.TypeCost,
		Severity:        severity,
		Message:         fmt.Sprintf("cost for %s at %.1fx normal (%.4f vs %.4f)", integration, deviation, value, expected),
		Value:           value,
		ExpectedValue:   expected,
		Deviation:       deviation,
	}}
}

func (d *Detector) bands(typ anomaly.Type) (warning, critical float64) {
	switch typ {
	case anomaly.TypeLatency:
		return d.thresholds.LatencyWarningMS, d.thresholds.LatencyCriticalMS
	case anomaly.TypeErrorRate:
		return d.thresholds.ErrorRateWarning, d.thresholds.ErrorRateCritical
	default:
		return 0, 0
	}
}

func (d *Detector) window(integration string, typ anomaly.Type) *metrics.Window {
	key := integration + ":" + string(typ)
	w, ok := d.windows[key]
	if !ok {
		w = metrics.NewWindow(d.windowSize)
		d.windows[key] = w
	}
	return w
}
