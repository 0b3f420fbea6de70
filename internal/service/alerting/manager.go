package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/alert"
	"github.com/davidleathers/botwatch/internal/domain/anomaly"
	"github.com/davidleathers/botwatch/internal/domain/errors"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
)

// ValueSource resolves a metric name to its current value. Sources are
// registered by the composition root for "system", "kpi" and each provider,
// keeping the manager decoupled from its collaborators.
type ValueSource func(metric string) (float64, bool)

// Config controls manager-wide defaults applied to thresholds that do not
// set their own.
type Config struct {
	Cooldown            time.Duration
	ConsecutiveFailures int
	HistorySize         int
}

// Manager owns alert thresholds, the dedup/cooldown state machine, alert
// lifecycle and notification fan-out.
type Manager struct {
	logger *zap.Logger
	bus    *events.Bus
	cfg    Config

	mu         sync.Mutex
	thresholds map[string]*alert.Threshold
	sources    map[string]ValueSource
	channels   []NotificationChannel

	alerts  map[uuid.UUID]*alert.Alert
	history []*alert.Alert

	// Per (source, metric) key dedup state.
	keys map[string]*keyState

	channelFailures map[string]int64

	notifyWG sync.WaitGroup
}

type keyState struct {
	lastTriggered       time.Time
	consecutiveFailures int
	activeAlert         uuid.UUID
	hasActive           bool
}

var thresholdValidator = validator.New()

// NewManager creates a manager with no thresholds registered.
func NewManager(cfg Config, bus *events.Bus, logger *zap.Logger) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Manager{
		logger:          logger,
		bus:             bus,
		cfg:             cfg,
		thresholds:      make(map[string]*alert.Threshold),
		sources:         make(map[string]ValueSource),
		alerts:          make(map[uuid.UUID]*alert.Alert),
		keys:            make(map[string]*keyState),
		channelFailures: make(map[string]int64),
	}
}

// RegisterSource wires a named value source for threshold evaluation.
func (m *Manager) RegisterSource(name string, source ValueSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

// RegisterChannel adds a notification channel invoked on every created
// alert.
func (m *Manager) RegisterChannel(ch NotificationChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RegisterThreshold validates and stores a threshold. Invalid configuration
// is rejected and any previous threshold with that id stays active.
func (m *Manager) RegisterThreshold(t alert.Threshold) error {
	if t.Cooldown <= 0 {
		t.Cooldown = m.cfg.Cooldown
	}
	if t.ConsecutiveFailures <= 0 {
		t.ConsecutiveFailures = m.cfg.ConsecutiveFailures
	}
	if err := thresholdValidator.Struct(t); err != nil {
		return fmt.Errorf("invalid threshold %q: %w", t.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[t.ID] = &t
	return nil
}

// UpdateThresholdValue changes a threshold's trigger value at runtime.
func (m *Manager) UpdateThresholdValue(id string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.thresholds[id]
	if !ok {
		return errors.ErrThresholdNotFound
	}
	t.Value = value
	return nil
}

// SetThresholdEnabled enables or disables a threshold. Thresholds are never
// deleted so alert history keeps a live rule to point at.
func (m *Manager) SetThresholdEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.thresholds[id]
	if !ok {
		return errors.ErrThresholdNotFound
	}
	t.Enabled = enabled
	return nil
}

// Thresholds returns a copy of all registered thresholds.
func (m *Manager) Thresholds() []alert.Threshold {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Threshold, 0, len(m.thresholds))
	for _, t := range m.thresholds {
		out = append(out, *t)
	}
	return out
}

// EvaluateThresholds runs one sweep over every enabled threshold, pulling
// current values from the registered sources. A source that cannot resolve
// a metric is skipped, never fatal, so one broken collaborator cannot end
// the sweep.
func (m *Manager) EvaluateThresholds(ctx context.Context) {
	// Thresholds are copied by value under the lock; the sweep must never
	// hold live pointers into the map while UpdateThresholdValue and
	// SetThresholdEnabled mutate it from other goroutines.
	m.mu.Lock()
	thresholds := make([]alert.Threshold, 0, len(m.thresholds))
	for _, t := range m.thresholds {
		if t.Enabled {
			thresholds = append(thresholds, *t)
		}
	}
	m.mu.Unlock()

	for i := range thresholds {
		t := &thresholds[i]
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.mu.Lock()
		source, ok := m.sources[t.Source]
		m.mu.Unlock()
		if !ok {
			continue
		}

		value, ok := source(t.Metric)
		if !ok {
			continue
		}

		failing := t.Compare.Evaluate(value, t.Value)
		m.observe(ctx, t, value, failing)
	}
}

// observe advances the dedup state machine for one threshold evaluation.
//
// On a failing sample the consecutive-failure counter is incremented; the
// alert fires only once the counter has reached the threshold's
// ConsecutiveFailures AND the key's cooldown has elapsed. The counter check
// runs before the cooldown check; this order is observable when a condition
// flaps exactly at the failure boundary and is kept deliberately.
//
// On a passing sample the counter resets immediately, and any active alert
// for the key auto-resolves once at least half the cooldown has passed since
// the key last fired.
func (m *Manager) observe(ctx context.Context, t *alert.Threshold, value float64, failing bool) {
	now := time.Now()
	key := t.Key()

	m.mu.Lock()
	ks, ok := m.keys[key]
	if !ok {
		ks = &keyState{}
		m.keys[key] = ks
	}

	if !failing {
		ks.consecutiveFailures = 0
		if ks.hasActive && now.Sub(ks.lastTriggered) >= t.Cooldown/2 {
			if a, exists := m.alerts[ks.activeAlert]; exists && a.Resolve(now) {
				ks.hasActive = false
				resolved := a.Clone()
				m.mu.Unlock()
				m.logger.Info("alert auto-resolved",
					zap.String("alert_id", resolved.ID.String()),
					zap.String("key", key),
				)
				m.bus.Publish(events.TopicAlertResolved, *resolved)
				return
			}
			ks.hasActive = false
		}
		m.mu.Unlock()
		return
	}

	ks.consecutiveFailures++
	if ks.consecutiveFailures < t.ConsecutiveFailures {
		m.mu.Unlock()
		return
	}
	if !ks.lastTriggered.IsZero() && now.Sub(ks.lastTriggered) < t.Cooldown {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	message := t.MessageTemplate
	if message == "" {
		message = fmt.Sprintf("%s %s %s %.2f (current %.2f)", t.Metric, t.Compare, "threshold", t.Value, value)
	}

	v := value
	tv := t.Value
	m.createAlert(ctx, key, &alert.Alert{
		ID:        uuid.New(),
		Timestamp: now,
		Level:     t.Severity,
		Status:    alert.StatusActive,
		Source:    t.Source,
		Title:     fmt.Sprintf("%s threshold exceeded", t.Metric),
		Message:   message,
		Metric:    t.Metric,
		Value:     &v,
		Threshold: &tv,
		Metadata:  map[string]string{"threshold_id": t.ID},
	})
}

// CreateAlert records an operator-visible alert outside the scheduled sweep.
// Inline alerts share the cooldown bookkeeping keyed by (source, metric), so
// a collaborator observing the same condition repeatedly cannot page more
// than the sweep would.
func (m *Manager) CreateAlert(ctx context.Context, level alert.Severity, source, metric, title, message string, metadata map[string]string) *alert.Alert {
	now := time.Now()
	key := source + ":" + metric

	m.mu.Lock()
	ks, ok := m.keys[key]
	if !ok {
		ks = &keyState{}
		m.keys[key] = ks
	}
	if !ks.lastTriggered.IsZero() && now.Sub(ks.lastTriggered) < m.cfg.Cooldown {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	a := alert.New(level, source, title, message)
	a.Metric = metric
	a.Metadata = metadata
	return m.createAlert(ctx, key, a)
}

// OnAnomaly converts a detected anomaly into an alert, subject to the same
// per-key cooldown. Registered as a bus subscriber by the composition root.
func (m *Manager) OnAnomaly(ctx context.Context, a anomaly.Anomaly) {
	level := alert.SeverityWarning
	if a.Severity == anomaly.SeverityCritical {
		level = alert.SeverityCritical
	}

	created := m.CreateAlert(ctx, level, a.Integration, string(a.Type),
		fmt.Sprintf("%s anomaly on %s", a.Type, a.Integration),
		a.Message,
		map[string]string{
			"anomaly_id":  a.ID.String(),
			"integration": a.Integration,
			"deviation":   fmt.Sprintf("%.2f", a.Deviation),
		},
	)
	if created != nil {
		v := a.Value
		ev := a.ExpectedValue
		m.mu.Lock()
		if stored, ok := m.alerts[created.ID]; ok {
			stored.Value = &v
			stored.Threshold = &ev
		}
		m.mu.Unlock()
	}
}

// createAlert stores the alert, marks the key as triggered and fans out to
// notification channels. Returns a copy of the stored alert.
func (m *Manager) createAlert(ctx context.Context, key string, a *alert.Alert) *alert.Alert {
	m.mu.Lock()
	m.alerts[a.ID] = a
	m.history = append(m.history, a)
	if len(m.history) > m.cfg.HistorySize {
		dropped := m.history[0]
		m.history = m.history[1:]
		if dropped.Status == alert.StatusResolved {
			delete(m.alerts, dropped.ID)
		}
	}

	ks := m.keys[key]
	ks.lastTriggered = a.Timestamp
	ks.activeAlert = a.ID
	ks.hasActive = true

	channels := make([]NotificationChannel, len(m.channels))
	copy(channels, m.channels)
	snapshot := a.Clone()
	m.mu.Unlock()

	m.logger.Warn("alert created",
		zap.String("alert_id", snapshot.ID.String()),
		zap.String("level", string(snapshot.Level)),
		zap.String("source", snapshot.Source),
		zap.String("title", snapshot.Title),
	)

	m.bus.Publish(events.TopicAlertCreated, *snapshot)
	m.notifyAll(ctx, channels, snapshot)

	return snapshot
}

// notifyAll invokes every channel concurrently. Each channel gets its own
// timeout; a failure is logged and counted, never returned to the alert
// creation path, and never blocks the other channels.
func (m *Manager) notifyAll(ctx context.Context, channels []NotificationChannel, a *alert.Alert) {
	for _, ch := range channels {
		ch := ch
		m.notifyWG.Add(1)
		go func() {
			defer m.notifyWG.Done()

			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := ch.Send(sendCtx, *a.Clone()); err != nil {
				m.mu.Lock()
				m.channelFailures[ch.Name()]++
				m.mu.Unlock()
				m.logger.Error("notification channel failed",
					zap.String("channel", ch.Name()),
					zap.String("alert_id", a.ID.String()),
					zap.Error(err),
				)
			}
		}()
	}
}

// AcknowledgeAlert moves an active alert to acknowledged.
func (m *Manager) AcknowledgeAlert(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return errors.ErrAlertNotFound
	}
	if !a.Acknowledge(time.Now()) {
		return errors.NewLifecycleError("alert is not active")
	}
	return nil
}

// ResolveAlert resolves an active or acknowledged alert.
func (m *Manager) ResolveAlert(id uuid.UUID) error {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return errors.ErrAlertNotFound
	}
	if !a.Resolve(time.Now()) {
		m.mu.Unlock()
		return errors.ErrAlreadyResolved
	}
	for _, ks := range m.keys {
		if ks.hasActive && ks.activeAlert == id {
			ks.hasActive = false
		}
	}
	snapshot := a.Clone()
	m.mu.Unlock()

	m.bus.Publish(events.TopicAlertResolved, *snapshot)
	return nil
}

// GetAllAlerts returns copies of every retained alert, newest first.
func (m *Manager) GetAllAlerts() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Alert, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, *m.history[i].Clone())
	}
	return out
}

// GetActiveAlerts returns copies of alerts that are active or acknowledged.
func (m *Manager) GetActiveAlerts() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Alert, 0)
	for i := len(m.history) - 1; i >= 0; i-- {
		a := m.history[i]
		if a.Status != alert.StatusResolved {
			out = append(out, *a.Clone())
		}
	}
	return out
}

// GetAlertSummary aggregates retained alerts.
func (m *Manager) GetAlertSummary() alert.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := alert.Summary{
		BySeverity: make(map[alert.Severity]int),
		BySource:   make(map[string]int),
	}
	for _, a := range m.history {
		sum.Total++
		switch a.Status {
		case alert.StatusActive:
			sum.Active++
		case alert.StatusAcknowledged:
			sum.Acknowledged++
		case alert.StatusResolved:
			sum.Resolved++
		}
		sum.BySeverity[a.Level]++
		sum.BySource[a.Source]++
	}
	if len(m.history) > 0 {
		last := m.history[len(m.history)-1].Timestamp
		sum.LastAlertAt = &last
	}
	return sum
}

// ChannelFailures returns the per-channel delivery failure counts.
func (m *Manager) ChannelFailures() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.channelFailures))
	for name, n := range m.channelFailures {
		out[name] = n
	}
	return out
}

// Drain waits for in-flight notifications. Part of the shutdown sequence.
func (m *Manager) Drain() {
	m.notifyWG.Wait()
}

// Reset clears alerts and dedup state; thresholds and channels survive so a
// restarted evaluation loop picks up the same configuration.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = make(map[uuid.UUID]*alert.Alert)
	m.history = nil
	m.keys = make(map[string]*keyState)
	m.channelFailures = make(map[string]int64)
}
