package monitoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	dalert "github.com/davidleathers/botwatch/internal/domain/alert"
	danomaly "github.com/davidleathers/botwatch/internal/domain/anomaly"
	"github.com/davidleathers/botwatch/internal/domain/errors"
	dhealth "github.com/davidleathers/botwatch/internal/domain/health"
	dlogs "github.com/davidleathers/botwatch/internal/domain/logs"
	dmetrics "github.com/davidleathers/botwatch/internal/domain/metrics"
	dtrace "github.com/davidleathers/botwatch/internal/domain/trace"
	"github.com/davidleathers/botwatch/internal/infrastructure/config"
	"github.com/davidleathers/botwatch/internal/infrastructure/events"
	"github.com/davidleathers/botwatch/internal/infrastructure/scheduler"
	"github.com/davidleathers/botwatch/internal/service/alerting"
	"github.com/davidleathers/botwatch/internal/service/anomaly"
	"github.com/davidleathers/botwatch/internal/service/health"
	"github.com/davidleathers/botwatch/internal/service/logs"
	"github.com/davidleathers/botwatch/internal/service/metrics"
	"github.com/davidleathers/botwatch/internal/service/tracing"
)

// Task names registered on the scheduler.
const (
	taskHealthSweep  = "health_sweep"
	taskAlertSweep   = "alert_sweep"
	taskAnomalySweep = "anomaly_sweep"
	taskSpanExport   = "span_export"
)

// Service is the composition root. It constructs and owns every collector,
// wires the event flow between them, runs their periodic sweeps and exposes
// the producer-facing recording API and the consumer-facing query API.
type Service struct {
	logger *zap.Logger
	cfg    *config.Config

	bus   *events.Bus
	sched *scheduler.Scheduler

	store     *metrics.Store
	providers *metrics.ProviderRegistry
	health    *health.Snapshotter
	logs      *logs.Aggregator
	anomalies *anomaly.Detector
	alerts    *alerting.Manager
	tracer    *tracing.Tracer

	promRegistry *prometheus.Registry

	running int32

	lastHealth atomic.Value // dhealth.Status
}

// New builds the full monitoring stack from configuration. Nothing starts
// ticking until Start is called.
func New(cfg *config.Config, logger *zap.Logger) *Service {
	bus := events.NewBus(logger.Named("events"))

	s := &Service{
		logger:    logger,
		cfg:       cfg,
		bus:       bus,
		sched:     scheduler.New(logger.Named("scheduler")),
		store:     metrics.NewStore(cfg.Metrics.HistorySize, logger.Named("metrics")),
		providers: metrics.NewProviderRegistry(cfg.Metrics.ResponseTimeWindow, bus, logger.Named("providers")),
		health: health.New(health.Config{
			CheckInterval: cfg.Health.CheckInterval,
			ProbeTimeout:  cfg.Health.ProbeTimeout,
			HistorySize:   cfg.Health.HistorySize,
		}, logger.Named("health")),
		logs: logs.New(cfg.Logs.Capacity, cfg.Logs.ErrorRateWindow, cfg.Logs.ConditionCooldown, bus, logger.Named("logs")),
		alerts: alerting.NewManager(alerting.Config{
			Cooldown:            cfg.Alerts.Cooldown,
			ConsecutiveFailures: cfg.Alerts.ConsecutiveFailures,
			HistorySize:         cfg.Alerts.HistorySize,
		}, bus, logger.Named("alerts")),
		tracer: tracing.New(tracing.Config{
			SampleRate:        cfg.Tracing.SampleRate,
			MaxCompletedSpans: cfg.Tracing.MaxCompletedSpans,
		}, logger.Named("tracing")),
	}

	s.anomalies = anomaly.NewDetector(cfg.Anomaly.WindowSize, anomaly.Thresholds{
		LatencyWarningMS:  cfg.Anomaly.LatencyWarning,
		LatencyCriticalMS: cfg.Anomaly.LatencyCritical,
		ErrorRateWarning:  cfg.Anomaly.ErrorRateWarning,
		ErrorRateCritical: cfg.Anomaly.ErrorRateCritical,
		CostRatioWarning:  cfg.Anomaly.CostRatioWarning,
		CostRatioCritical: cfg.Anomaly.CostRatioCritical,
	}, s.providers, bus, logger.Named("anomaly"))

	if cfg.Metrics.PrometheusEnabled {
		s.promRegistry = prometheus.NewRegistry()
		metrics.NewPrometheusBridge(s.promRegistry, bus)
	}

	s.registerDefaultProviders()
	s.wire()
	return s
}

// registerDefaultProviders seeds the registry with the platforms the bot
// server ships integrations for. Hosts add others via the registry.
func (s *Service) registerDefaultProviders() {
	for _, p := range []string{"discord", "slack", "mattermost"} {
		s.providers.RegisterMessageProvider(p)
	}
	for _, p := range []string{"openai", "anthropic", "ollama"} {
		s.providers.RegisterLLMProvider(p)
	}
}

// wire connects value sources, default thresholds, notification channels,
// exporters and the cross-component event flow.
func (s *Service) wire() {
	// Threshold value sources.
	s.alerts.RegisterSource("system", func(metric string) (float64, bool) {
		status, ok := s.lastHealth.Load().(dhealth.Status)
		result := s.health.PerformHealthCheck(context.Background())
		switch metric {
		case "memory_percent":
			return result.Memory.UsedPercent, true
		case "disk_percent":
			return result.Disk.UsedPercent, true
		case "health_status":
			if !ok {
				status = result.Status
			}
			return healthStatusValue(status), true
		}
		return 0, false
	})
	s.alerts.RegisterSource("providers", func(metric string) (float64, bool) {
		sum := s.providers.GetSummary()
		switch metric {
		case "overall_error_rate":
			return sum.OverallErrorRate, true
		case "messages_failed":
			return float64(sum.MessagesFailed), true
		case "llm_failed":
			return float64(sum.LLMFailed), true
		case "total_cost":
			cost, _ := sum.TotalCost.Float64()
			return cost, true
		}
		return 0, false
	})
	s.alerts.RegisterSource("kpi", func(metric string) (float64, bool) {
		kpi, ok := s.store.KPI(metric)
		if !ok {
			return 0, false
		}
		return kpi.Value, true
	})
	s.alerts.RegisterSource("logs", func(metric string) (float64, bool) {
		if metric != "error_rate" {
			return 0, false
		}
		return s.logs.GetStats().ErrorRate, true
	})

	for _, t := range alerting.DefaultThresholds(s.cfg.Alerts.Cooldown, s.cfg.Alerts.ConsecutiveFailures) {
		if err := s.alerts.RegisterThreshold(t); err != nil {
			s.logger.Error("failed to register default threshold", zap.Error(err))
		}
	}

	s.alerts.RegisterChannel(alerting.NewZapChannel(s.logger.Named("notify")))
	s.tracer.RegisterExporter(tracing.NewZapExporter(s.logger.Named("spans")))
	if s.cfg.Tracing.OTelEnabled {
		s.tracer.RegisterExporter(tracing.NewOTelExporter(otel.Tracer("botwatch")))
	}

	// Anomalies become alerts.
	s.bus.Subscribe(events.TopicAnomalyDetected, func(_ events.Topic, payload interface{}) {
		a, ok := payload.(danomaly.Anomaly)
		if !ok {
			return
		}
		s.alerts.OnAnomaly(context.Background(), a)
	})

	// Triggered log conditions become alerts.
	s.bus.Subscribe(events.TopicLogCondition, func(_ events.Topic, payload interface{}) {
		ev, ok := payload.(logs.ConditionEvent)
		if !ok {
			return
		}
		s.alerts.CreateAlert(context.Background(), ev.Severity, "logs", ev.ConditionID,
			ev.ConditionName,
			fmt.Sprintf("log condition %s triggered by %q", ev.ConditionName, ev.Entry.Message),
			map[string]string{
				"condition_id": ev.ConditionID,
				"entry_id":     ev.Entry.ID.String(),
				"source":       ev.Entry.Source,
			},
		)
	})
}

// Start registers the periodic sweeps. Idempotent: starting a running
// service returns a conflict error without side effects.
func (s *Service) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return errors.ErrAlreadyRunning
	}

	s.logger.Info("starting monitoring service",
		zap.Duration("alert_interval", s.cfg.Alerts.EvaluationInterval),
		zap.Duration("health_interval", s.cfg.Health.SweepInterval),
		zap.Duration("anomaly_interval", s.cfg.Anomaly.SweepInterval),
		zap.Float64("trace_sample_rate", s.cfg.Tracing.SampleRate),
	)

	tasks := []struct {
		name     string
		interval time.Duration
		fn       scheduler.Task
	}{
		{taskHealthSweep, s.cfg.Health.SweepInterval, s.healthSweep},
		{taskAlertSweep, s.cfg.Alerts.EvaluationInterval, s.alerts.EvaluateThresholds},
		{taskAnomalySweep, s.cfg.Anomaly.SweepInterval, func(ctx context.Context) { s.anomalies.Detect(ctx) }},
		{taskSpanExport, s.cfg.Tracing.ExportInterval, s.tracer.Export},
	}
	for _, t := range tasks {
		if err := s.sched.Every(ctx, t.name, t.interval, t.fn); err != nil {
			s.sched.StopAll()
			atomic.StoreInt32(&s.running, 0)
			return fmt.Errorf("scheduling %s: %w", t.name, err)
		}
	}
	return nil
}

// Stop cancels the periodic sweeps and drains in-flight notifications.
// Idempotent; a stopped service can be started again.
func (s *Service) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return nil
	}
	s.logger.Info("stopping monitoring service")
	s.sched.StopAll()
	s.alerts.Drain()
	return nil
}

// Close stops the service, detaches all event subscribers and clears every
// component's in-memory state. After Close the service is inert; tests
// construct a fresh instance per case instead of restarting a closed one.
func (s *Service) Close(ctx context.Context) error {
	_ = s.Stop(ctx)
	s.bus.Reset()
	s.store.Reset()
	s.providers.Reset()
	s.health.Reset()
	s.logs.Reset()
	s.anomalies.Reset()
	s.alerts.Reset()
	s.tracer.Reset()
	return nil
}

// healthSweep refreshes the health snapshot and publishes status changes. A
// probe failure degrades the result, never the sweep.
func (s *Service) healthSweep(ctx context.Context) {
	result := s.health.PerformHealthCheck(ctx)

	prev, ok := s.lastHealth.Load().(dhealth.Status)
	s.lastHealth.Store(result.Status)
	if ok && prev != result.Status {
		s.logger.Info("health status changed",
			zap.String("from", string(prev)),
			zap.String("to", string(result.Status)),
		)
		s.bus.Publish(events.TopicHealthChanged, result)
	}
}

// --- producer-facing recording API (fire-and-forget, non-throwing) ---

// RecordMessageReceived records an inbound platform message.
func (s *Service) RecordMessageReceived(provider string, responseTime time.Duration) {
	s.providers.RecordMessageReceived(provider, responseTime)
}

// RecordMessageSent records an outbound platform message.
func (s *Service) RecordMessageSent(provider string, responseTime time.Duration) {
	s.providers.RecordMessageSent(provider, responseTime)
}

// RecordMessageFailed records a failed delivery.
func (s *Service) RecordMessageFailed(provider string) {
	s.providers.RecordMessageFailed(provider)
}

// RecordLLMRequest records one LLM call.
func (s *Service) RecordLLMRequest(provider string, latency time.Duration, promptTokens, completionTokens int64, cost decimal.Decimal, success bool, model string) {
	s.providers.RecordLLMRequest(provider, latency, promptTokens, completionTokens, cost, success, model)
}

// RecordRateLimitHit records provider throttling.
func (s *Service) RecordRateLimitHit(provider string, kind dmetrics.RateLimitKind) {
	s.providers.RecordRateLimitHit(provider, kind)
}

// Log appends a log entry at an arbitrary level.
func (s *Service) Log(level dlogs.Level, source, message string, fields *logs.Fields) {
	s.logs.Log(level, source, message, fields)
}

// Debug through Fatal append log entries at fixed levels.
func (s *Service) Debug(source, message string, fields *logs.Fields) { s.logs.Debug(source, message, fields) }
func (s *Service) Info(source, message string, fields *logs.Fields)  { s.logs.Info(source, message, fields) }
func (s *Service) Warn(source, message string, fields *logs.Fields)  { s.logs.Warn(source, message, fields) }
func (s *Service) Error(source, message string, fields *logs.Fields) { s.logs.Error(source, message, fields) }
func (s *Service) Fatal(source, message string, fields *logs.Fields) { s.logs.Fatal(source, message, fields) }

// StartTrace opens a new trace and returns its root context.
func (s *Service) StartTrace(operation string) dtrace.Context {
	return s.tracer.StartTrace(operation)
}

// StartSpan opens a child span.
func (s *Service) StartSpan(operation string, parent dtrace.Context) dtrace.Context {
	return s.tracer.StartSpan(operation, parent)
}

// EndSpan closes a span.
func (s *Service) EndSpan(spanID string, status dtrace.SpanStatus, tags map[string]string) {
	s.tracer.EndSpan(spanID, status, tags)
}

// --- consumer-facing query API ---

// GetAllAlerts returns every retained alert, newest first.
func (s *Service) GetAllAlerts() []dalert.Alert { return s.alerts.GetAllAlerts() }

// GetActiveAlerts returns unresolved alerts.
func (s *Service) GetActiveAlerts() []dalert.Alert { return s.alerts.GetActiveAlerts() }

// GetAlertSummary aggregates alert counts.
func (s *Service) GetAlertSummary() dalert.Summary { return s.alerts.GetAlertSummary() }

// AcknowledgeAlert marks an active alert as acknowledged.
func (s *Service) AcknowledgeAlert(id uuid.UUID) error { return s.alerts.AcknowledgeAlert(id) }

// ResolveAlert resolves an alert.
func (s *Service) ResolveAlert(id uuid.UUID) error { return s.alerts.ResolveAlert(id) }

// GetProviderSummary aggregates provider statistics.
func (s *Service) GetProviderSummary() metrics.Summary { return s.providers.GetSummary() }

// PerformHealthCheck returns the (throttled) health snapshot.
func (s *Service) PerformHealthCheck(ctx context.Context) dhealth.Result {
	return s.health.PerformHealthCheck(ctx)
}

// GetHealthTrends summarizes the snapshot history.
func (s *Service) GetHealthTrends() dhealth.Trends { return s.health.GetHealthTrends() }

// QueryLogs filters the aggregated log.
func (s *Service) QueryLogs(f dlogs.Filter) []dlogs.Entry { return s.logs.Query(f) }

// GetLogStats summarizes the aggregated log.
func (s *Service) GetLogStats() dlogs.Stats { return s.logs.GetStats() }

// GetStats summarizes the metrics store.
func (s *Service) GetStats() metrics.Stats { return s.store.GetStats() }

// GetAnomalySummary aggregates detected anomalies.
func (s *Service) GetAnomalySummary() danomaly.Summary { return s.anomalies.GetAnomalySummary() }

// GetTraceTree renders a trace's completed spans as a tree.
func (s *Service) GetTraceTree(traceID string) dtrace.Tree { return s.tracer.GetTraceTree(traceID) }

// Store exposes the metrics store for producers tracking counters and KPIs.
func (s *Service) Store() *metrics.Store { return s.store }

// Providers exposes the provider registry for host-side registration.
func (s *Service) Providers() *metrics.ProviderRegistry { return s.providers }

// Logs exposes the log aggregator for condition registration.
func (s *Service) Logs() *logs.Aggregator { return s.logs }

// Alerts exposes the alert manager for threshold and channel registration.
func (s *Service) Alerts() *alerting.Manager { return s.alerts }

// Anomalies exposes the anomaly detector for warm-up data.
func (s *Service) Anomalies() *anomaly.Detector { return s.anomalies }

// Health exposes the snapshotter for probe registration.
func (s *Service) Health() *health.Snapshotter { return s.health }

// Tracer exposes the span tracker for exporter registration.
func (s *Service) Tracer() *tracing.Tracer { return s.tracer }

// Bus exposes the event bus for host-side subscriptions.
func (s *Service) Bus() *events.Bus { return s.bus }

// PrometheusRegistry exposes the registry the bridge mirrors into, for the
// host to serve. Nil when the bridge is disabled.
func (s *Service) PrometheusRegistry() *prometheus.Registry { return s.promRegistry }

func healthStatusValue(status dhealth.Status) float64 {
	switch status {
	case dhealth.StatusHealthy:
		return 0
	case dhealth.StatusDegraded:
		return 1
	case dhealth.StatusUnhealthy:
		return 2
	default:
		return 0
	}
}
