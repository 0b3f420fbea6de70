package alerting

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/alert"
)

// NotificationChannel delivers a created alert to an operator-facing sink
// (chat webhook, pager, log). Send failures are counted and logged by the
// manager; implementations should respect ctx deadlines.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, a alert.Alert) error
}

// ZapChannel writes alerts to the structured log. Always registered as the
// channel of last resort so an alert is never silently dropped when every
// external sink is down.
type ZapChannel struct {
	logger *zap.Logger
}

// NewZapChannel creates a log-backed notification channel.
func NewZapChannel(logger *zap.Logger) *ZapChannel {
	return &ZapChannel{logger: logger}
}

func (c *ZapChannel) Name() string { return "log" }

func (c *ZapChannel) Send(_ context.Context, a alert.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", a.ID.String()),
		zap.String("source", a.Source),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
	}
	if a.Metric != "" {
		fields = append(fields, zap.String("metric", a.Metric))
	}
	if a.Value != nil {
		fields = append(fields, zap.Float64("value", *a.Value))
	}

	switch a.Level {
	case alert.SeverityCritical:
		c.logger.Error("ALERT", fields...)
	case alert.SeverityWarning:
		c.logger.Warn("ALERT", fields...)
	default:
		c.logger.Info("ALERT", fields...)
	}
	return nil
}

// FuncChannel adapts a plain function into a NotificationChannel. Used by
// hosts wiring ad hoc sinks and by tests.
type FuncChannel struct {
	ChannelName string
	SendFunc    func(ctx context.Context, a alert.Alert) error
}

func (c *FuncChannel) Name() string { return c.ChannelName }

func (c *FuncChannel) Send(ctx context.Context, a alert.Alert) error {
	return c.SendFunc(ctx, a)
}
