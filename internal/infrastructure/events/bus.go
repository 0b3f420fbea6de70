package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names a typed event stream on the bus.
type Topic string

const (
	TopicMessageRecorded Topic = "metrics.message_recorded"
	TopicLLMRecorded     Topic = "metrics.llm_recorded"
	TopicRateLimitHit    Topic = "metrics.rate_limit_hit"
	TopicAnomalyDetected Topic = "anomaly.detected"
	TopicAlertCreated    Topic = "alert.created"
	TopicAlertResolved   Topic = "alert.resolved"
	TopicLogCondition    Topic = "logs.condition_triggered"
	TopicHealthChanged   Topic = "health.status_changed"
)

// Handler receives a published event payload. Payloads are snapshot copies;
// handlers must not assume they can mutate producer state through them.
type Handler func(topic Topic, payload interface{})

// Bus is an in-process publish-subscribe fan-out. Delivery is synchronous
// and in publish order per topic; a panicking handler is isolated and logged
// so it cannot break other subscribers or the publisher.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[Topic]map[string]Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[Topic]map[string]Handler),
	}
}

// Subscribe registers a handler for a topic and returns a subscription id
// usable with Unsubscribe.
func (b *Bus) Subscribe(topic Topic, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Handler)
	}
	b.subs[topic][id] = handler
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(topic Topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[topic]; ok {
		delete(handlers, id)
	}
}

// Publish delivers payload to every subscriber of topic.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic, h, payload)
	}
}

// Reset detaches all subscribers. Used by the shutdown sequence.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Topic]map[string]Handler)
}

func (b *Bus) deliver(topic Topic, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("topic", string(topic)),
				zap.Any("panic", r),
			)
		}
	}()
	h(topic, payload)
}
