package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []interface{}
	bus.Subscribe(TopicAlertCreated, func(topic Topic, payload interface{}) {
		assert.Equal(t, TopicAlertCreated, topic)
		got = append(got, payload)
	})

	bus.Publish(TopicAlertCreated, "first")
	bus.Publish(TopicAlertCreated, "second")

	assert.Equal(t, []interface{}{"first", "second"}, got)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var hits int
	bus.Subscribe(TopicAlertCreated, func(Topic, interface{}) { hits++ })

	bus.Publish(TopicAlertResolved, "ignored")
	assert.Zero(t, hits)

	bus.Publish(TopicAlertCreated, "counted")
	assert.Equal(t, 1, hits)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var hits int
	id := bus.Subscribe(TopicHealthChanged, func(Topic, interface{}) { hits++ })

	bus.Publish(TopicHealthChanged, nil)
	bus.Unsubscribe(TopicHealthChanged, id)
	bus.Publish(TopicHealthChanged, nil)

	assert.Equal(t, 1, hits)

	// Unknown ids are a no-op.
	bus.Unsubscribe(TopicHealthChanged, "no-such-subscription")
}

func TestPanickingHandlerIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var delivered bool
	bus.Subscribe(TopicAnomalyDetected, func(Topic, interface{}) {
		panic("subscriber bug")
	})
	bus.Subscribe(TopicAnomalyDetected, func(Topic, interface{}) {
		delivered = true
	})

	require.NotPanics(t, func() {
		bus.Publish(TopicAnomalyDetected, nil)
	})
	assert.True(t, delivered)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.NotPanics(t, func() {
		bus.Publish(TopicLogCondition, "nobody listening")
	})
}

func TestResetDetachesAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var hits int
	bus.Subscribe(TopicAlertCreated, func(Topic, interface{}) { hits++ })
	bus.Reset()
	bus.Publish(TopicAlertCreated, nil)

	assert.Zero(t, hits)
}
