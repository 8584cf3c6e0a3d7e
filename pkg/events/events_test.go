package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerPublishAndSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:       EventBatchApplied,
		Collection: "orders",
		Mode:       "migrate",
		Count:      1000,
	})

	event := receiveEvent(t, sub)
	assert.Equal(t, EventBatchApplied, event.Type)
	assert.Equal(t, "orders", event.Collection)
	assert.Equal(t, int64(1000), event.Count)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	defer broker.Unsubscribe(first)
	defer broker.Unsubscribe(second)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventCollectionCompleted, Collection: "users"})

	assert.Equal(t, "users", receiveEvent(t, first).Collection)
	assert.Equal(t, "users", receiveEvent(t, second).Collection)
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// Overflow the per-subscriber buffer without draining it
	for i := 0; i < 200; i++ {
		broker.Publish(&Event{Type: EventBatchApplied, Collection: "orders"})
	}

	// Give the broker time to broadcast what it can
	time.Sleep(50 * time.Millisecond)

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}

	assert.Greater(t, received, 0)
	assert.LessOrEqual(t, received, 200)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestBrokerKeepsCallerEventID(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{ID: "fixed-id", Type: EventCollectionStarted})

	assert.Equal(t, "fixed-id", receiveEvent(t, sub).ID)
}
