package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroker_PublishSkipsSender(t *testing.T) {
	b := NewBroker()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")
	b.Subscribe("r1", alice)
	b.Subscribe("r1", bob)

	n := b.Publish("r1", Event{Type: EventTypingStarted}, alice)

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, alice.count())
	assert.Len(t, bob.ofType(EventTypingStarted), 1)
}

func TestBroker_PublishToAll(t *testing.T) {
	b := NewBroker()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")
	other := newFakeSubscriber("other")
	b.Subscribe("r1", alice)
	b.Subscribe("r1", bob)
	b.Subscribe("r2", other)

	assert.Equal(t, 2, b.Publish("r1", Event{Type: EventMessageReceived}, nil))
	assert.Equal(t, 0, other.count(), "expected other topics to be unaffected")
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	slow := &fakeSubscriber{id: "slow", full: true}
	fast := newFakeSubscriber("fast")
	b.Subscribe("r1", slow)
	b.Subscribe("r1", fast)

	assert.Equal(t, 1, b.Publish("r1", Event{Type: EventMessageReceived}, nil))
	assert.Equal(t, 1, fast.count())
}

func TestBroker_UnsubscribeAndDrop(t *testing.T) {
	b := NewBroker()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")
	b.Subscribe("r1", alice)
	b.Subscribe("r1", bob)
	b.Subscribe("r1", bob) // idempotent

	assert.Equal(t, 2, b.Subscribers("r1"))

	b.Unsubscribe("r1", alice)
	b.Unsubscribe("r1", alice)
	assert.Equal(t, 1, b.Subscribers("r1"))

	b.Drop("r1")
	assert.Equal(t, 0, b.Subscribers("r1"))
	assert.Equal(t, 0, b.Publish("r1", Event{Type: EventRoomDeleted}, nil))
}
