package chat

import (
	"sync"

	"github.com/agjmills/huddle/internal/logger"
)

// Subscriber receives events published to the topics it subscribed to.
type Subscriber interface {
	ID() string
	// Deliver queues ev without blocking and reports whether it was accepted.
	Deliver(ev Event) bool
}

// Broker fans events out to the subscribers of a topic (a room id).
// Delivery is best effort.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[Subscriber]struct{})}
}

func (b *Broker) Subscribe(topic string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
}

func (b *Broker) Unsubscribe(topic string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Publish delivers ev to every subscriber of topic except skip, which may be nil.
// It returns the number of subscribers that accepted the event.
func (b *Broker) Publish(topic string, ev Event, skip Subscriber) int {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		if skip != nil && s == skip {
			continue
		}
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Deliver(ev) {
			delivered++
		} else {
			logger.Warn("dropped event for slow subscriber", "topic", topic, "subscriber", s.ID(), "event", ev.Type)
		}
	}
	return delivered
}

func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Drop removes the topic and all of its subscriptions.
func (b *Broker) Drop(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
}
