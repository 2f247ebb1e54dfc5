// Package pubsub provides the process-wide publish/subscribe event bus.
// Decoupled features communicate through named topics: the connection
// manager publishes inbound channel traffic, and the session/todo
// directories subscribe to stay fresh without knowing about each other.
package pubsub

import (
	"sync"
)

// Handler receives the payload published under a topic.
type Handler func(payload any)

// subscription wraps a handler so each Subscribe call has a distinct
// identity, even when the same function value is registered twice.
type subscription struct {
	handler Handler
}

// Bus is a topic-keyed publish/subscribe register. Emission is synchronous:
// every handler registered at the time of the Emit call runs in registration
// order on the caller's goroutine before Emit returns.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*subscription

	// OnHandlerPanic, when set, is invoked with the recovered value of a
	// panicking handler. Delivery continues to later handlers either way.
	OnHandlerPanic func(topic string, recovered any)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]*subscription)}
}

// Subscribe registers a handler under a topic and returns a cancel function
// that removes exactly this registration. Cancelling twice is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) (cancel func()) {
	sub := &subscription{handler: h}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, sub) })
	}
}

func (b *Bus) remove(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s == sub {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Emit synchronously delivers payload to every handler currently registered
// under topic, in registration order. A panicking handler is recovered so it
// cannot abort delivery to the handlers behind it.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(topic, sub.handler, payload)
	}
}

func (b *Bus) invoke(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil && b.OnHandlerPanic != nil {
			b.OnHandlerPanic(topic, r)
		}
	}()
	h(payload)
}

// SubscriberCount returns the number of handlers registered under topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
