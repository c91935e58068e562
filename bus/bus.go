// Package bus is the in-process message bus that carries control events to the
// telemetry engine and telemetry records to consumers.
//
// Delivery is synchronous: Publish calls every handler subscribed to the topic on
// the caller's goroutine, in subscription order, and returns their errors joined.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusClosed          = errors.New("bus is closed")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrNilHandler         = errors.New("handler is nil")
)

// Topic names a message stream.
type Topic string

const (
	// TopicStart begins a session; no payload.
	TopicStart Topic = "start"
	// TopicStartPosition moves the rider; payload float64 km.
	TopicStartPosition Topic = "set-start-position"
	// TopicLoadRoute attaches a route; payload wheelspeed.RouteProvider or nil.
	TopicLoadRoute Topic = "load-route"
	// TopicSpeed carries derived records; payload wheelspeed.Telemetry.
	TopicSpeed Topic = "speed"
)

// Message is one published event.
type Message struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler consumes a message. A returned error is reported back to the publisher.
type Handler func(Message) error

// Stats counts traffic on the bus.
type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
}

type subscription struct {
	id      string
	topic   Topic
	handler Handler
}

// Bus routes messages by topic. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers h for topic and returns an id for Unsubscribe.
func (b *Bus) Subscribe(topic Topic, h Handler) (string, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBusClosed
	}
	id := uuid.NewString()
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: h})
	return id, nil
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriberNotFound
}

// Publish delivers payload to every handler of topic. Handlers may publish in
// turn; the subscriber list is snapshotted before delivery.
func (b *Bus) Publish(topic Topic, payload any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == topic {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	msg := Message{Topic: topic, Payload: payload, Timestamp: time.Now()}
	var errs []error
	for _, h := range targets {
		if err := h(msg); err != nil {
			b.failed.Add(1)
			errs = append(errs, err)
			continue
		}
		b.delivered.Add(1)
	}
	return errors.Join(errs...)
}

// Stats returns traffic counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close drops all subscriptions. Later Publish and Subscribe calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
