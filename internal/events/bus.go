package events

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Subscription is a handle returned by Bus.Subscribe. The caller reads from
// Events until Unsubscribe is called, which closes the channel.
type Subscription struct {
	id     uint64
	Events chan StreamEvent
	bus    *Bus
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is the publish/subscribe broker for the module's cyclic observable
// graph: every component publishes into it and the Stream Orchestrator
// owns the single instance, so ABR can consume buffer metrics and buffers
// can consume ABR decisions without holding references to each other.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]chan StreamEvent
	nextID      uint64
	entropy     *ulid.MonotonicEntropy
	entropyMu   sync.Mutex
}

// bufferedSubscriberCapacity bounds each subscriber channel; once a slow
// consumer's channel is full, Publish drops further events for it rather
// than blocking or growing unbounded.
const bufferedSubscriberCapacity = 64

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]chan StreamEvent),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Subscribe registers a new subscriber and returns its handle. The returned
// channel is closed when Unsubscribe is called.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan StreamEvent, bufferedSubscriberCapacity)
	b.subscribers[id] = ch

	return &Subscription{id: id, Events: ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}

// Publish stamps the event with a monotonic sequence ID and broadcasts it to
// every current subscriber. A subscriber whose channel is full drops the
// event rather than blocking the publisher, matching the "no preemption,
// suspension only at emission boundaries" scheduling model — a stalled
// consumer must never stall the orchestrator's own loop.
func (b *Bus) Publish(ev StreamEvent) StreamEvent {
	ev.Seq = b.nextSeq()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

func (b *Bus) nextSeq() string {
	b.entropyMu.Lock()
	defer b.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String()
}

// Close unsubscribes and closes every current subscriber channel. Intended
// for orchestrator teardown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
