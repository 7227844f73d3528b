/*
Package eventbus is the Event Bus (component E): an in-process topic
broker, one topic per collection_id, that fans mutation events out to every
live Subscription on that topic.

The teacher's go-events library is a synchronous callback dispatcher: every
handler runs inline with the publisher, which is wrong here — a slow
subscriber must never stall a writer or another subscriber. So this bus is
hand-rolled on bounded buffered channels guarded by a per-topic mutex,
following the drop-oldest backpressure policy and per-collection ordering
lock mandated by §4.E and §5. The only bus condition reported to the
go-events telemetry is a dropped event for a slow subscriber, via the
handler registered with WithDropHandler; see internal/store/telemetry.go.
*/
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Kind enumerates the event_kind values carried on the wire.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindStop    Kind = "stop"
)

// Event is one published mutation record, or a stop sentinel.
type Event struct {
	CollectionID string
	Kind         Kind
	RecordID     string
	Payload      map[string]any
	Seq          uint64
}

// subState is the Subscription lifecycle: open -> draining -> closed.
type subState int32

const (
	stateOpen subState = iota
	stateDraining
	stateClosed
)

// DefaultBufferCapacity is the recommended per-subscriber bounded buffer
// size from §4.E.
const DefaultBufferCapacity = 64

// Subscription is a live handle consuming events for one collection.
type Subscription struct {
	id           uint64
	collectionID string
	events       chan Event
	state        atomic.Int32
	bus          *Bus
}

// Events returns the channel of delivered events. The channel is closed
// once the subscription transitions to closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel transitions the subscription to draining and detaches it from its
// topic. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) isOpen() bool {
	return subState(s.state.Load()) == stateOpen
}

// topic holds every live Subscription for one collection, plus the
// collection's monotonic sequence counter.
type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	seq  uint64
}

// Bus is the process-wide broker: one topic per collection_id.
type Bus struct {
	mu             sync.Mutex
	topics         map[string]*topic
	bufferCapacity int
	nextSubID      atomic.Uint64

	// onDrop, when set, is invoked (collection_id, subscription_id) each
	// time a publish drops the oldest buffered event for a slow
	// subscriber, so telemetry can record a slow_subscriber warning.
	onDrop func(collectionID string, subscriptionID uint64)
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithBufferCapacity overrides DefaultBufferCapacity.
func WithBufferCapacity(n int) Option {
	return func(b *Bus) { b.bufferCapacity = n }
}

// WithDropHandler registers a callback invoked whenever backpressure forces
// an event to be dropped for a slow subscriber.
func WithDropHandler(fn func(collectionID string, subscriptionID uint64)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:         make(map[string]*topic),
		bufferCapacity: DefaultBufferCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) topicFor(collectionID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[collectionID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[collectionID] = t
	}
	return t
}

// Subscribe allocates a new Subscription on collectionID.
func (b *Bus) Subscribe(_ context.Context, collectionID string) *Subscription {
	t := b.topicFor(collectionID)

	sub := &Subscription{
		id:           b.nextSubID.Add(1),
		collectionID: collectionID,
		events:       make(chan Event, b.bufferCapacity),
		bus:          b,
	}
	sub.state.Store(int32(stateOpen))

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()

	return sub
}

// Publish stamps event with the next monotonic_seq for its collection and
// offers it to every live subscriber. It never blocks: a full subscriber
// buffer has its oldest entry dropped to make room (drop-oldest
// backpressure). Publish never fails.
func (b *Bus) Publish(collectionID string, kind Kind, recordID string, payload map[string]any) Event {
	t := b.topicFor(collectionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	event := Event{
		CollectionID: collectionID,
		Kind:         kind,
		RecordID:     recordID,
		Payload:      payload,
		Seq:          t.seq,
	}

	for _, sub := range t.subs {
		if !sub.isOpen() {
			continue
		}
		b.offer(sub, event)
	}
	return event
}

// offer delivers event to sub's buffer, dropping the oldest buffered event
// first if the buffer is full. Must be called with the topic lock held.
func (b *Bus) offer(sub *Subscription, event Event) {
	for {
		select {
		case sub.events <- event:
			return
		default:
		}
		select {
		case <-sub.events:
			if b.onDrop != nil {
				b.onDrop(sub.collectionID, sub.id)
			}
		default:
			// Raced with a concurrent drain; retry the offer.
		}
	}
}

// CloseTopic broadcasts a stop event to every subscriber on collectionID
// and then detaches them all, used during collection deletion and server
// shutdown.
func (b *Bus) CloseTopic(collectionID string) {
	t := b.topicFor(collectionID)

	t.mu.Lock()
	t.seq++
	stop := Event{CollectionID: collectionID, Kind: KindStop, Seq: t.seq}
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[uint64]*Subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		if sub.state.CompareAndSwap(int32(stateOpen), int32(stateDraining)) {
			b.offer(sub, stop)
		}
		b.finalize(sub)
	}
}

// unsubscribe detaches sub from its topic and closes its channel.
func (b *Bus) unsubscribe(sub *Subscription) {
	t := b.topicFor(sub.collectionID)

	t.mu.Lock()
	delete(t.subs, sub.id)
	t.mu.Unlock()

	sub.state.CompareAndSwap(int32(stateOpen), int32(stateDraining))
	b.finalize(sub)
}

// finalize transitions a draining subscription to closed and closes its
// channel exactly once.
func (b *Bus) finalize(sub *Subscription) {
	if sub.state.CompareAndSwap(int32(stateDraining), int32(stateClosed)) {
		close(sub.events)
	}
}

// Shutdown closes every topic the bus knows about, broadcasting stop to
// every live subscriber.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	collectionIDs := make([]string, 0, len(b.topics))
	for id := range b.topics {
		collectionIDs = append(collectionIDs, id)
	}
	b.mu.Unlock()

	for _, id := range collectionIDs {
		b.CloseTopic(id)
	}
}
