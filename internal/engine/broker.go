package engine

import (
	"sync"

	"github.com/seantiz/keyturner/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventBroker fans out the progress events of each operation to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that subscribers arriving after an
// operation finished receive a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.OperationEvent
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given operation
// and an unsubscribe function. If the operation has already finished, the
// returned channel is closed.
func (b *EventBroker) Subscribe(operationID string) (<-chan model.OperationEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.OperationEvent)}
		b.topics[operationID] = t
	}

	ch := make(chan model.OperationEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its operation.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(e model.OperationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[e.OperationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; never block the radio.
		}
	}
}

// Close signals that no more events will be published for the operation.
func (b *EventBroker) Close(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		b.topics[operationID] = &eventTopic{subs: make(map[int]chan model.OperationEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
