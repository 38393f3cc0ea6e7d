package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Event names emitted after successful mutations so that other open
// views of the same entity can refresh.
const (
	EntityUpdated       = "entityUpdated"
	EntityDeleted       = "entityDeleted"
	EntityDataRefreshed = "entityDataRefreshed"
)

// Event is a fire-and-forget notification. No delivery guarantee, no
// persistence, no subscriber acknowledgment.
type Event struct {
	Name       string    `json:"name"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Data       bson.M    `json:"data,omitempty"`
}

// Filter selects which events a subscriber receives. A nil filter
// receives everything.
type Filter func(Event) bool

// subscriberBuffer bounds how far a slow subscriber can fall behind
// before events are dropped for it.
const subscriberBuffer = 64

type subscriber struct {
	filter Filter
	ch     chan Event
	closed atomic.Bool
}

// trySend delivers without blocking. The closed flag plus the recover
// cover the window where an unsubscribe closes the channel after a
// publisher snapshotted its subscriber list.
func (s *subscriber) trySend(event Event) (delivered bool) {
	if s.closed.Load() {
		return true
	}
	defer func() {
		if recover() != nil {
			s.closed.Store(true)
			delivered = true
		}
	}()

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Bus is an in-process publish/subscribe registry. It replaces the
// ambient window-level dispatch of the original screens with an
// explicit, injectable object so lifecycle and test isolation are
// explicit.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
	logger      *zap.SugaredLogger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a listener and returns its channel. The channel
// closes when ctx is cancelled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) <-chan Event {
	sub := &subscriber{
		filter: filter,
		ch:     make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan Event)
		close(closed)
		return closed
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch
}

// Publish delivers the event to every matching subscriber. Publishing
// never blocks; a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		if !sub.trySend(event) {
			b.logger.Warnf("Dropping %s event for %s/%s: subscriber buffer full",
				event.Name, event.Collection, event.ID)
		}
	}
}

// Shutdown closes every subscriber channel and rejects further use.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
		delete(b.subscribers, sub)
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
}

// ForEntity is a convenience filter matching one (collection, id) pair.
func ForEntity(collection, id string) Filter {
	return func(e Event) bool {
		return e.Collection == collection && e.ID == id
	}
}
