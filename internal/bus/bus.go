// ABOUTME: In-memory publish/subscribe event bus keyed by event type.
// ABOUTME: Bounded per-subscriber queues with drop-oldest overflow, never blocks publishers.

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity is the per-subscription delivery queue size used when
// no explicit capacity is configured.
const DefaultQueueCapacity = 256

// ErrBusClosed indicates the bus is shutting down; all pending operations
// fail fast.
var ErrBusClosed = errors.New("event bus closed")

// ErrSubscriptionClosed indicates the subscription's queue has been closed,
// either by Unsubscribe or by bus shutdown.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is a bounded delivery queue owned exclusively by the
// subscriber that created it. Destroyed on Unsubscribe or bus Close.
type Subscription struct {
	id         string
	types      map[string]struct{}
	userFilter string // empty means no user filtering
	ch         chan *Event
	dropped    atomic.Uint64
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Dropped reports how many events were discarded because this subscriber's
// queue was full. Drops are counted, never propagated as errors.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Events exposes the delivery queue directly for select-based consumers.
// The channel is closed on Unsubscribe or bus shutdown.
func (s *Subscription) Events() <-chan *Event { return s.ch }

// Next blocks until an event is delivered, the subscription is closed, or
// ctx is cancelled.
func (s *Subscription) Next(ctx context.Context) (*Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Subscription) matches(ev *Event) bool {
	if _, ok := s.types[ev.Type]; !ok {
		return false
	}
	if s.userFilter != "" && s.userFilter != ev.UserID {
		return false
	}
	return true
}

// Bus is an in-process publish/subscribe router keyed by event type.
// Construct one and pass it by reference into every component that needs it;
// there is deliberately no package-level instance.
type Bus struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	seq      map[string]uint64 // conversation key -> last assigned sequence
	closed   bool
	capacity int
	logger   *slog.Logger
}

// New creates a bus whose subscriptions buffer up to capacity events each.
// A capacity <= 0 selects DefaultQueueCapacity. Pass nil logger for default.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:     make(map[string]*Subscription),
		seq:      make(map[string]uint64),
		capacity: capacity,
		logger:   logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for the given event types across all
// users. At least one type is required.
func (b *Bus) Subscribe(types ...string) *Subscription {
	return b.SubscribeUser("", types...)
}

// SubscribeUser registers a subscriber for the given event types, limited to
// events whose user_id exactly matches userID. An empty userID disables the
// user filter. A subscription created after the bus closed is returned
// already closed.
func (b *Bus) SubscribeUser(userID string, types ...string) *Subscription {
	sub := &Subscription{
		id:         uuid.New().String(),
		types:      make(map[string]struct{}, len(types)),
		userFilter: userID,
		ch:         make(chan *Event, b.capacity),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub

	b.logger.Debug("subscriber added",
		"sub_id", sub.id,
		"types", types,
		"user_filter", userID)
	return sub
}

// Publish assigns the event's sequence number and fans it out to every
// subscription whose filter matches. It never blocks on slow subscribers:
// a full queue drops its oldest event and increments the subscription's
// dropped counter. Publishing with zero matching subscribers is a
// successful no-op. Returns ErrBusClosed during shutdown.
func (b *Bus) Publish(ev *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	key := ev.ConversationKey()
	b.seq[key]++
	ev.Sequence = b.seq[key]
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	// Fan-out happens under the bus lock so that sequence assignment and
	// enqueue are atomic per conversation; every enqueue below is
	// non-blocking, so the lock is never held waiting on a subscriber.
	for _, sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		b.deliver(sub, ev)
	}
	return nil
}

// deliver enqueues without blocking, applying drop-oldest on overflow.
// Called with b.mu held, which also excludes concurrent channel close.
func (b *Bus) deliver(sub *Subscription, ev *Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Queue full: evict the oldest queued event to make room. The receive
	// can still miss if the consumer drained the queue concurrently, in
	// which case the retry below succeeds anyway.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
		b.logger.Debug("dropped event for slow subscriber",
			"sub_id", sub.id,
			"event_type", ev.Type,
			"sequence", ev.Sequence)
	}
}

// Unsubscribe removes the subscription and closes its queue. Idempotent:
// removing an already-removed handle is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", sub.id)
}

// Close shuts the bus down: subsequent publishes fail with ErrBusClosed and
// every subscriber's queue is closed after any already-queued events drain.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}

	b.logger.Debug("bus closed")
}
