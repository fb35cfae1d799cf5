// ABOUTME: Per-connection output stream handles decoupling transport from the event bus.
// ABOUTME: Attach creates a filtered bus subscription; detaching the last handle cancels the conversation's task.

package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cortexcore/cortex/internal/bus"
)

// ErrEndOfStream indicates the handle's subscription has closed and no more
// events will arrive.
var ErrEndOfStream = errors.New("end of stream")

// Canceler aborts a conversation's in-flight orchestration. Implemented by
// the orchestrator; optional.
type Canceler interface {
	Cancel(userID, conversationID string)
}

// Handle is one client connection's read end of a conversation's output
// stream. Next is the only read primitive exposed to the transport-facing
// collaborator; wire framing stays outside this package.
type Handle struct {
	id             string
	userID         string
	conversationID string
	sub            *bus.Subscription
}

// UserID returns the user the handle streams for.
func (h *Handle) UserID() string { return h.userID }

// ConversationID returns the conversation the handle streams for.
func (h *Handle) ConversationID() string { return h.conversationID }

// Next blocks until the next output event for the handle's conversation
// arrives, the handle is detached (ErrEndOfStream), or ctx is cancelled.
// Events arrive in non-decreasing sequence order.
func (h *Handle) Next(ctx context.Context) (*bus.Event, error) {
	for {
		ev, err := h.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrSubscriptionClosed) {
				return nil, ErrEndOfStream
			}
			return nil, err
		}
		// The subscription is user-filtered; conversation filtering
		// happens here.
		if ev.ConversationID == h.conversationID {
			return ev, nil
		}
	}
}

// Dropped reports events discarded because this handle's queue overflowed.
func (h *Handle) Dropped() uint64 { return h.sub.Dropped() }

// Broadcaster multiplexes output events onto per-connection stream handles.
type Broadcaster struct {
	bus      *bus.Bus
	canceler Canceler
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	active  map[string]int // conversation key -> attached handle count
}

// NewBroadcaster creates a broadcaster over the bus. canceler may be nil;
// when set, detaching the last handle of a conversation cancels that
// conversation's in-flight orchestration. Pass nil logger for default.
func NewBroadcaster(b *bus.Bus, canceler Canceler, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bus:      b,
		canceler: canceler,
		logger:   logger.With("component", "broadcaster"),
		handles:  make(map[string]*Handle),
		active:   make(map[string]int),
	}
}

// Attach creates a stream handle for one client connection, subscribed to
// output events for the given user and filtered to the conversation.
func (b *Broadcaster) Attach(userID, conversationID string) *Handle {
	h := &Handle{
		id:             uuid.New().String(),
		userID:         userID,
		conversationID: conversationID,
		sub:            b.bus.SubscribeUser(userID, bus.EventTypeOutput),
	}

	key := userID + "/" + conversationID
	b.mu.Lock()
	b.handles[h.id] = h
	b.active[key]++
	b.mu.Unlock()

	b.logger.Debug("stream attached",
		"handle_id", h.id,
		"user_id", userID,
		"conversation_id", conversationID)
	return h
}

// Detach unsubscribes the handle and releases its queue. Idempotent and safe
// on disconnect at any time, including mid-delivery. When the conversation's
// last handle detaches, its in-flight orchestration is cancelled.
func (b *Broadcaster) Detach(h *Handle) {
	if h == nil {
		return
	}

	key := h.userID + "/" + h.conversationID

	b.mu.Lock()
	if _, ok := b.handles[h.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.handles, h.id)
	b.active[key]--
	last := b.active[key] <= 0
	if last {
		delete(b.active, key)
	}
	b.mu.Unlock()

	b.bus.Unsubscribe(h.sub)
	b.logger.Debug("stream detached", "handle_id", h.id, "last", last)

	if last && b.canceler != nil {
		b.canceler.Cancel(h.userID, h.conversationID)
	}
}

// Close detaches every handle.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	handles := make([]*Handle, 0, len(b.handles))
	for _, h := range b.handles {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		b.Detach(h)
	}
}
