// ABOUTME: Tests for the event bus fan-out, filtering, ordering and overflow.
// ABOUTME: Covers subscribe, publish, drop-oldest accounting, unsubscribe, shutdown.

package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(evType, userID, convID string) *Event {
	return &Event{
		Type:           evType,
		UserID:         userID,
		ConversationID: convID,
		Payload:        map[string]any{"content": "hello"},
	}
}

func TestBus_SingleSubscriberReceivesEvent(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe(EventTypeInput)

	require.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")))

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventTypeInput, ev.Type)
	assert.Equal(t, uint64(1), ev.Sequence)
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestBus_TypeFilterExcludesOtherTypes(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe(EventTypeOutput)

	require.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")))
	require.NoError(t, b.Publish(makeEvent(EventTypeOutput, "u1", "c1")))

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventTypeOutput, ev.Type)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UserFilterIsExactMatch(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.SubscribeUser("u1", EventTypeOutput)

	require.NoError(t, b.Publish(makeEvent(EventTypeOutput, "u2", "c1")))
	require.NoError(t, b.Publish(makeEvent(EventTypeOutput, "u1", "c1")))

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UserID)
}

func TestBus_PublishWithZeroSubscribersIsNoOp(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			assert.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with zero subscribers")
	}
}

func TestBus_SequenceMonotonicPerConversation(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")))
	}
	// Interleave a different conversation; it gets its own counter.
	require.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c2")))

	sub := b.Subscribe(EventTypeInput)
	ev := makeEvent(EventTypeInput, "u1", "c1")
	require.NoError(t, b.Publish(ev))
	assert.Equal(t, uint64(6), ev.Sequence)

	got, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.Sequence)
}

func TestBus_DeliveryOrderIsNonDecreasingPerConversation(t *testing.T) {
	b := New(1024, nil)
	defer b.Close()

	sub := b.Subscribe(EventTypeOutput)

	var wg sync.WaitGroup
	for _, conv := range []string{"c1", "c2", "c3"} {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, b.Publish(makeEvent(EventTypeOutput, "u1", conv)))
			}
		}(conv)
	}
	wg.Wait()

	lastSeq := map[string]uint64{}
	for i := 0; i < 300; i++ {
		ev, err := sub.Next(context.Background())
		require.NoError(t, err)
		key := ev.ConversationKey()
		require.Greater(t, ev.Sequence, lastSeq[key],
			"sequence went backwards for %s", key)
		lastSeq[key] = ev.Sequence
	}
	assert.Equal(t, uint64(0), sub.Dropped())
}

func TestBus_OverflowDropsOldestAndCounts(t *testing.T) {
	b := New(256, nil)
	defer b.Close()

	sub := b.Subscribe(EventTypeOutput)

	for i := 0; i < 1000; i++ {
		ev := makeEvent(EventTypeOutput, "u1", "c1")
		ev.Payload = map[string]any{"n": i}
		require.NoError(t, b.Publish(ev))
	}

	assert.Equal(t, uint64(744), sub.Dropped())

	// The 256 newest events (sequences 745..1000) remain retrievable.
	var seqs []uint64
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		seqs = append(seqs, ev.Sequence)
	}
	require.Len(t, seqs, 256)
	assert.Equal(t, uint64(745), seqs[0])
	assert.Equal(t, uint64(1000), seqs[len(seqs)-1])
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe(EventTypeInput)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // no-op, must not panic

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	// Publishing after unsubscribe still succeeds (fire-and-forget).
	assert.NoError(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")))
}

func TestBus_PublishAfterCloseFailsFast(t *testing.T) {
	b := New(0, nil)
	sub := b.Subscribe(EventTypeInput)

	b.Close()
	b.Close() // safe to call twice

	assert.ErrorIs(t, b.Publish(makeEvent(EventTypeInput, "u1", "c1")), ErrBusClosed)

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestBus_SubscribeAfterCloseReturnsClosedSubscription(t *testing.T) {
	b := New(0, nil)
	b.Close()

	sub := b.Subscribe(EventTypeInput)
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestBus_ConcurrentPublishSubscribeUnsubscribe(t *testing.T) {
	b := New(16, nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = b.Publish(makeEvent(EventTypeOutput, "u1", "c1"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := b.Subscribe(EventTypeOutput)
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()
}
