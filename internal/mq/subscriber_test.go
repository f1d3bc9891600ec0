package mq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs/mocks"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/mq"
	"github.com/JulianoL13/doc-queue/internal/store"
	"github.com/JulianoL13/doc-queue/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	mu     sync.Mutex
	values []any
}

func (c *collected) handler(ctx context.Context, msg *store.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, msg.Body["value"])
	return nil
}

func (c *collected) get() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.values...)
}

func newSubscriber(coll store.Collection, opts ...mq.SubscriberOption) *mq.Subscriber {
	return mq.NewSubscriber(coll, append([]mq.SubscriberOption{mq.WithSubscriberLogger(mocks.LoggerMock{})}, opts...)...)
}

func TestSubscriber_FanOut(t *testing.T) {
	coll := storetest.New("messages")
	publish(t, coll, map[string]any{"type": "a", "value": "before"})

	sub := newSubscriber(coll)
	defer sub.Close()

	var onlyA, onlyB, all collected
	_, err := sub.Subscribe(onlyA.handler, mq.WithLocalFilter(filter.MustCompile(`msg.type == "a"`)))
	require.NoError(t, err)
	_, err = sub.Subscribe(onlyB.handler, mq.WithLocalFilter(filter.MustCompile(`msg.type == "b"`)))
	require.NoError(t, err)
	_, err = sub.Subscribe(all.handler)
	require.NoError(t, err)

	publish(t, coll, map[string]any{"type": "a", "value": 1})
	publish(t, coll, map[string]any{"type": "b", "value": 2})
	publish(t, coll, map[string]any{"type": "a", "value": 3})
	publish(t, coll, map[string]any{"type": "c", "value": 4})

	assert.Eventually(t, func() bool { return len(all.get()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(onlyA.get()) == 2 && len(onlyB.get()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []any{1.0, 3.0}, onlyA.get())
	assert.Equal(t, []any{2.0}, onlyB.get())
	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0}, all.get())
}

func TestSubscriber_FeedFilter(t *testing.T) {
	coll := storetest.New("messages")
	sub := newSubscriber(coll, mq.WithSubscriberFilter(filter.MustCompile(`msg.type == "a"`)))
	defer sub.Close()

	var got collected
	_, err := sub.Subscribe(got.handler)
	require.NoError(t, err)

	publish(t, coll, map[string]any{"type": "b", "value": 1})
	publish(t, coll, map[string]any{"type": "a", "value": 2})

	assert.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{2.0}, got.get())
}

func TestSubscriber_HandlerErrors(t *testing.T) {
	coll := storetest.New("messages")
	sub := newSubscriber(coll)
	defer sub.Close()

	shared := newRecorder()
	sub.OnError(shared.onError)

	boom := errors.New("boom")
	failing, err := sub.Subscribe(func(ctx context.Context, msg *store.Message) error {
		if msg.Body["value"] == 1.0 {
			panic("kaboom")
		}
		return boom
	})
	require.NoError(t, err)
	local := newRecorder()
	failing.OnError(local.onError)

	var healthy collected
	_, err = sub.Subscribe(healthy.handler)
	require.NoError(t, err)

	publish(t, coll, map[string]any{"value": 1})
	publish(t, coll, map[string]any{"value": 2})

	assert.Eventually(t, func() bool { return local.errorCount() == 2 && shared.errorCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, local.firstError(), mq.ErrHandlerPanic)
	assert.ErrorIs(t, local.errorAt(1), boom)
	assert.Eventually(t, func() bool { return len(healthy.get()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubscriber_Overflow(t *testing.T) {
	coll := storetest.New("messages")
	sub := newSubscriber(coll, mq.WithBufferSize(1))

	rec := newRecorder()
	sub.OnError(rec.onError)

	release := make(chan struct{})
	started := make(chan struct{}, 10)
	_, err := sub.Subscribe(func(ctx context.Context, msg *store.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, err)

	publish(t, coll, map[string]any{"value": 1})
	<-started
	publish(t, coll, map[string]any{"value": 2})
	publish(t, coll, map[string]any{"value": 3})

	assert.Eventually(t, func() bool { return rec.errorCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.firstError(), mq.ErrSubscriptionOverflow)

	close(release)
	require.NoError(t, sub.Close())
}

func TestSubscriber_Close(t *testing.T) {
	t.Run("subscription close detaches", func(t *testing.T) {
		coll := storetest.New("messages")
		sub := newSubscriber(coll)
		defer sub.Close()

		var got collected
		s, err := sub.Subscribe(got.handler)
		require.NoError(t, err)
		assert.Equal(t, 1, sub.Subscriptions())

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.Equal(t, 0, sub.Subscriptions())

		publish(t, coll, map[string]any{"value": 1})
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, got.get())
	})

	t.Run("close stops the feed and rejects subscribe", func(t *testing.T) {
		coll := storetest.New("messages")
		sub := newSubscriber(coll)

		var got collected
		first, err := sub.Subscribe(got.handler)
		require.NoError(t, err)
		_, err = sub.Subscribe(got.handler)
		require.NoError(t, err)
		assert.Equal(t, 1, coll.Watchers())

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		select {
		case <-first.Done():
		default:
			t.Fatal("subscription not done after subscriber close")
		}
		assert.Eventually(t, func() bool { return coll.Watchers() == 0 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, sub.Subscriptions())

		_, err = sub.Subscribe(got.handler)
		assert.ErrorIs(t, err, mq.ErrSubscriberClosed)
	})

	t.Run("close waits for the running handler", func(t *testing.T) {
		coll := storetest.New("messages")
		sub := newSubscriber(coll)

		started := make(chan struct{})
		release := make(chan struct{})
		_, err := sub.Subscribe(func(ctx context.Context, msg *store.Message) error {
			close(started)
			<-release
			return nil
		})
		require.NoError(t, err)

		publish(t, coll, map[string]any{"value": 1})
		<-started

		closed := make(chan struct{})
		go func() {
			sub.Close()
			close(closed)
		}()

		time.Sleep(30 * time.Millisecond)
		select {
		case <-closed:
			t.Fatal("close returned while handler was running")
		default:
		}

		close(release)
		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("close never returned")
		}
	})
}
