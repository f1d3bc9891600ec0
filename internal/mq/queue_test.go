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

func newQueue(coll store.Collection, opts ...mq.QueueOption) *mq.MessageQueue {
	return mq.New(coll, append([]mq.QueueOption{
		mq.WithQueueLogger(mocks.LoggerMock{}),
		mq.WithConsumerDefaults(fastOptions()...),
		mq.WithBatchOptions(mq.WithBatchDelay(10 * time.Millisecond)),
	}, opts...)...)
}

func TestMessageQueue_CompetingConsumers(t *testing.T) {
	ctx := context.Background()
	coll := storetest.New("messages")
	queue := newQueue(coll)
	defer queue.Close()

	_, err := queue.Publish(ctx, map[string]any{"type": "numeric", "value": 1})
	require.NoError(t, err)
	_, err = queue.Publish(ctx, map[string]any{"type": "text", "value": "hello"})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		acked = map[string]int{}
	)
	handler := func(ctx context.Context, msg *store.Message, d *mq.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		acked[msg.ID]++
		return nil
	}

	_, err = queue.Consume(ctx, handler, mq.WithGroup("g"))
	require.NoError(t, err)
	_, err = queue.Consume(ctx, handler, mq.WithGroup("g"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, msg := range coll.All() {
			if msg.Consumption("g").AckedAt == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, queue.Drain(ctx, time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, acked, 2)
	for id, n := range acked {
		assert.Equal(t, 1, n, id)
	}
}

func TestMessageQueue_Filters(t *testing.T) {
	ctx := context.Background()
	coll := storetest.New("messages")
	queue := newQueue(coll, mq.WithQueueFilter(filter.MustCompile(`msg.tenant == "t1"`)))
	defer queue.Close()

	var live collected
	_, err := queue.Subscribe(live.handler, mq.WithLocalFilter(filter.MustCompile(`msg.type == "text"`)))
	require.NoError(t, err)

	rec := newRecorder()
	_, err = queue.Consume(ctx, func(ctx context.Context, msg *store.Message, d *mq.Delivery) error {
		rec.handle(msg)
		return nil
	}, mq.WithFilter(filter.MustCompile(`msg.type == "numeric"`)))
	require.NoError(t, err)

	for _, body := range []map[string]any{
		{"tenant": "t1", "type": "numeric", "value": 1},
		{"tenant": "t2", "type": "numeric", "value": 2},
		{"tenant": "t1", "type": "text", "value": "a"},
		{"tenant": "t2", "type": "text", "value": "b"},
	} {
		require.NoError(t, queue.PublishBatched(body))
	}

	assert.Eventually(t, func() bool { return rec.handledCount() == 1 && len(live.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, queue.Drain(ctx, time.Second))

	assert.Equal(t, []any{1.0}, rec.values())
	assert.Equal(t, []any{"a"}, live.get())
}

func TestMessageQueue_Events(t *testing.T) {
	ctx := context.Background()
	coll := storetest.New("messages")
	queue := newQueue(coll)
	defer queue.Close()

	rec := newRecorder()
	queue.OnError(rec.onError)
	queue.OnDeadLetter(rec.onDeadLetter)
	queue.OnDrained(rec.onDrained)

	_, err := queue.Publish(ctx, map[string]any{"value": 1})
	require.NoError(t, err)

	_, err = queue.Consume(ctx, func(ctx context.Context, msg *store.Message, d *mq.Delivery) error {
		return errors.New("boom")
	}, mq.WithMaxRetries(0))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.deadLetterCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.drained > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.errorCount())

	coll.FailInsertMany(errors.New("down"))
	require.NoError(t, queue.PublishBatched(map[string]any{"value": 2}))
	assert.Eventually(t, func() bool { return rec.errorCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestMessageQueue_Close(t *testing.T) {
	ctx := context.Background()
	coll := storetest.New("messages")
	queue := newQueue(coll, mq.WithBatchOptions(mq.WithBatchDelay(10*time.Second)))

	c, err := queue.Consume(ctx, func(context.Context, *store.Message, *mq.Delivery) error { return nil })
	require.NoError(t, err)
	_, err = queue.Subscribe(func(context.Context, *store.Message) error { return nil })
	require.NoError(t, err)

	require.NoError(t, queue.PublishBatched(map[string]any{"value": "pending"}))

	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())

	assert.Len(t, coll.All(), 1)
	assert.Equal(t, 0, coll.Watchers())
	assert.ErrorIs(t, c.Drain(ctx, time.Millisecond), mq.ErrConsumerClosed)

	_, err = queue.Publish(ctx, map[string]any{"value": 1})
	assert.ErrorIs(t, err, mq.ErrPublisherClosed)
	assert.ErrorIs(t, queue.PublishBatched(map[string]any{"value": 1}), mq.ErrBatchPublisherClosed)
	_, err = queue.Subscribe(func(context.Context, *store.Message) error { return nil })
	assert.ErrorIs(t, err, mq.ErrSubscriberClosed)
	_, err = queue.Consume(ctx, func(context.Context, *store.Message, *mq.Delivery) error { return nil })
	assert.ErrorIs(t, err, mq.ErrQueueClosed)
}
