package mq_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs/mocks"
	"github.com/JulianoL13/doc-queue/internal/mq"
	"github.com/JulianoL13/doc-queue/internal/store"
	"github.com/JulianoL13/doc-queue/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBatchPublisher(coll store.Collection, opts ...mq.BatchOption) *mq.BatchPublisher {
	return mq.NewBatchPublisher(coll, append([]mq.BatchOption{
		mq.WithBatchDelay(20 * time.Millisecond),
		mq.WithBatchLogger(mocks.LoggerMock{}),
	}, opts...)...)
}

func values(bodies []map[string]any) []any {
	out := make([]any, len(bodies))
	for i, b := range bodies {
		out[i] = b["value"]
	}
	return out
}

func TestBatchPublisher_Drain(t *testing.T) {
	coll := storetest.New("messages")
	pub := newBatchPublisher(coll, mq.WithMaxBatchSize(100))
	defer pub.Close()

	var want []any
	for i := 0; i < 250; i++ {
		require.NoError(t, pub.Publish(map[string]any{"value": i}))
		want = append(want, float64(i))
	}

	assert.Eventually(t, func() bool { return len(coll.All()) == 250 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, coll.InsertManyCalls())
	assert.Equal(t, want, values(coll.Bodies()))
	assert.Zero(t, pub.Pending())
}

func TestBatchPublisher_ExactMultiple(t *testing.T) {
	coll := storetest.New("messages")
	pub := newBatchPublisher(coll, mq.WithMaxBatchSize(10))
	defer pub.Close()

	for i := 0; i < 30; i++ {
		require.NoError(t, pub.Publish(map[string]any{"value": i}))
	}

	assert.Eventually(t, func() bool { return len(coll.All()) == 30 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, coll.InsertManyCalls())
}

func TestBatchPublisher_TransientFailure(t *testing.T) {
	coll := storetest.New("messages")
	boom := errors.New("connection reset")
	coll.FailInsertMany(boom)

	rec := newRecorder()
	pub := newBatchPublisher(coll, mq.WithMaxBatchSize(2))
	pub.OnError(rec.onError)
	defer pub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(map[string]any{"value": i}))
	}

	assert.Eventually(t, func() bool { return len(coll.All()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{0.0, 1.0, 2.0, 3.0, 4.0}, values(coll.Bodies()))
	assert.Equal(t, 1, rec.errorCount())
	assert.ErrorIs(t, rec.firstError(), boom)
}

func TestBatchPublisher_InvalidBody(t *testing.T) {
	coll := storetest.New("messages")
	rec := newRecorder()
	pub := newBatchPublisher(coll, mq.WithMaxBatchSize(10))
	pub.OnError(rec.onError)
	defer pub.Close()

	require.NoError(t, pub.Publish(map[string]any{"value": 1}))
	assert.ErrorIs(t, pub.Publish(map[string]any{"value": math.NaN()}), store.ErrInvalidBody)

	assert.Eventually(t, func() bool { return len(coll.All()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, coll.All(), 1)
	assert.Equal(t, 1, coll.InsertManyCalls())
	assert.Zero(t, pub.Pending())
	assert.Zero(t, rec.errorCount())
}

func TestBatchPublisher_BodyBrokenAfterPublish(t *testing.T) {
	coll := storetest.New("messages")
	logger := &mocks.RecordingLogger{}
	rec := newRecorder()
	pub := mq.NewBatchPublisher(coll,
		mq.WithBatchDelay(10*time.Second),
		mq.WithMaxBatchSize(10),
		mq.WithBatchLogger(logger),
	)
	pub.OnError(rec.onError)

	broken := map[string]any{"value": 2}
	require.NoError(t, pub.Publish(map[string]any{"value": 1}))
	require.NoError(t, pub.Publish(broken))
	require.NoError(t, pub.Publish(map[string]any{"value": 3}))
	broken["value"] = math.Inf(1)

	require.NoError(t, pub.Close())

	assert.Equal(t, []any{1.0, 3.0}, values(coll.Bodies()))
	assert.Equal(t, 1, coll.InsertManyCalls())
	assert.Zero(t, pub.Pending())
	assert.Zero(t, rec.errorCount())
	assert.Len(t, logger.Warns, 1)
}

func TestBatchPublisher_RetryAfterPartialWrite(t *testing.T) {
	coll := storetest.New("messages")
	timeout := errors.New("i/o timeout")
	coll.FailInsertManyAfterWrite(timeout)

	rec := newRecorder()
	pub := newBatchPublisher(coll, mq.WithMaxBatchSize(10))
	pub.OnError(rec.onError)
	defer pub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(map[string]any{"value": i}))
	}

	assert.Eventually(t, func() bool { return coll.InsertManyCalls() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, []any{0.0, 1.0, 2.0, 3.0, 4.0}, values(coll.Bodies()))
	assert.Equal(t, 2, coll.InsertManyCalls())
	assert.Zero(t, pub.Pending())
	assert.Equal(t, 1, rec.errorCount())
	assert.ErrorIs(t, rec.firstError(), timeout)
}

func TestBatchPublisher_Duplicates(t *testing.T) {
	coll := storetest.New("messages", "key")
	require.NoError(t, coll.InsertWithID(store.NewID(), map[string]any{"key": "1", "value": 0}))

	rec := newRecorder()
	pub := newBatchPublisher(coll)
	pub.OnError(rec.onError)
	defer pub.Close()

	require.NoError(t, pub.Publish(map[string]any{"key": "1", "value": 1}))
	require.NoError(t, pub.Publish(map[string]any{"key": "2", "value": 2}))

	assert.Eventually(t, func() bool { return len(coll.All()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, coll.InsertManyCalls())
	assert.Equal(t, []any{0.0, 2.0}, values(coll.Bodies()))
	assert.Zero(t, rec.errorCount())
}

func TestBatchPublisher_CustomDuplicatePredicate(t *testing.T) {
	coll := storetest.New("messages")
	conflict := errors.New("E11000")
	coll.FailInsertMany(conflict)

	rec := newRecorder()
	pub := newBatchPublisher(coll, mq.WithDuplicatePredicate(func(err error) bool {
		return errors.Is(err, conflict)
	}))
	pub.OnError(rec.onError)
	defer pub.Close()

	require.NoError(t, pub.Publish(map[string]any{"value": 1}))

	assert.Eventually(t, func() bool { return coll.InsertManyCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, coll.InsertManyCalls())
	assert.Zero(t, pub.Pending())
	assert.Zero(t, rec.errorCount())
}

func TestBatchPublisher_Close(t *testing.T) {
	t.Run("best effort flushes then rejects", func(t *testing.T) {
		coll := storetest.New("messages")
		pub := newBatchPublisher(coll, mq.WithBatchDelay(10*time.Second))

		require.NoError(t, pub.Publish(map[string]any{"type": "numeric", "value": 1}))
		require.NoError(t, pub.Publish(map[string]any{"type": "text", "value": "hello"}))

		require.NoError(t, pub.Close())
		assert.ErrorIs(t, pub.Publish(map[string]any{"value": "hello2"}), mq.ErrBatchPublisherClosed)

		assert.Equal(t, []any{1.0, "hello"}, values(coll.Bodies()))
		assert.Equal(t, []store.WriteOptions{{Durable: true}}, coll.Writes())
		assert.NoError(t, pub.Close())
	})

	t.Run("best effort discards what the final flush could not write", func(t *testing.T) {
		coll := storetest.New("messages")
		coll.FailInsertMany(errors.New("down"))
		pub := newBatchPublisher(coll, mq.WithBatchDelay(10*time.Second))
		pub.OnError(func(error, *store.Message, string) {})

		require.NoError(t, pub.Publish(map[string]any{"value": 1}))
		require.NoError(t, pub.Close())

		assert.Empty(t, coll.All())
		assert.Zero(t, pub.Pending())
	})

	t.Run("without best effort drops queued and later messages", func(t *testing.T) {
		coll := storetest.New("messages")
		pub := newBatchPublisher(coll, mq.WithBatchDelay(10*time.Second), mq.WithBestEffort(false))

		require.NoError(t, pub.Publish(map[string]any{"value": 1}))
		require.NoError(t, pub.Close())
		assert.NoError(t, pub.Publish(map[string]any{"value": 2}))

		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, coll.All())
		assert.Zero(t, coll.InsertManyCalls())
	})
}

func TestBatchPublisher_NoBestEffort(t *testing.T) {
	t.Run("writes are not durable", func(t *testing.T) {
		coll := storetest.New("messages")
		pub := newBatchPublisher(coll, mq.WithBestEffort(false))
		defer pub.Close()

		require.NoError(t, pub.Publish(map[string]any{"value": 1}))

		assert.Eventually(t, func() bool { return len(coll.All()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []store.WriteOptions{{Durable: false}}, coll.Writes())
	})

	t.Run("failures drop silently", func(t *testing.T) {
		coll := storetest.New("messages")
		coll.FailInsertMany(errors.New("down"))

		rec := newRecorder()
		pub := newBatchPublisher(coll, mq.WithBestEffort(false), mq.WithMaxBatchSize(1))
		pub.OnError(rec.onError)
		defer pub.Close()

		require.NoError(t, pub.Publish(map[string]any{"value": 1}))
		require.NoError(t, pub.Publish(map[string]any{"value": 2}))

		assert.Eventually(t, func() bool { return coll.InsertManyCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(60 * time.Millisecond)

		assert.Empty(t, coll.All())
		assert.Zero(t, pub.Pending())
		assert.Zero(t, rec.errorCount())
	})

	t.Run("explicit write options win", func(t *testing.T) {
		coll := storetest.New("messages")
		pub := newBatchPublisher(coll, mq.WithBestEffort(false), mq.WithWriteOptions(store.WriteOptions{Durable: true}))
		defer pub.Close()

		require.NoError(t, pub.Publish(map[string]any{"value": 1}))

		assert.Eventually(t, func() bool { return len(coll.All()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []store.WriteOptions{{Durable: true}}, coll.Writes())
	})
}
