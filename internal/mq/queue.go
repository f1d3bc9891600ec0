package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/events"
	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/store"
	"golang.org/x/sync/errgroup"
)

type queueConfig struct {
	filter       filter.Filter
	consumerOpts []ConsumerOption
	batchOpts    []BatchOption
	publishOpts  []PublisherOption
	subOpts      []SubscriberOption
	logger       logs.Logger
}

type QueueOption func(*queueConfig)

// WithQueueFilter applies to every consumer and to the subscriber feed.
func WithQueueFilter(f filter.Filter) QueueOption {
	return func(c *queueConfig) { c.filter = filter.And(c.filter, f) }
}

// WithConsumerDefaults are applied to every Consume call before its own
// options.
func WithConsumerDefaults(opts ...ConsumerOption) QueueOption {
	return func(c *queueConfig) { c.consumerOpts = append(c.consumerOpts, opts...) }
}

func WithBatchOptions(opts ...BatchOption) QueueOption {
	return func(c *queueConfig) { c.batchOpts = append(c.batchOpts, opts...) }
}

func WithPublisherOptions(opts ...PublisherOption) QueueOption {
	return func(c *queueConfig) { c.publishOpts = append(c.publishOpts, opts...) }
}

func WithSubscriberOptions(opts ...SubscriberOption) QueueOption {
	return func(c *queueConfig) { c.subOpts = append(c.subOpts, opts...) }
}

// WithQueueLogger is passed to every component unless a component option
// overrides it.
func WithQueueLogger(logger logs.Logger) QueueOption {
	return func(c *queueConfig) { c.logger = logger }
}

// MessageQueue combines a publisher, a batch publisher, a subscriber and any
// number of consumers over one collection, with merged events.
type MessageQueue struct {
	coll   store.Collection
	cfg    queueConfig
	logger logs.Logger

	publisher  *Publisher
	batch      *BatchPublisher
	subscriber *Subscriber

	mu        sync.Mutex
	consumers map[*Consumer]struct{}
	closed    bool

	onError      events.Listeners[ErrorFunc]
	onDeadLetter events.Listeners[DeadLetterFunc]
	onDrained    events.Listeners[DrainedFunc]
}

func New(coll store.Collection, opts ...QueueOption) *MessageQueue {
	cfg := queueConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}

	q := &MessageQueue{
		coll:      coll,
		cfg:       cfg,
		logger:    cfg.logger.With("component", "queue", "collection", coll.Name()),
		consumers: make(map[*Consumer]struct{}),
	}

	q.publisher = NewPublisher(coll, append([]PublisherOption{WithPublisherLogger(cfg.logger)}, cfg.publishOpts...)...)
	q.batch = NewBatchPublisher(coll, append([]BatchOption{WithBatchLogger(cfg.logger)}, cfg.batchOpts...)...)
	q.subscriber = NewSubscriber(coll, append([]SubscriberOption{
		WithSubscriberLogger(cfg.logger),
		WithSubscriberFilter(cfg.filter),
	}, cfg.subOpts...)...)

	q.batch.OnError(q.emitError)
	q.subscriber.OnError(q.emitError)
	return q
}

func (q *MessageQueue) OnError(fn ErrorFunc)           { q.onError.Add(fn) }
func (q *MessageQueue) OnDeadLetter(fn DeadLetterFunc) { q.onDeadLetter.Add(fn) }
func (q *MessageQueue) OnDrained(fn DrainedFunc)       { q.onDrained.Add(fn) }

func (q *MessageQueue) Publish(ctx context.Context, body map[string]any) (string, error) {
	return q.publisher.Publish(ctx, body)
}

func (q *MessageQueue) PublishBatched(body map[string]any) error {
	return q.batch.Publish(body)
}

func (q *MessageQueue) Subscribe(fn SubscriptionHandler, opts ...SubscriptionOption) (*Subscription, error) {
	return q.subscriber.Subscribe(fn, opts...)
}

// Consume starts a consumer with the queue defaults followed by opts. The
// queue filter and any filter in opts are conjoined.
func (q *MessageQueue) Consume(ctx context.Context, fn Handler, opts ...ConsumerOption) (*Consumer, error) {
	all := make([]ConsumerOption, 0, len(q.cfg.consumerOpts)+len(opts)+2)
	all = append(all, WithConsumerLogger(q.cfg.logger), WithFilter(q.cfg.filter))
	all = append(all, q.cfg.consumerOpts...)
	all = append(all, opts...)

	c, err := NewConsumer(q.coll, fn, all...)
	if err != nil {
		return nil, err
	}
	c.OnError(q.emitError)
	c.OnDeadLetter(q.emitDeadLetter)
	c.OnDrained(func(group string) {
		q.onDrained.Emit(func(fn DrainedFunc) { fn(group) })
	})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		_ = c.Close()
		return nil, ErrQueueClosed
	}
	q.consumers[c] = struct{}{}
	q.mu.Unlock()

	c.onClose(func() {
		q.mu.Lock()
		delete(q.consumers, c)
		q.mu.Unlock()
	})

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	return c, nil
}

// Drain waits until every consumer has observed an empty poll.
func (q *MessageQueue) Drain(ctx context.Context, timeout time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range q.snapshot() {
		g.Go(func() error {
			return c.Drain(ctx, timeout)
		})
	}
	return g.Wait()
}

// Close closes consumers first, then publishers and the subscriber.
func (q *MessageQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	var consumers errgroup.Group
	for _, c := range q.snapshot() {
		consumers.Go(c.Close)
	}
	if err := consumers.Wait(); err != nil {
		return err
	}

	var rest errgroup.Group
	rest.Go(q.publisher.Close)
	rest.Go(q.batch.Close)
	rest.Go(q.subscriber.Close)
	return rest.Wait()
}

func (q *MessageQueue) snapshot() []*Consumer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Consumer, 0, len(q.consumers))
	for c := range q.consumers {
		out = append(out, c)
	}
	return out
}

func (q *MessageQueue) emitError(err error, msg *store.Message, group string) {
	if !q.onError.Emit(func(fn ErrorFunc) { fn(err, msg, group) }) {
		q.logger.Error("queue error", "error", err, "id", messageID(msg), "group", group)
	}
}

func (q *MessageQueue) emitDeadLetter(err error, msg *store.Message, group string) {
	if !q.onDeadLetter.Emit(func(fn DeadLetterFunc) { fn(err, msg, group) }) {
		q.logger.Warn("message dead-lettered", "error", err, "id", messageID(msg), "group", group)
	}
}
