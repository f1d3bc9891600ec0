package mq

import (
	logslog "log/slog"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/common/logs/slog"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/store"
)

func defaultLogger() logs.Logger {
	return slog.New(logslog.LevelInfo)
}

// Consumer

type consumerConfig struct {
	filter            filter.Filter
	group             string
	concurrency       int
	visibilityTimeout time.Duration
	visibilityDelay   time.Duration
	maxVisibility     time.Duration
	maxRetries        int
	pollInterval      time.Duration
	fastPollInterval  time.Duration
	storeTimeout      time.Duration
	logger            logs.Logger
}

func defaultConsumerConfig(group string) consumerConfig {
	return consumerConfig{
		group:             group,
		concurrency:       1,
		visibilityTimeout: 2 * time.Second,
		maxVisibility:     time.Hour,
		maxRetries:        1,
		pollInterval:      time.Second,
		fastPollInterval:  3 * time.Millisecond,
		storeTimeout:      10 * time.Second,
	}
}

type ConsumerOption func(*consumerConfig)

// WithFilter narrows the messages a consumer claims. Repeated filters are
// conjoined.
func WithFilter(f filter.Filter) ConsumerOption {
	return func(c *consumerConfig) { c.filter = filter.And(c.filter, f) }
}

// WithGroup sets the consumer group; it defaults to the collection name.
func WithGroup(group string) ConsumerOption {
	return func(c *consumerConfig) {
		if group != "" {
			c.group = group
		}
	}
}

func WithConcurrency(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithVisibilityTimeout sets how long a claimed message stays hidden from the
// group. Keep it above twice the expected handler time.
func WithVisibilityTimeout(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d > 0 {
			c.visibilityTimeout = d
		}
	}
}

// WithVisibilityDelay holds back messages younger than d.
func WithVisibilityDelay(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d >= 0 {
			c.visibilityDelay = d
		}
	}
}

// WithMaxVisibility bounds how far into the past a fresh consumer looks.
func WithMaxVisibility(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d > 0 {
			c.maxVisibility = d
		}
	}
}

func WithMaxRetries(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithFastPollInterval(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d >= 0 {
			c.fastPollInterval = d
		}
	}
}

// WithStoreTimeout bounds each claim, ack and seek round trip.
func WithStoreTimeout(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

func WithConsumerLogger(logger logs.Logger) ConsumerOption {
	return func(c *consumerConfig) { c.logger = logger }
}

// BatchPublisher

type batchConfig struct {
	maxBatchSize int
	delay        time.Duration
	bestEffort   bool
	writeOptions *store.WriteOptions
	writeTimeout time.Duration
	isDuplicate  func(error) bool
	logger       logs.Logger
}

func defaultBatchConfig() batchConfig {
	return batchConfig{
		maxBatchSize: 100,
		delay:        100 * time.Millisecond,
		bestEffort:   true,
		writeTimeout: 10 * time.Second,
		isDuplicate:  store.IsDuplicate,
	}
}

func (c batchConfig) write() store.WriteOptions {
	if c.writeOptions != nil {
		return *c.writeOptions
	}
	return store.WriteOptions{Durable: c.bestEffort}
}

type BatchOption func(*batchConfig)

func WithMaxBatchSize(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

func WithBatchDelay(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithBestEffort toggles requeue on failure and a final flush on close.
// Disabled, writes are not durable and failed batches are dropped quietly.
func WithBestEffort(on bool) BatchOption {
	return func(c *batchConfig) { c.bestEffort = on }
}

// WithWriteOptions overrides the durability derived from best-effort mode.
func WithWriteOptions(opts store.WriteOptions) BatchOption {
	return func(c *batchConfig) { c.writeOptions = &opts }
}

func WithWriteTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithDuplicatePredicate replaces store.IsDuplicate for backends that signal
// unique conflicts differently.
func WithDuplicatePredicate(fn func(error) bool) BatchOption {
	return func(c *batchConfig) {
		if fn != nil {
			c.isDuplicate = fn
		}
	}
}

func WithBatchLogger(logger logs.Logger) BatchOption {
	return func(c *batchConfig) { c.logger = logger }
}

// Publisher

type publisherConfig struct {
	isDuplicate func(error) bool
	logger      logs.Logger
}

type PublisherOption func(*publisherConfig)

func WithPublisherDuplicatePredicate(fn func(error) bool) PublisherOption {
	return func(c *publisherConfig) {
		if fn != nil {
			c.isDuplicate = fn
		}
	}
}

func WithPublisherLogger(logger logs.Logger) PublisherOption {
	return func(c *publisherConfig) { c.logger = logger }
}

// Subscriber

type subscriberConfig struct {
	filter     filter.Filter
	bufferSize int
	logger     logs.Logger
}

type SubscriberOption func(*subscriberConfig)

// WithSubscriberFilter is applied to the change feed itself.
func WithSubscriberFilter(f filter.Filter) SubscriberOption {
	return func(c *subscriberConfig) { c.filter = filter.And(c.filter, f) }
}

// WithBufferSize sets each subscription's mailbox capacity.
func WithBufferSize(n int) SubscriberOption {
	return func(c *subscriberConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func WithSubscriberLogger(logger logs.Logger) SubscriberOption {
	return func(c *subscriberConfig) { c.logger = logger }
}

type subscriptionConfig struct {
	filter filter.Filter
}

type SubscriptionOption func(*subscriptionConfig)

// WithLocalFilter is evaluated in process for one subscription.
func WithLocalFilter(f filter.Filter) SubscriptionOption {
	return func(c *subscriptionConfig) { c.filter = filter.And(c.filter, f) }
}
