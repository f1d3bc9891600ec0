package mq

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/events"
	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/common/timer"
	"github.com/JulianoL13/doc-queue/internal/common/workerpool"
	"github.com/JulianoL13/doc-queue/internal/store"
)

// Handler processes one claimed message. Returning nil without calling
// Delivery.Retry acknowledges the message.
type Handler func(ctx context.Context, msg *store.Message, d *Delivery) error

// Delivery describes the current claim of a message.
type Delivery struct {
	retries int

	mu      sync.Mutex
	retried bool
	delay   time.Duration
}

// Retries is the number of earlier claims of this message by the group.
func (d *Delivery) Retries() int {
	return d.retries
}

// Retry skips acknowledgment. A positive delay hides the message for that long
// instead of the visibility timeout, as long as retries remain.
func (d *Delivery) Retry(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retried = true
	d.delay = delay
}

func (d *Delivery) retry() (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retried, d.delay
}

// Consumer claims messages for one group and runs a handler on each. Delivery
// is at least once per group; competing consumers rely on the store's atomic
// claim.
type Consumer struct {
	coll    store.Collection
	handler Handler
	cfg     consumerConfig
	logger  logs.Logger

	nextTimer *timer.Timer
	seekTimer *timer.Timer
	pool      *workerpool.Pool
	seeking   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	pending     int
	minID       string
	started     bool
	closed      bool
	stopWatch   func() bool
	drainWaits  []chan struct{}
	onCloseFunc []func()

	onError      events.Listeners[ErrorFunc]
	onDeadLetter events.Listeners[DeadLetterFunc]
	onDrained    events.Listeners[DrainedFunc]
}

func NewConsumer(coll store.Collection, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig(coll.Name())
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}

	pool, err := workerpool.New(cfg.concurrency, workerpool.WithNonblocking())
	if err != nil {
		return nil, fmt.Errorf("consumer pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		coll:    coll,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "consumer", "group", cfg.group),
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		minID:   store.IDFromTime(time.Now().Add(-cfg.maxVisibility)),
	}
	c.nextTimer = timer.New(c.next)
	c.seekTimer = timer.New(c.seek)
	return c, nil
}

func (c *Consumer) Group() string {
	return c.cfg.group
}

func (c *Consumer) OnError(fn ErrorFunc)           { c.onError.Add(fn) }
func (c *Consumer) OnDeadLetter(fn DeadLetterFunc) { c.onDeadLetter.Add(fn) }
func (c *Consumer) OnDrained(fn DrainedFunc)       { c.onDrained.Add(fn) }

// Start seeks the low-water id and begins polling. Cancelling ctx closes the
// consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrConsumerStarted
	}
	c.started = true
	c.stopWatch = context.AfterFunc(ctx, func() { _ = c.Close() })
	c.mu.Unlock()

	c.seek()
	c.next()
	return nil
}

// Hide extends the visibility deadline of a claimed message by d from now.
func (c *Consumer) Hide(ctx context.Context, id string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.storeTimeout)
	defer cancel()

	_, err := c.coll.UpdateOne(ctx, id,
		store.Condition{Group: c.cfg.group, Unacked: true},
		store.Update{Group: c.cfg.group, SetVisibleAt: time.Now().Add(d).UnixMilli()},
	)
	if err != nil {
		return fmt.Errorf("hide %s: %w", id, err)
	}
	return nil
}

// Drain waits until a poll finds no claimable message. It does not stop the
// consumer.
func (c *Consumer) Drain(ctx context.Context, timeout time.Duration) error {
	ch := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerClosed
	}
	c.drainWaits = append(c.drainWaits, ch)
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	var err error
	select {
	case <-ch:
		return nil
	case <-t.C:
		err = ErrDrainTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	c.drainWaits = slices.DeleteFunc(c.drainWaits, func(w chan struct{}) bool { return w == ch })
	c.mu.Unlock()
	return err
}

// Close stops polling and waits for in-flight handlers. It is idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.nextTimer.Clear()
	c.seekTimer.Clear()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	hooks := c.onCloseFunc
	c.mu.Unlock()

	c.pool.Stop()
	c.seeking.Wait()
	c.cancel()

	for _, fn := range hooks {
		fn()
	}
	c.logger.Debug("consumer closed")
	return nil
}

func (c *Consumer) onClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCloseFunc = append(c.onCloseFunc, fn)
}

// next starts one claim attempt if concurrency allows.
func (c *Consumer) next() {
	c.mu.Lock()
	if c.closed || c.pending >= c.cfg.concurrency {
		c.mu.Unlock()
		return
	}
	c.pending++

	if c.pending < c.cfg.concurrency {
		c.nextTimer.Set(0, c.cfg.fastPollInterval)
	}

	err := c.pool.Submit(c.ctx, c.attempt)
	if err != nil {
		c.pending--
		if errors.Is(err, workerpool.ErrPoolOverload) {
			// a worker is still returning to the pool
			c.nextTimer.Set(0, c.cfg.fastPollInterval)
		}
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, workerpool.ErrPoolOverload) && !errors.Is(err, workerpool.ErrPoolStopped) {
		c.emitError(fmt.Errorf("submit attempt: %w", err), nil)
	}
}

func (c *Consumer) attempt(ctx context.Context) {
	c.process(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if !c.closed && !c.nextTimer.IsSet() {
		c.nextTimer.Set(c.cfg.pollInterval, c.cfg.pollInterval*3/2)
	}
}

func (c *Consumer) process(ctx context.Context) {
	msg, err := c.claim(ctx)
	if err != nil {
		c.emitError(err, nil)
		return
	}
	if msg == nil {
		c.emitDrained()
		return
	}

	d := &Delivery{retries: msg.Consumption(c.cfg.group).Retries}
	exhausted := d.retries >= c.cfg.maxRetries

	if err := c.invoke(ctx, msg, d); err != nil {
		c.emitError(err, msg)
		if exhausted {
			c.emitDeadLetter(err, msg)
		}
		return
	}

	if retried, delay := d.retry(); retried {
		switch {
		case exhausted:
			c.emitDeadLetter(ErrRetriesExhausted, msg)
		case delay > 0:
			if err := c.Hide(ctx, msg.ID, delay); err != nil {
				c.emitError(err, msg)
			}
		}
		return
	}

	if err := c.ack(ctx, msg.ID); err != nil {
		c.emitError(err, msg)
		return
	}

	c.mu.Lock()
	if !c.closed {
		c.nextTimer.Set(0, c.cfg.fastPollInterval)
	}
	c.mu.Unlock()
}

func (c *Consumer) claim(ctx context.Context) (*store.Message, error) {
	now := time.Now()

	c.mu.Lock()
	cond := store.Condition{
		Filter:    c.cfg.filter,
		MinID:     c.minID,
		Group:     c.cfg.group,
		Unacked:   true,
		Claimable: &store.Claimable{Now: now.UnixMilli(), MaxRetries: c.cfg.maxRetries},
	}
	c.mu.Unlock()

	if c.cfg.visibilityDelay > 0 {
		cond.MaxID = store.IDFromTime(now.Add(-c.cfg.visibilityDelay))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.storeTimeout)
	defer cancel()

	msg, err := c.coll.FindOneAndUpdate(ctx, cond, store.Update{
		Group:        c.cfg.group,
		SetVisibleAt: now.Add(c.cfg.visibilityTimeout).UnixMilli(),
		IncRetries:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return msg, nil
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.storeTimeout)
	defer cancel()

	_, err := c.coll.UpdateOne(ctx, id,
		store.Condition{Group: c.cfg.group},
		store.Update{Group: c.cfg.group, SetAckedAt: time.Now().UnixMilli()},
	)
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (c *Consumer) invoke(ctx context.Context, msg *store.Message, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return c.handler(ctx, msg, d)
}

// seek moves the low-water id to the oldest message the group may still
// consume, or close to now when there is none.
func (c *Consumer) seek() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seeking.Add(1)
	minID := c.minID
	c.mu.Unlock()
	defer c.seeking.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.storeTimeout)
	defer cancel()

	maxRetries := c.cfg.maxRetries
	msg, err := c.coll.FindOne(ctx, store.Condition{
		Filter:        c.cfg.filter,
		MinID:         minID,
		Group:         c.cfg.group,
		Unacked:       true,
		RetriesAtMost: &maxRetries,
	}, store.FindOptions{PreferReplica: true})

	if err != nil {
		c.emitError(fmt.Errorf("seek: %w", err), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err != nil:
	case msg != nil:
		c.minID = msg.ID
	default:
		c.minID = store.IDFromTime(time.Now().Add(-2 * c.cfg.visibilityTimeout))
	}

	if !c.closed {
		c.seekTimer.Set(2*c.cfg.visibilityTimeout, 4*c.cfg.visibilityTimeout)
	}
}

func (c *Consumer) emitError(err error, msg *store.Message) {
	if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	heard := c.onError.Emit(func(fn ErrorFunc) { fn(err, msg, c.cfg.group) })
	if !heard {
		c.logger.Error("consumer error", "error", err, "id", messageID(msg))
	}
}

func (c *Consumer) emitDeadLetter(err error, msg *store.Message) {
	heard := c.onDeadLetter.Emit(func(fn DeadLetterFunc) { fn(err, msg, c.cfg.group) })
	if !heard {
		c.logger.Warn("message dead-lettered", "error", err, "id", msg.ID)
	}
}

func (c *Consumer) emitDrained() {
	c.mu.Lock()
	waits := c.drainWaits
	c.drainWaits = nil
	c.mu.Unlock()

	for _, ch := range waits {
		close(ch)
	}
	c.onDrained.Emit(func(fn DrainedFunc) { fn(c.cfg.group) })
}
