package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/common/events"
	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/common/timer"
	"github.com/JulianoL13/doc-queue/internal/store"
)

// BatchPublisher buffers messages and writes them in bulk after a delay.
// Publish never waits for the store.
type BatchPublisher struct {
	coll   store.Collection
	cfg    batchConfig
	logger logs.Logger
	timer  *timer.Timer

	mu     sync.Mutex
	queue  []store.Document
	closed bool

	flushMu sync.Mutex

	onError events.Listeners[ErrorFunc]
}

func NewBatchPublisher(coll store.Collection, opts ...BatchOption) *BatchPublisher {
	cfg := defaultBatchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}

	b := &BatchPublisher{
		coll:   coll,
		cfg:    cfg,
		logger: cfg.logger.With("component", "batch_publisher", "collection", coll.Name()),
	}
	b.timer = timer.New(b.flush)
	return b
}

func (b *BatchPublisher) OnError(fn ErrorFunc) { b.onError.Add(fn) }

// Publish queues body for the next flush. The message id is fixed here, so a
// retried batch never stores a message twice. Bodies that cannot be encoded
// fail with store.ErrInvalidBody.
//
// After Close, best-effort publishers return ErrBatchPublisherClosed and
// others drop the message; see DESIGN.md for why this order was kept.
func (b *BatchPublisher) Publish(body map[string]any) error {
	if _, err := store.EncodeBody(body); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	doc := store.NewDocument(body)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		if b.cfg.bestEffort {
			return ErrBatchPublisherClosed
		}
		return nil
	}

	b.queue = append(b.queue, doc)
	if !b.timer.IsSet() {
		b.timer.Set(b.cfg.delay, b.cfg.delay)
	}
	return nil
}

// Pending returns the number of queued, unwritten messages.
func (b *BatchPublisher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops the flush timer. Best-effort publishers attempt one last flush;
// whatever is still queued afterwards is discarded.
func (b *BatchPublisher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.timer.Clear()
	b.mu.Unlock()

	b.flush()

	b.mu.Lock()
	if n := len(b.queue); n > 0 {
		b.logger.Warn("discarding unwritten messages on close", "count", n)
	}
	b.queue = nil
	b.mu.Unlock()
	return nil
}

func (b *BatchPublisher) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 || (b.closed && !b.cfg.bestEffort) {
			b.mu.Unlock()
			return
		}
		n := min(len(b.queue), b.cfg.maxBatchSize)
		chunk := make([]store.Document, n)
		copy(chunk, b.queue)
		b.queue = b.queue[n:]
		b.mu.Unlock()

		if retry, err := b.write(chunk); err != nil {
			b.fail(retry, err)
			return
		}

		b.mu.Lock()
		remaining := len(b.queue)
		if remaining < b.cfg.maxBatchSize {
			if remaining > 0 && !b.closed && !b.timer.IsSet() {
				b.timer.Set(b.cfg.delay, b.cfg.delay)
			}
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

// write inserts chunk and returns the documents worth another attempt.
// Duplicates count as written: they are either unique-index conflicts or
// documents stored by an earlier attempt.
func (b *BatchPublisher) write(chunk []store.Document) ([]store.Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.writeTimeout)
	defer cancel()

	_, err := b.coll.InsertMany(ctx, chunk, b.cfg.write())
	if err == nil {
		return nil, nil
	}
	if b.cfg.isDuplicate(err) {
		b.logger.Debug("duplicates skipped in batch", "error", err)
		return nil, nil
	}

	var bulk *store.BulkWriteError
	if !errors.As(err, &bulk) {
		return b.encodable(chunk), err
	}

	retry := make([]store.Document, 0, len(bulk.Errors))
	for i, doc := range chunk {
		itemErr, failed := bulk.Errors[i]
		if !failed || b.cfg.isDuplicate(itemErr) {
			continue
		}
		if errors.Is(itemErr, store.ErrInvalidBody) {
			b.logger.Warn("dropping message that cannot be stored", "id", doc.ID, "error", itemErr)
			continue
		}
		retry = append(retry, doc)
	}
	retry = b.encodable(retry)
	if len(retry) == 0 {
		return nil, nil
	}
	return retry, err
}

// encodable drops documents whose body was changed after Publish into
// something that can no longer be stored.
func (b *BatchPublisher) encodable(docs []store.Document) []store.Document {
	out := docs[:0:0]
	for _, doc := range docs {
		if _, err := store.EncodeBody(doc.Body); err != nil {
			b.logger.Warn("dropping message that cannot be stored", "id", doc.ID, "error", err)
			continue
		}
		out = append(out, doc)
	}
	return out
}

func (b *BatchPublisher) fail(chunk []store.Document, err error) {
	if !b.cfg.bestEffort {
		b.mu.Lock()
		dropped := len(chunk) + len(b.queue)
		b.queue = nil
		b.mu.Unlock()
		b.logger.Debug("batch write failed, messages dropped", "error", err, "dropped", dropped)
		return
	}

	b.mu.Lock()
	b.queue = append(chunk, b.queue...)
	if !b.closed {
		b.timer.Set(b.cfg.delay, b.cfg.delay)
	}
	b.mu.Unlock()

	heard := b.onError.Emit(func(fn ErrorFunc) { fn(err, nil, "") })
	if !heard {
		b.logger.Error("batch write failed", "error", err, "requeued", len(chunk))
	}
}
