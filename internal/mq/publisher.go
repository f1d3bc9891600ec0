package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/store"
)

// Publisher appends single messages with a durable write.
type Publisher struct {
	coll        store.Collection
	isDuplicate func(error) bool
	logger      logs.Logger

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func NewPublisher(coll store.Collection, opts ...PublisherOption) *Publisher {
	cfg := publisherConfig{isDuplicate: store.IsDuplicate}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}

	return &Publisher{
		coll:        coll,
		isDuplicate: cfg.isDuplicate,
		logger:      cfg.logger.With("component", "publisher", "collection", coll.Name()),
	}
}

// Publish stores body and returns its id. A unique-key conflict returns an
// empty id and no error.
func (p *Publisher) Publish(ctx context.Context, body map[string]any) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPublisherClosed
	}
	p.inFlight.Add(1)
	p.mu.Unlock()
	defer p.inFlight.Done()

	id, err := p.coll.InsertOne(ctx, body, store.WriteOptions{Durable: true})
	if err != nil {
		if p.isDuplicate(err) {
			p.logger.Debug("duplicate message ignored", "error", err)
			return "", nil
		}
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

// Close rejects further publishes and waits for in-flight ones.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.inFlight.Wait()
	return nil
}
