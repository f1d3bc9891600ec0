package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/common/events"
	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/store"
)

const defaultBufferSize = 256

// Subscriber shares one change feed among its subscriptions. Delivery is at
// most once and covers messages inserted after the feed opened.
type Subscriber struct {
	coll   store.Collection
	cfg    subscriberConfig
	logger logs.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	onError events.Listeners[ErrorFunc]
}

func NewSubscriber(coll store.Collection, opts ...SubscriberOption) *Subscriber {
	cfg := subscriberConfig{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}

	return &Subscriber{
		coll:   coll,
		cfg:    cfg,
		logger: cfg.logger.With("component", "subscriber", "collection", coll.Name()),
		subs:   make(map[*Subscription]struct{}),
	}
}

func (s *Subscriber) OnError(fn ErrorFunc) { s.onError.Add(fn) }

// Subscribe registers fn for future inserts. The feed opens on the first call.
func (s *Subscriber) Subscribe(fn SubscriptionHandler, opts ...SubscriptionOption) (*Subscription, error) {
	cfg := subscriptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSubscriberClosed
	}

	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		feed, err := s.coll.Watch(ctx, s.cfg.filter)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.broadcast(ctx, feed, s.done)
	}

	sub := newSubscription(s, fn, cfg.filter, s.cfg.bufferSize)
	s.subs[sub] = struct{}{}
	return sub, nil
}

// Subscriptions returns the number of open subscriptions.
func (s *Subscriber) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Subscriber) broadcast(ctx context.Context, feed <-chan *store.Message, done chan struct{}) {
	defer close(done)

	for msg := range feed {
		s.mu.Lock()
		subs := make([]*Subscription, 0, len(s.subs))
		for sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()

		for _, sub := range subs {
			sub.deliver(msg)
		}
	}

	if ctx.Err() == nil {
		s.logger.Error("change feed ended unexpectedly")
	}
}

// Close stops the feed and closes every subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (s *Subscriber) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *Subscriber) emitError(err error, msg *store.Message) bool {
	return s.onError.Emit(func(fn ErrorFunc) { fn(err, msg, "") })
}
