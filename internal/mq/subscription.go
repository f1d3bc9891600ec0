package mq

import (
	"context"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/common/events"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/store"
)

type SubscriptionHandler func(ctx context.Context, msg *store.Message) error

// Subscription runs its handler on one goroutine, in feed order. Its mailbox
// holds WithBufferSize messages (256 by default); when a slow handler lets it
// fill, further messages for this subscription are dropped with
// ErrSubscriptionOverflow while other subscriptions keep receiving.
type Subscription struct {
	owner   *Subscriber
	handler SubscriptionHandler
	filter  filter.Filter

	ctx     context.Context
	cancel  context.CancelFunc
	mailbox chan *store.Message
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	onError events.Listeners[ErrorFunc]
}

func newSubscription(owner *Subscriber, fn SubscriptionHandler, f filter.Filter, size int) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		owner:   owner,
		handler: fn,
		filter:  f,
		ctx:     ctx,
		cancel:  cancel,
		mailbox: make(chan *store.Message, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Subscription) OnError(fn ErrorFunc) { s.onError.Add(fn) }

// Done is closed once the subscription or its subscriber is closed.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Subscription) deliver(msg *store.Message) {
	if !s.filter.Match(msg.ID, msg.Body) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.mailbox <- msg.Clone():
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.emitError(ErrSubscriptionOverflow, msg)
	}
}

func (s *Subscription) run() {
	defer close(s.done)

	for msg := range s.mailbox {
		if s.ctx.Err() != nil {
			continue
		}
		if err := s.invoke(msg); err != nil {
			s.emitError(err, msg)
		}
	}
}

func (s *Subscription) invoke(msg *store.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return s.handler(s.ctx, msg)
}

// Close waits for the running handler, drops queued messages and detaches
// from the subscriber. It is idempotent.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	close(s.mailbox)
	s.mu.Unlock()

	<-s.done
	s.owner.remove(s)
	return nil
}

func (s *Subscription) emitError(err error, msg *store.Message) {
	local := s.onError.Emit(func(fn ErrorFunc) { fn(err, msg, "") })
	shared := s.owner.emitError(err, msg)
	if !local && !shared {
		s.owner.logger.Error("subscription error", "error", err, "id", messageID(msg))
	}
}
