package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JulianoL13/doc-queue/internal/mq"
	"github.com/JulianoL13/doc-queue/internal/store"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type Source interface {
	Consume(ctx context.Context, fn mq.Handler, opts ...mq.ConsumerOption) (*mq.Consumer, error)
}

type Sink interface {
	Publish(ctx context.Context, body map[string]any) (string, error)
}

type Processor interface {
	Process(ctx context.Context, body map[string]any) (map[string]any, error)
}

// SourceIDField links an output message to the input it came from. Give the
// output collection a unique index on it so redeliveries publish once.
const SourceIDField = "source_id"

const (
	DefaultGroup      = "workers"
	DefaultRetryDelay = time.Second
)

type ProcessMessagesUseCase struct {
	source     Source
	sink       Sink
	processor  Processor
	logger     Logger
	group      string
	retryDelay time.Duration
	opts       []mq.ConsumerOption

	processed  atomic.Int64
	duplicates atomic.Int64
}

func NewProcessMessagesUseCase(
	source Source,
	sink Sink,
	processor Processor,
	logger Logger,
	group string,
	retryDelay time.Duration,
	opts ...mq.ConsumerOption,
) *ProcessMessagesUseCase {
	if group == "" {
		group = DefaultGroup
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &ProcessMessagesUseCase{
		source:     source,
		sink:       sink,
		processor:  processor,
		logger:     logger,
		group:      group,
		retryDelay: retryDelay,
		opts:       opts,
	}
}

// Execute consumes until ctx is done.
func (uc *ProcessMessagesUseCase) Execute(ctx context.Context) error {
	uc.logger.Info("starting worker", "group", uc.group)

	opts := append([]mq.ConsumerOption{mq.WithGroup(uc.group)}, uc.opts...)
	consumer, err := uc.source.Consume(ctx, uc.Handle, opts...)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	<-ctx.Done()
	consumer.Close()

	uc.logger.Info("worker stopped", "processed", uc.processed.Load(), "duplicates", uc.duplicates.Load())
	return ctx.Err()
}

func (uc *ProcessMessagesUseCase) Handle(ctx context.Context, msg *store.Message, d *mq.Delivery) error {
	out, err := uc.processor.Process(ctx, msg.Body)
	if err != nil {
		if errors.Is(err, ErrRetryLater) {
			delay := uc.retryDelay * time.Duration(d.Retries()+1)
			uc.logger.Debug("retrying message", "id", msg.ID, "delay", delay)
			d.Retry(delay)
			return nil
		}
		return fmt.Errorf("process %s: %w", msg.ID, err)
	}

	out[SourceIDField] = msg.ID
	id, err := uc.sink.Publish(ctx, out)
	if err != nil {
		return fmt.Errorf("publish result of %s: %w", msg.ID, err)
	}

	if id == "" {
		uc.duplicates.Add(1)
		uc.logger.Debug("result already published", "id", msg.ID)
		return nil
	}

	current := uc.processed.Add(1)
	if current%100 == 0 {
		uc.logger.Info("progress", "processed", current)
	}
	return nil
}

func (uc *ProcessMessagesUseCase) Processed() int64 {
	return uc.processed.Load()
}
