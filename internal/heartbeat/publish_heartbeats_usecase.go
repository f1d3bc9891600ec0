package heartbeat

import (
	"context"
	"time"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type BatchPublisher interface {
	PublishBatched(body map[string]any) error
}

const (
	DefaultType     = "heartbeat"
	DefaultInterval = time.Second
)

// PublishHeartbeatsUseCase emits a burst of heartbeat messages on every tick.
type PublishHeartbeatsUseCase struct {
	publisher BatchPublisher
	logger    Logger
	source    string
	interval  time.Duration
	burst     int
	seq       int64
	now       func() time.Time
}

func NewPublishHeartbeatsUseCase(
	publisher BatchPublisher,
	logger Logger,
	source string,
	interval time.Duration,
	burst int,
) *PublishHeartbeatsUseCase {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if burst <= 0 {
		burst = 1
	}
	return &PublishHeartbeatsUseCase{
		publisher: publisher,
		logger:    logger,
		source:    source,
		interval:  interval,
		burst:     burst,
		now:       time.Now,
	}
}

func (uc *PublishHeartbeatsUseCase) Execute(ctx context.Context) error {
	uc.logger.Info("starting heartbeats", "source", uc.source, "interval", uc.interval, "burst", uc.burst)

	uc.runCycle()

	ticker := time.NewTicker(uc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("heartbeats stopped", "published", uc.seq)
			return ctx.Err()
		case <-ticker.C:
			uc.runCycle()
		}
	}
}

func (uc *PublishHeartbeatsUseCase) runCycle() {
	at := uc.now().UnixMilli()

	for i := 0; i < uc.burst; i++ {
		uc.seq++
		err := uc.publisher.PublishBatched(map[string]any{
			"type":   DefaultType,
			"source": uc.source,
			"seq":    uc.seq,
			"at":     at,
		})
		if err != nil {
			uc.logger.Warn("failed to queue heartbeat", "seq", uc.seq, "error", err)
			return
		}
	}
}
