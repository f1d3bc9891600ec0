package main

import (
	"context"
	"errors"
	logslog "log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs/slog"
	"github.com/JulianoL13/doc-queue/internal/mq"
	"github.com/JulianoL13/doc-queue/internal/store"
	storeredis "github.com/JulianoL13/doc-queue/internal/store/redis"
	"github.com/JulianoL13/doc-queue/internal/worker"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPass := getEnv("REDIS_PASSWORD", "")
	redisDB := getEnvInt("REDIS_DB", 0)
	prefix := getEnv("QUEUE_PREFIX", "mq")
	input := getEnv("QUEUE_INPUT", "input")
	output := getEnv("QUEUE_OUTPUT", "output")
	group := getEnv("CONSUMER_GROUP", worker.DefaultGroup)
	concurrency := getEnvInt("CONSUMER_CONCURRENCY", 1)
	maxRetries := getEnvInt("CONSUMER_MAX_RETRIES", 3)
	visibility := getEnvDuration("CONSUMER_VISIBILITY_TIMEOUT", 30*time.Second)
	pollInterval := getEnvDuration("CONSUMER_POLL_INTERVAL", time.Second)
	retryDelay := getEnvDuration("CONSUMER_RETRY_DELAY", worker.DefaultRetryDelay)

	logger := slog.NewJSON(logslog.LevelInfo).With("group", group)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPass,
		DB:       redisDB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	inputColl := storeredis.New(redisClient, input,
		storeredis.WithPrefix(prefix),
		storeredis.WithLogger(logger),
	)
	outputColl := storeredis.New(redisClient, output,
		storeredis.WithPrefix(prefix),
		storeredis.WithUniqueIndex(worker.SourceIDField),
		storeredis.WithLogger(logger),
	)

	queue := mq.New(inputColl,
		mq.WithQueueLogger(logger),
		mq.WithConsumerDefaults(
			mq.WithConcurrency(concurrency),
			mq.WithMaxRetries(maxRetries),
			mq.WithVisibilityTimeout(visibility),
			mq.WithPollInterval(pollInterval),
		),
	)
	defer queue.Close()

	queue.OnDeadLetter(func(err error, msg *store.Message, group string) {
		logger.Warn("message dead-lettered", "id", msg.ID, "error", err)
	})

	sink := mq.NewPublisher(outputColl, mq.WithPublisherLogger(logger))
	defer sink.Close()

	uc := worker.NewProcessMessagesUseCase(queue, sink, worker.DefaultProcessor{}, logger, group, retryDelay)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down...")
		cancel()
	}()

	if err := uc.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("usecase error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
