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
	"github.com/JulianoL13/doc-queue/internal/heartbeat"
	"github.com/JulianoL13/doc-queue/internal/mq"
	storeredis "github.com/JulianoL13/doc-queue/internal/store/redis"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPass := getEnv("REDIS_PASSWORD", "")
	redisDB := getEnvInt("REDIS_DB", 0)
	prefix := getEnv("QUEUE_PREFIX", "mq")
	collection := getEnv("QUEUE_COLLECTION", "input")
	source := getEnv("HEARTBEAT_SOURCE", mustHostname())
	interval := getEnvDuration("HEARTBEAT_INTERVAL", heartbeat.DefaultInterval)
	burst := getEnvInt("HEARTBEAT_BURST", 1)
	batchSize := getEnvInt("BATCH_MAX_SIZE", 100)
	batchDelay := getEnvDuration("BATCH_DELAY", 100*time.Millisecond)

	logger := slog.NewJSON(logslog.LevelInfo)

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

	coll := storeredis.New(redisClient, collection,
		storeredis.WithPrefix(prefix),
		storeredis.WithLogger(logger),
	)
	queue := mq.New(coll,
		mq.WithQueueLogger(logger),
		mq.WithBatchOptions(mq.WithMaxBatchSize(batchSize), mq.WithBatchDelay(batchDelay)),
	)
	defer queue.Close()

	uc := heartbeat.NewPublishHeartbeatsUseCase(queue, logger, source, interval, burst)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down...")
		cancel()
	}()

	if err := uc.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
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

func mustHostname() string {
	h, _ := os.Hostname()
	return h
}
