package main

import (
	"context"
	"fmt"
	"log"
	logslog "log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs/slog"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/mq"
	mqhttp "github.com/JulianoL13/doc-queue/internal/mq/http"
	storeredis "github.com/JulianoL13/doc-queue/internal/store/redis"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	APIPort          string
	RedisAddr        string
	RedisPass        string
	RedisDB          int
	RedisReplicaAddr string
	Replicas         int
	ReplicaTimeout   time.Duration
	Prefix           string
	Collection       string
	UniqueFields     []string
	QueueFilter      string
	BatchSize        int
	BatchDelay       time.Duration
}

func loadConfig() Config {
	_ = godotenv.Load()

	return Config{
		APIPort:          getEnv("API_PORT", "8080"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisReplicaAddr: getEnv("REDIS_REPLICA_ADDR", ""),
		Replicas:         getEnvInt("REDIS_WAIT_REPLICAS", 0),
		ReplicaTimeout:   getEnvDuration("REDIS_WAIT_TIMEOUT", time.Second),
		Prefix:           getEnv("QUEUE_PREFIX", "mq"),
		Collection:       getEnv("QUEUE_COLLECTION", "input"),
		UniqueFields:     splitList(getEnv("QUEUE_UNIQUE_FIELDS", "")),
		QueueFilter:      getEnv("QUEUE_FILTER", ""),
		BatchSize:        getEnvInt("BATCH_MAX_SIZE", 100),
		BatchDelay:       getEnvDuration("BATCH_DELAY", 100*time.Millisecond),
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	cfg := loadConfig()

	logger := slog.New(logslog.LevelInfo)
	logger.Info("starting doc-queue API", "port", cfg.APIPort, "collection", cfg.Collection)

	queueFilter, err := filter.Compile(cfg.QueueFilter)
	if err != nil {
		logger.Error("invalid queue filter", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	opts := []storeredis.Option{
		storeredis.WithPrefix(cfg.Prefix),
		storeredis.WithDurability(cfg.Replicas, cfg.ReplicaTimeout),
		storeredis.WithLogger(logger),
	}
	for _, field := range cfg.UniqueFields {
		opts = append(opts, storeredis.WithUniqueIndex(field))
	}
	if cfg.RedisReplicaAddr != "" {
		replica := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisReplicaAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		defer replica.Close()
		opts = append(opts, storeredis.WithReplicaClient(replica))
	}

	coll := storeredis.New(redisClient, cfg.Collection, opts...)
	queue := mq.New(coll,
		mq.WithQueueLogger(logger),
		mq.WithQueueFilter(queueFilter),
		mq.WithBatchOptions(mq.WithMaxBatchSize(cfg.BatchSize), mq.WithBatchDelay(cfg.BatchDelay)),
	)

	handler := mqhttp.NewHandler(queue, logger)
	router := mqhttp.NewRouter(handler, logger)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Streams only end when their subscription closes.
	if err := queue.Close(); err != nil {
		logger.Error("queue close error", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	fmt.Println("server stopped")
}
