package redis

import (
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "mq"
	defaultScanPage  = 100
	defaultFeedLen   = 10000
	defaultFeedBlock = time.Second
)

type Option func(*Collection)

func WithPrefix(prefix string) Option {
	return func(c *Collection) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithUniqueIndex rejects inserts whose field value is already stored.
func WithUniqueIndex(field string) Option {
	return func(c *Collection) {
		c.unique = append(c.unique, field)
	}
}

// WithReplicaClient serves FindOne calls that prefer a replica.
func WithReplicaClient(replica redis.UniversalClient) Option {
	return func(c *Collection) {
		c.replica = replica
	}
}

// WithDurability makes durable writes wait for n replicas.
func WithDurability(replicas int, timeout time.Duration) Option {
	return func(c *Collection) {
		c.replicas = replicas
		c.replicaTimeout = timeout
	}
}

// WithFeedMaxLen caps the change feed stream; zero keeps every entry.
func WithFeedMaxLen(n int64) Option {
	return func(c *Collection) {
		c.feedMaxLen = n
	}
}

func WithFeedBlock(d time.Duration) Option {
	return func(c *Collection) {
		if d > 0 {
			c.feedBlock = d
		}
	}
}

func WithScanPage(n int64) Option {
	return func(c *Collection) {
		if n > 0 {
			c.scanPage = n
		}
	}
}

func WithLogger(logger logs.Logger) Option {
	return func(c *Collection) {
		if logger != nil {
			c.logger = logger
		}
	}
}
