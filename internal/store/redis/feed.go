package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/store"
	"github.com/redis/go-redis/v9"
)

const feedRetryDelay = time.Second

// Watch tails the insert stream from its current end. Read errors are logged
// and retried; the channel closes once ctx is done.
func (c *Collection) Watch(ctx context.Context, f filter.Filter) (<-chan *store.Message, error) {
	last, err := c.feedTail(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", c.name, err)
	}

	messages := make(chan *store.Message)

	go func() {
		defer close(messages)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			result, err := c.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{c.feedKey(), last},
				Count:   100,
				Block:   c.feedBlock,
			}).Result()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				c.logger.Warn("feed read failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(feedRetryDelay):
				}
				continue
			}

			for _, stream := range result {
				for _, entry := range stream.Messages {
					last = entry.ID

					msg, ok := c.decodeEntry(entry)
					if !ok || !f.Match(msg.ID, msg.Body) {
						continue
					}

					select {
					case <-ctx.Done():
						return
					case messages <- msg:
					}
				}
			}
		}
	}()

	return messages, nil
}

func (c *Collection) feedTail(ctx context.Context) (string, error) {
	entries, err := c.client.XRevRangeN(ctx, c.feedKey(), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("xrevrange: %w", err)
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}

func (c *Collection) decodeEntry(entry redis.XMessage) (*store.Message, bool) {
	id, ok := entry.Values["id"].(string)
	if !ok {
		return nil, false
	}
	raw, ok := entry.Values["body"].(string)
	if !ok {
		return nil, false
	}

	msg := &store.Message{ID: id}
	if err := json.Unmarshal([]byte(raw), &msg.Body); err != nil {
		c.logger.Warn("skipping undecodable feed entry", "entry", entry.ID, "error", err)
		return nil, false
	}
	if msg.Body == nil {
		msg.Body = map[string]any{}
	}
	return msg, true
}
