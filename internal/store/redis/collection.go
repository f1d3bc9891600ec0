// Package redis stores queue collections in Redis.
//
// Layout under <prefix>:{<collection>}:
//
//	doc:<id>       hash: body (JSON) plus _c.<group>.v|r|a consumption fields
//	ids            sorted set of ids, all scored 0 and scanned by lex range
//	uniq:<field>   hash from encoded field value to id
//	feed           stream of inserts, read by Watch
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	logslog "log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/common/logs/slog"
	"github.com/JulianoL13/doc-queue/internal/store"
	"github.com/redis/go-redis/v9"
)

type Collection struct {
	client  redis.UniversalClient
	replica redis.UniversalClient
	name    string
	prefix  string
	unique  []string

	replicas       int
	replicaTimeout time.Duration
	feedMaxLen     int64
	feedBlock      time.Duration
	scanPage       int64
	logger         logs.Logger
}

func New(client redis.UniversalClient, name string, opts ...Option) *Collection {
	c := &Collection{
		client:         client,
		name:           name,
		prefix:         defaultPrefix,
		replicaTimeout: time.Second,
		feedMaxLen:     defaultFeedLen,
		feedBlock:      defaultFeedBlock,
		scanPage:       defaultScanPage,
		logger:         slog.New(logslog.LevelInfo),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("collection", name)
	return c
}

func (c *Collection) Name() string { return c.name }

// Keys share a hash tag so scripts stay on one cluster slot.
func (c *Collection) base() string {
	return fmt.Sprintf("%s:{%s}", c.prefix, c.name)
}

func (c *Collection) docKey(id string) string {
	return c.base() + ":doc:" + id
}

func (c *Collection) idsKey() string {
	return c.base() + ":ids"
}

func (c *Collection) feedKey() string {
	return c.base() + ":feed"
}

func (c *Collection) uniqKey(field string) string {
	return c.base() + ":uniq:" + field
}

func (c *Collection) InsertOne(ctx context.Context, body map[string]any, opts store.WriteOptions) (string, error) {
	id := store.NewID()
	keys, args, err := c.insertArgs(id, body)
	if err != nil {
		return "", err
	}

	if err := insertScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return "", fmt.Errorf("insert %s: %w", c.name, mapError(err))
	}

	if err := c.waitDurable(ctx, opts); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Collection) InsertMany(ctx context.Context, docs []store.Document, opts store.WriteOptions) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	failed := make(map[int]error)
	ids := make([]string, len(docs))
	cmds := make([]*redis.Cmd, len(docs))

	pipe := c.client.Pipeline()
	for i, doc := range docs {
		ids[i] = doc.ID
		if ids[i] == "" {
			ids[i] = store.NewID()
		}
		keys, args, err := c.insertArgs(ids[i], doc.Body)
		if err != nil {
			failed[i] = err
			continue
		}
		cmds[i] = insertScript.Eval(ctx, pipe, keys, args...)
	}

	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("insert many %s: %w", c.name, err)
	}

	inserted := make([]string, 0, len(docs))
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if err := cmd.Err(); err != nil {
			failed[i] = mapError(err)
			continue
		}
		inserted = append(inserted, ids[i])
	}

	// Every item failing the same way is a transport error, not a bulk result.
	if len(failed) > 0 && len(inserted) == 0 && !allDuplicates(failed) {
		return nil, fmt.Errorf("insert many %s: %w", c.name, firstError(failed))
	}

	// Duplicates may be earlier writes of the same documents whose
	// acknowledgment was never seen, so they are waited for as well.
	if err := c.waitDurable(ctx, opts); err != nil {
		return inserted, err
	}
	if len(failed) > 0 {
		return inserted, &store.BulkWriteError{Inserted: len(inserted), Errors: failed}
	}
	return inserted, nil
}

func (c *Collection) insertArgs(id string, body map[string]any) ([]string, []any, error) {
	raw, err := store.EncodeBody(body)
	if err != nil {
		return nil, nil, err
	}

	keys := []string{c.docKey(id), c.idsKey(), c.feedKey()}
	args := []any{id, string(raw), c.feedMaxLen}
	for _, field := range c.unique {
		keys = append(keys, c.uniqKey(field))
		v, ok := body[field]
		if !ok {
			args = append(args, "")
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s: %w", field, err)
		}
		args = append(args, string(enc))
	}
	return keys, args, nil
}

func (c *Collection) waitDurable(ctx context.Context, opts store.WriteOptions) error {
	if !opts.Durable || c.replicas <= 0 {
		return nil
	}

	acked, err := c.client.Wait(ctx, c.replicas, c.replicaTimeout).Result()
	if err != nil {
		return fmt.Errorf("wait replicas: %w", err)
	}
	if acked < int64(c.replicas) {
		return fmt.Errorf("wait replicas: %d of %d: %w", acked, c.replicas, ErrReplicaTimeout)
	}
	return nil
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, cond store.Condition, upd store.Update) (*store.Message, error) {
	var claimed *store.Message

	err := c.scan(ctx, c.client, cond, func(msg *store.Message) (bool, error) {
		before, err := c.apply(ctx, msg.ID, cond, upd)
		if err != nil {
			return false, err
		}
		if before == nil {
			return true, nil
		}
		claimed = before
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find one and update %s: %w", c.name, err)
	}
	return claimed, nil
}

func (c *Collection) UpdateOne(ctx context.Context, id string, cond store.Condition, upd store.Update) (bool, error) {
	fields, err := c.client.HGetAll(ctx, c.docKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("update %s: %w", id, err)
	}
	if len(fields) == 0 {
		return false, nil
	}

	msg, err := decode(id, fields)
	if err != nil {
		return false, err
	}
	if !cond.Matches(msg) {
		return false, nil
	}

	before, err := c.apply(ctx, id, cond, upd)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", id, err)
	}
	return before != nil, nil
}

func (c *Collection) apply(ctx context.Context, id string, cond store.Condition, upd store.Update) (*store.Message, error) {
	claimable, now, maxRetries := "0", int64(0), 0
	if cond.Claimable != nil {
		claimable, now, maxRetries = "1", cond.Claimable.Now, cond.Claimable.MaxRetries
	}
	most := -1
	if cond.RetriesAtMost != nil {
		most = *cond.RetriesAtMost
	}
	group := upd.Group
	if group == "" {
		group = cond.Group
	}

	res, err := updateScript.Run(ctx, c.client, []string{c.docKey(id)},
		group, boolArg(cond.Unacked), claimable, now, maxRetries, most,
		upd.SetVisibleAt, upd.IncRetries, upd.SetAckedAt,
	).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decode(id, fields)
}

func (c *Collection) FindOne(ctx context.Context, cond store.Condition, opts store.FindOptions) (*store.Message, error) {
	client := c.client
	if opts.PreferReplica && c.replica != nil {
		client = c.replica
	}

	var found *store.Message
	err := c.scan(ctx, client, cond, func(msg *store.Message) (bool, error) {
		found = msg
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", c.name, err)
	}
	return found, nil
}

// scan visits messages matching cond in id order until visit returns false.
func (c *Collection) scan(ctx context.Context, client redis.UniversalClient, cond store.Condition, visit func(*store.Message) (bool, error)) error {
	lower := "-"
	if cond.MinID != "" {
		lower = "[" + cond.MinID
	}
	upper := "+"
	if cond.MaxID != "" {
		upper = "(" + cond.MaxID
	}

	for {
		ids, err := client.ZRangeByLex(ctx, c.idsKey(), &redis.ZRangeBy{
			Min:   lower,
			Max:   upper,
			Count: c.scanPage,
		}).Result()
		if err != nil {
			return fmt.Errorf("zrangebylex: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		pipe := client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, c.docKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("load page: %w", err)
		}

		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			msg, err := decode(ids[i], fields)
			if err != nil {
				c.logger.Warn("skipping undecodable document", "id", ids[i], "error", err)
				continue
			}
			if !cond.Matches(msg) {
				continue
			}
			more, err := visit(msg)
			if err != nil || !more {
				return err
			}
		}

		if int64(len(ids)) < c.scanPage {
			return nil
		}
		lower = "(" + ids[len(ids)-1]
	}
}

func decode(id string, fields map[string]string) (*store.Message, error) {
	msg := &store.Message{ID: id}
	if raw, ok := fields["body"]; ok {
		if err := json.Unmarshal([]byte(raw), &msg.Body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
	}
	if msg.Body == nil {
		msg.Body = map[string]any{}
	}

	for field, value := range fields {
		rest, ok := strings.CutPrefix(field, store.MetaNamespace+".")
		if !ok {
			continue
		}
		dot := strings.LastIndexByte(rest, '.')
		if dot <= 0 {
			continue
		}
		group, attr := rest[:dot], rest[dot+1:]

		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", id, field, err)
		}
		if msg.Groups == nil {
			msg.Groups = make(map[string]store.Consumption)
		}
		cons := msg.Groups[group]
		switch attr {
		case "v":
			cons.VisibleAt = n
		case "r":
			cons.Retries = int(n)
		case "a":
			cons.AckedAt = n
		}
		msg.Groups[group] = cons
	}
	return msg, nil
}

func mapError(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "DUPLICATE") {
		return fmt.Errorf("%s: %w", err.Error(), store.ErrDuplicateKey)
	}
	return err
}

func allDuplicates(errs map[int]error) bool {
	for _, err := range errs {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return false
		}
	}
	return true
}

func firstError(errs map[int]error) error {
	first := -1
	for i := range errs {
		if first < 0 || i < first {
			first = i
		}
	}
	return errs[first]
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ store.Collection = (*Collection)(nil)
