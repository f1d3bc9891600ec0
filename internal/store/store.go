// Package store defines the document collection contract the queue runs on.
package store

import (
	"context"

	"github.com/JulianoL13/doc-queue/internal/filter"
)

// Collection is a set of messages keyed by time-ordered ids. Every update is
// atomic per document; that is the only mutual exclusion the queue relies on.
type Collection interface {
	Name() string

	// InsertOne returns ErrDuplicateKey when a unique index rejects the body
	// and ErrInvalidBody when it cannot be encoded.
	InsertOne(ctx context.Context, body map[string]any, opts WriteOptions) (string, error)

	// InsertMany is unordered: every document is attempted. Documents without
	// an ID get a fresh one. Item failures are reported through
	// *BulkWriteError, with successful ids still returned.
	InsertMany(ctx context.Context, docs []Document, opts WriteOptions) ([]string, error)

	// FindOneAndUpdate applies upd to the oldest message matching cond and
	// returns it as it was before the update. It returns nil, nil when nothing
	// matches. At most one concurrent caller observes a given match.
	FindOneAndUpdate(ctx context.Context, cond Condition, upd Update) (*Message, error)

	// UpdateOne applies upd to id if it still matches cond.
	UpdateOne(ctx context.Context, id string, cond Condition, upd Update) (bool, error)

	// FindOne returns the oldest message matching cond, or nil.
	FindOne(ctx context.Context, cond Condition, opts FindOptions) (*Message, error)

	// Watch delivers messages inserted after the call that match f, in commit
	// order. The channel is closed once ctx is done.
	Watch(ctx context.Context, f filter.Filter) (<-chan *Message, error)
}

type WriteOptions struct {
	// Durable waits for replica acknowledgment.
	Durable bool
}

type FindOptions struct {
	PreferReplica bool
}
