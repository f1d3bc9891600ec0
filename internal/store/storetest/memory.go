// Package storetest provides an in-memory store.Collection for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/store"
)

// Memory is a store.Collection kept in process. Bodies are normalized through
// JSON so they look like documents read back from a real backend.
type Memory struct {
	name   string
	unique []string

	mu       sync.Mutex
	docs     map[string]*store.Message
	uniq     map[string]map[string]string
	watchers map[*watcher]struct{}

	insertManyCalls int
	insertManyErrs  []error
	lateErrs        []error
	claimErrs       []error
	writes          []store.WriteOptions
}

func New(name string, uniqueFields ...string) *Memory {
	return &Memory{
		name:     name,
		unique:   uniqueFields,
		docs:     make(map[string]*store.Message),
		uniq:     make(map[string]map[string]string),
		watchers: make(map[*watcher]struct{}),
	}
}

func (m *Memory) Name() string { return m.name }

// FailInsertMany makes the next InsertMany calls fail, one error per call.
func (m *Memory) FailInsertMany(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertManyErrs = append(m.insertManyErrs, errs...)
}

// FailInsertManyAfterWrite makes the next InsertMany calls store their
// documents and then fail, as a timed out pipeline would.
func (m *Memory) FailInsertManyAfterWrite(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lateErrs = append(m.lateErrs, errs...)
}

// FailClaims makes the next FindOneAndUpdate calls fail, one error per call.
func (m *Memory) FailClaims(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimErrs = append(m.claimErrs, errs...)
}

func (m *Memory) InsertManyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertManyCalls
}

// Writes returns the write options of every insert call, in order.
func (m *Memory) Writes() []store.WriteOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.WriteOptions(nil), m.writes...)
}

func (m *Memory) InsertOne(ctx context.Context, body map[string]any, opts store.WriteOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, opts)
	return m.insertLocked(store.NewID(), body)
}

// InsertWithID stores body under an explicit id, e.g. one built with
// store.IDFromTime to simulate an old message.
func (m *Memory) InsertWithID(id string, body map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.insertLocked(id, body)
	return err
}

func (m *Memory) InsertMany(ctx context.Context, docs []store.Document, opts store.WriteOptions) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertManyCalls++
	m.writes = append(m.writes, opts)
	if len(m.insertManyErrs) > 0 {
		err := m.insertManyErrs[0]
		m.insertManyErrs = m.insertManyErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(docs))
	var failed map[int]error
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = store.NewID()
		}
		id, err := m.insertLocked(id, doc.Body)
		if err != nil {
			if failed == nil {
				failed = make(map[int]error)
			}
			failed[i] = err
			continue
		}
		ids = append(ids, id)
	}
	if len(m.lateErrs) > 0 {
		err := m.lateErrs[0]
		m.lateErrs = m.lateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if failed != nil {
		return ids, &store.BulkWriteError{Inserted: len(ids), Errors: failed}
	}
	return ids, nil
}

func (m *Memory) insertLocked(id string, body map[string]any) (string, error) {
	doc, err := normalize(body)
	if err != nil {
		return "", err
	}
	if _, ok := m.docs[id]; ok {
		return "", fmt.Errorf("insert %s: %w", id, store.ErrDuplicateKey)
	}

	for _, field := range m.unique {
		v, ok := doc[field]
		if !ok {
			continue
		}
		if _, taken := m.uniq[field][fmt.Sprint(v)]; taken {
			return "", fmt.Errorf("insert %s=%v: %w", field, v, store.ErrDuplicateKey)
		}
	}
	for _, field := range m.unique {
		if v, ok := doc[field]; ok {
			if m.uniq[field] == nil {
				m.uniq[field] = make(map[string]string)
			}
			m.uniq[field][fmt.Sprint(v)] = id
		}
	}

	msg := &store.Message{ID: id, Body: doc}
	m.docs[id] = msg

	for w := range m.watchers {
		if w.filter.Match(msg.ID, msg.Body) {
			w.push(msg.Clone())
		}
	}
	return id, nil
}

func (m *Memory) FindOneAndUpdate(ctx context.Context, cond store.Condition, upd store.Update) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.claimErrs) > 0 {
		err := m.claimErrs[0]
		m.claimErrs = m.claimErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	msg := m.firstLocked(cond)
	if msg == nil {
		return nil, nil
	}
	before := msg.Clone()
	msg.Apply(upd)
	return before, nil
}

func (m *Memory) UpdateOne(ctx context.Context, id string, cond store.Condition, upd store.Update) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.docs[id]
	if !ok || !cond.Matches(msg) {
		return false, nil
	}
	msg.Apply(upd)
	return true, nil
}

func (m *Memory) FindOne(ctx context.Context, cond store.Condition, _ store.FindOptions) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstLocked(cond).Clone(), nil
}

func (m *Memory) firstLocked(cond store.Condition) *store.Message {
	var best *store.Message
	for _, msg := range m.docs {
		if best != nil && msg.ID >= best.ID {
			continue
		}
		if cond.Matches(msg) {
			best = msg
		}
	}
	return best
}

// Get returns a copy of the stored message.
func (m *Memory) Get(id string) *store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Clone()
}

// All returns copies of every message in id order.
func (m *Memory) All() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*store.Message, 0, len(m.docs))
	for _, msg := range m.docs {
		out = append(out, msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Bodies returns the stored bodies in id order.
func (m *Memory) Bodies() []map[string]any {
	all := m.All()
	out := make([]map[string]any, len(all))
	for i, msg := range all {
		out[i] = msg.Body
	}
	return out
}

func (m *Memory) Watch(ctx context.Context, f filter.Filter) (<-chan *store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &watcher{filter: f, notify: make(chan struct{}, 1)}
	out := make(chan *store.Message)

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()

		for {
			for _, msg := range w.take() {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Watchers returns the number of open feeds.
func (m *Memory) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

type watcher struct {
	filter filter.Filter
	notify chan struct{}

	mu    sync.Mutex
	queue []*store.Message
}

func (w *watcher) push(msg *store.Message) {
	w.mu.Lock()
	w.queue = append(w.queue, msg)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) take() []*store.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	q := w.queue
	w.queue = nil
	return q
}

func normalize(body map[string]any) (map[string]any, error) {
	raw, err := store.EncodeBody(body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

var _ store.Collection = (*Memory)(nil)
