package store

import (
	"encoding/json"
	"fmt"
	"maps"
)

// MetaNamespace prefixes persisted consumption fields: _c.<group>.v|r|a.
const MetaNamespace = "_c"

type Message struct {
	ID     string
	Body   map[string]any
	Groups map[string]Consumption
}

// Consumption is the per-group state of a message. Zero fields are absent.
type Consumption struct {
	VisibleAt int64 // epoch ms
	Retries   int
	AckedAt   int64 // epoch ms
}

func (m *Message) Consumption(group string) Consumption {
	if m == nil || m.Groups == nil {
		return Consumption{}
	}
	return m.Groups[group]
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:     m.ID,
		Body:   maps.Clone(m.Body),
		Groups: maps.Clone(m.Groups),
	}
}

// Apply mutates the consumption state of upd.Group in place.
func (m *Message) Apply(upd Update) {
	if upd.Group == "" {
		return
	}
	if m.Groups == nil {
		m.Groups = make(map[string]Consumption)
	}
	c := m.Groups[upd.Group]
	if upd.SetVisibleAt != 0 {
		c.VisibleAt = upd.SetVisibleAt
	}
	if upd.IncRetries != 0 {
		c.Retries += upd.IncRetries
	}
	if upd.SetAckedAt != 0 {
		c.AckedAt = upd.SetAckedAt
	}
	m.Groups[upd.Group] = c
}

type Update struct {
	Group        string
	SetVisibleAt int64
	IncRetries   int
	SetAckedAt   int64
}

// Document is a body waiting to be inserted. A document that already carries
// an ID keeps it, so writing it a second time fails with ErrDuplicateKey.
type Document struct {
	ID   string
	Body map[string]any
}

// NewDocument assigns body its id up front.
func NewDocument(body map[string]any) Document {
	return Document{ID: NewID(), Body: body}
}

// EncodeBody returns the stored form of body. Bodies that cannot be encoded
// (NaN, channels, cycles) fail with ErrInvalidBody.
func EncodeBody(body map[string]any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return raw, nil
}
