package store

import "github.com/JulianoL13/doc-queue/internal/filter"

// Condition selects messages. Empty fields do not constrain.
type Condition struct {
	Filter filter.Filter

	// MinID is inclusive, MaxID exclusive.
	MinID string
	MaxID string

	// Group scopes Unacked, Claimable and RetriesAtMost.
	Group   string
	Unacked bool

	Claimable     *Claimable
	RetriesAtMost *int
}

// Claimable matches messages never claimed by the group, or whose visibility
// deadline passed before Now while the retry budget is still open.
type Claimable struct {
	Now        int64
	MaxRetries int
}

// InRange reports whether id lies in [MinID, MaxID).
func (c Condition) InRange(id string) bool {
	if c.MinID != "" && id < c.MinID {
		return false
	}
	if c.MaxID != "" && id >= c.MaxID {
		return false
	}
	return true
}

// MatchesMeta evaluates only the consumption part of the condition.
func (c Condition) MatchesMeta(cons Consumption) bool {
	if c.Unacked && cons.AckedAt != 0 {
		return false
	}
	if c.RetriesAtMost != nil && cons.Retries > *c.RetriesAtMost {
		return false
	}
	if c.Claimable != nil && cons.VisibleAt != 0 {
		if cons.VisibleAt >= c.Claimable.Now || cons.Retries > c.Claimable.MaxRetries {
			return false
		}
	}
	return true
}

func (c Condition) Matches(m *Message) bool {
	if m == nil || !c.InRange(m.ID) {
		return false
	}
	if !c.MatchesMeta(m.Consumption(c.Group)) {
		return false
	}
	return c.Filter.Match(m.ID, m.Body)
}

// ByID restricts a condition to a single message.
func ByID(id string) Condition {
	return Condition{MinID: id, MaxID: id + "\x00"}
}
