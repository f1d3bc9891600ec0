package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string. Lexicographic order follows creation time at
// millisecond precision. Like uuid.New, it panics if the random source fails.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IDFromTime returns the lowest id that can be generated during t's millisecond.
func IDFromTime(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%08x-%04x-7000-8000-000000000000", uint64(ms)>>16, uint64(ms)&0xffff)
}

// IDTime extracts the creation time encoded in a UUIDv7 id.
func IDTime(id string) (time.Time, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id: %w", err)
	}
	if u.Version() != 7 {
		return time.Time{}, fmt.Errorf("parse id %s: %w", id, ErrNotTimeOrdered)
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
