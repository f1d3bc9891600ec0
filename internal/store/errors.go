package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrNotTimeOrdered = errors.New("id is not time ordered")
	ErrInvalidBody    = errors.New("body cannot be encoded")
)

// BulkWriteError reports per-item failures of an unordered InsertMany.
type BulkWriteError struct {
	Inserted int
	Errors   map[int]error
}

func (e *BulkWriteError) Error() string {
	idx := make([]int, 0, len(e.Errors))
	for i := range e.Errors {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, e.Errors[i]))
	}
	return fmt.Sprintf("bulk write: %d inserted, %d failed (%s)", e.Inserted, len(e.Errors), strings.Join(parts, "; "))
}

// Is matches ErrDuplicateKey only when every failed item was a duplicate.
func (e *BulkWriteError) Is(target error) bool {
	if target != ErrDuplicateKey || len(e.Errors) == 0 {
		return false
	}
	for _, err := range e.Errors {
		if !errors.Is(err, ErrDuplicateKey) {
			return false
		}
	}
	return true
}

// IsDuplicate is the default duplicate-key predicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
