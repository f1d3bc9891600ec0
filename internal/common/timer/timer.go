// Package timer provides a cancelable one-shot delayed callback whose delay is
// drawn uniformly from a [min, max) window each time it is armed.
package timer

import (
	"math/rand/v2"
	"sync"
	"time"
)

type Timer struct {
	fn func()

	mu    sync.Mutex
	t     *time.Timer
	armed bool
	gen   uint64
}

func New(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Set arms the timer, replacing any pending firing. With max <= min the delay
// is exactly min.
func (t *Timer) Set(min, max time.Duration) {
	delay := Jitter(min, max)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.t = time.AfterFunc(delay, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.t = nil
	t.mu.Unlock()

	t.fn()
}

func (t *Timer) IsSet() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	t.armed = false
}

// Jitter returns a duration in [min, max).
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}
