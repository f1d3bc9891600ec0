// Package events holds per-instance typed listener lists used in place of a
// global dispatcher.
package events

import "sync"

type Listeners[F any] struct {
	mu  sync.RWMutex
	fns []F
}

func (l *Listeners[F]) Add(fn F) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *Listeners[F]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Emit calls invoke once per registered listener and reports whether anyone
// was listening.
func (l *Listeners[F]) Emit(invoke func(F)) bool {
	l.mu.RLock()
	fns := make([]F, len(l.fns))
	copy(fns, l.fns)
	l.mu.RUnlock()

	for _, fn := range fns {
		invoke(fn)
	}
	return len(fns) > 0
}
