package mq_test

import (
	"sync"

	"github.com/JulianoL13/doc-queue/internal/store"
)

type recorder struct {
	mu          sync.Mutex
	errors      []error
	deadLetters []error
	drained     int
	handled     map[string]int
	order       []any
}

func newRecorder() *recorder {
	return &recorder{handled: make(map[string]int)}
}

func (r *recorder) onError(err error, _ *store.Message, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) onDeadLetter(err error, _ *store.Message, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append(r.deadLetters, err)
}

func (r *recorder) onDrained(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drained++
}

func (r *recorder) handle(msg *store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled[msg.ID]++
	r.order = append(r.order, msg.Body["value"])
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *recorder) deadLetterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deadLetters)
}

func (r *recorder) handledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.handled {
		n += c
	}
	return n
}

func (r *recorder) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.order...)
}

func (r *recorder) firstError() error {
	return r.errorAt(0)
}

func (r *recorder) errorAt(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.errors) {
		return nil
	}
	return r.errors[i]
}

func (r *recorder) firstDeadLetter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deadLetters) == 0 {
		return nil
	}
	return r.deadLetters[0]
}
