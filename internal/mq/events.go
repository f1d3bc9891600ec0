package mq

import (
	"fmt"

	"github.com/JulianoL13/doc-queue/internal/store"
)

// ErrorFunc observes failures. msg is nil when the failure is not tied to a
// stored message; group is empty outside consumers.
type ErrorFunc func(err error, msg *store.Message, group string)

// DeadLetterFunc observes messages whose retry budget ran out.
type DeadLetterFunc func(err error, msg *store.Message, group string)

// DrainedFunc observes a poll that found nothing to claim.
type DrainedFunc func(group string)

func messageID(msg *store.Message) string {
	if msg == nil {
		return ""
	}
	return msg.ID
}

func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrHandlerPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrHandlerPanic, r)
}
