package mq

import "errors"

var (
	ErrPublisherClosed      = errors.New("publisher closed")
	ErrBatchPublisherClosed = errors.New("batch publisher closed")
	ErrSubscriberClosed     = errors.New("subscriber closed")
	ErrConsumerClosed       = errors.New("consumer closed")
	ErrConsumerStarted      = errors.New("consumer already started")
	ErrQueueClosed          = errors.New("message queue closed")
	ErrDrainTimeout         = errors.New("drain timed out")
	ErrRetriesExhausted     = errors.New("retries exhausted")
	ErrSubscriptionOverflow = errors.New("subscription buffer full, message dropped")
	ErrHandlerPanic         = errors.New("handler panicked")
)
