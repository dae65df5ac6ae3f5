package queue

import "errors"

var (
	// ErrQueueClosed is returned for operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter id is unknown.
	ErrItemNotFound = errors.New("item not found")
)
