// Package queue carries attempt outcomes from the request path to the
// worker that persists them. Two backends share one contract: an
// in-memory channel queue for single-process deployments, and a Redis
// list queue that survives restarts and supports multiple workers.
// Items the worker cannot apply after bounded retries land in a dead
// letter queue for later inspection.
package queue

import (
	"context"
	"time"
)

// Queue hands batches of items to a consumer. Enqueue must be safe to
// call from the request path.
type Queue interface {
	Enqueue(ctx context.Context, item any) error

	// DequeueWithTimeout returns up to maxItems, waiting at most
	// timeout for the first one. An empty slice means the timeout
	// elapsed with nothing queued.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]any, error)

	// Length reports how many items are waiting.
	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items the consumer gave up on, together with
// the error that parked them.
type DeadLetterQueue interface {
	Add(ctx context.Context, item any, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is one parked item.
type DeadLetterItem struct {
	ID        string
	Item      any
	Error     string
	Timestamp time.Time
	Retries   int
}

// Config sizes the batching and retry behavior and selects the backend.
type Config struct {
	// BatchSize caps how many items a consumer takes per drain.
	BatchSize int

	// BatchTimeout is how long a drain waits for its first item.
	BatchTimeout time.Duration

	// MaxRetries bounds apply attempts before an item is parked.
	MaxRetries int

	// RetryBackoff is the initial backoff between apply attempts.
	RetryBackoff time.Duration

	UseRedis      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueName namespaces the backend keys.
	QueueName string
}

// DefaultConfig returns the batching defaults with the in-memory
// backend selected.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
