package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/utils"
)

// Action names for audit events.
const (
	ActionCredentialAdded   = "credential.added"
	ActionCredentialRotated = "credential.rotated"
	ActionCredentialRevoked = "credential.revoked"
	ActionPolicyUpdated     = "policy.updated"
	ActionProviderFailed    = "execute.provider_failed"
	ActionExecuteFailed     = "execute.all_providers_failed"
	ActionAccessDenied      = "access.denied"
)

// Event is one audit record. It carries identifiers only; key material,
// masked or not, never appears here.
type Event struct {
	Timestamp    time.Time         `json:"timestamp"`
	TenantID     uuid.UUID         `json:"tenant_id"`
	Action       string            `json:"action"`
	CredentialID *uuid.UUID        `json:"credential_id,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Detail       map[string]string `json:"detail,omitempty"`
}

// Sink receives audit events from the rest of the service.
type Sink interface {
	Enqueue(event *Event) error
}

// NoopSink discards events. Used when auditing is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(event *Event) error {
	return nil
}

// BatchWriter persists a batch of events somewhere durable.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []*Event) (string, error)
}

// BufferedSink accumulates events in memory and flushes them to a
// BatchWriter when the batch fills or the flush interval elapses.
// Enqueue never blocks the request path; if the buffer is full the
// event is dropped and counted.
type BufferedSink struct {
	writer        BatchWriter
	logger        *utils.Logger
	batchSize     int
	flushInterval time.Duration

	eventCh chan *Event
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// BufferedSinkConfig configures a BufferedSink.
type BufferedSinkConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// NewBufferedSink creates and starts a buffered sink.
func NewBufferedSink(writer BatchWriter, cfg BufferedSinkConfig) *BufferedSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	s := &BufferedSink{
		writer:        writer,
		logger:        utils.NewLogger("audit-sink"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		eventCh:       make(chan *Event, cfg.BufferSize),
		stopCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Enqueue adds an event to the buffer. It never blocks.
func (s *BufferedSink) Enqueue(event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case s.eventCh <- event:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n%1000 == 1 {
			s.logger.Warn("Audit buffer full, dropping events", "dropped_total", n)
		}
	}
	return nil
}

// Dropped returns how many events were discarded due to a full buffer.
func (s *BufferedSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes pending events and stops the background worker.
func (s *BufferedSink) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *BufferedSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		key, err := s.writer.WriteBatch(ctx, batch)
		cancel()
		if err != nil {
			s.logger.Error("Failed to flush audit batch", "error", err, "count", len(batch))
		} else {
			s.logger.Debug("Flushed audit batch", "key", key, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-s.eventCh:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			// drain whatever is still queued
			for {
				select {
				case event := <-s.eventCh:
					batch = append(batch, event)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
