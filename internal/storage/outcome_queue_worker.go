package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vault_router/internal/models"
	"vault_router/internal/queue"
	"vault_router/internal/utils"
)

// OutcomeQueueWorker drains routed-attempt outcomes from a queue and
// folds them into the performance_records table in batches. The table
// lags the in-memory ledger; the worker only needs to not lose records.
type OutcomeQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	repo        *LedgerRepository
	config      *queue.Config
	alpha       float64
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewOutcomeQueueWorker creates a new outcome queue worker
func NewOutcomeQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, repo *LedgerRepository, config *queue.Config, alpha float64) *OutcomeQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("outcomes")
	}

	return &OutcomeQueueWorker{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		config:      config,
		alpha:       alpha,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *OutcomeQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *OutcomeQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds an outcome to the queue
func (w *OutcomeQueueWorker) Enqueue(ctx context.Context, outcome *models.Outcome) error {
	return w.queue.Enqueue(ctx, outcome)
}

// run is the main worker loop
func (w *OutcomeQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("outcome-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Outcome worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Outcome worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch drains and applies one batch of outcomes
func (w *OutcomeQueueWorker) processBatch(ctx context.Context, logger *utils.Logger) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue outcomes", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(items) == 0 {
		return
	}

	logger.Debug("Processing outcome batch", "count", len(items))

	for _, item := range items {
		var outcome models.Outcome
		if err := w.unmarshalItem(item, &outcome); err != nil {
			logger.Error("Failed to unmarshal outcome", "error", err)
			continue
		}

		if err := w.applyWithRetry(ctx, &outcome, logger); err != nil {
			logger.Error("Failed to apply outcome, moving to DLQ", "error", err,
				"provider", outcome.ProviderID, "model", outcome.Model)
			if w.dlq != nil {
				if dlqErr := w.dlq.Add(ctx, &outcome, err); dlqErr != nil {
					logger.Error("Failed to add outcome to DLQ", "error", dlqErr)
				}
			}
		}
	}
}

// applyWithRetry applies a single outcome with exponential backoff
func (w *OutcomeQueueWorker) applyWithRetry(ctx context.Context, outcome *models.Outcome, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying outcome", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.repo.ApplyOutcome(ctx, outcome, w.alpha); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return fmt.Errorf("outcome apply exhausted retries: %w", lastErr)
}

// unmarshalItem converts a queue item back into an outcome. Memory
// queues hand back the original value; Redis queues hand back JSON.
func (w *OutcomeQueueWorker) unmarshalItem(item any, outcome *models.Outcome) error {
	switch v := item.(type) {
	case *models.Outcome:
		*outcome = *v
		return nil
	case json.RawMessage:
		return json.Unmarshal(v, outcome)
	case []byte:
		return json.Unmarshal(v, outcome)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("unsupported queue item type %T: %w", item, err)
		}
		return json.Unmarshal(data, outcome)
	}
}
