// Package worker runs the automated review lane: goroutines that claim
// queue entries flagged for automatic processing and hand them to a
// JobHandler, plus the cron scheduler for the queue's periodic tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
)

// failTimeout bounds the write that records a failed review. It runs even
// after the worker's context is canceled.
const failTimeout = 10 * time.Second

// errIdle reports that no entry was ready.
var errIdle = errors.New("no queue entry ready")

// Queue is the part of the validation queue the worker drives.
type Queue interface {
	ClaimNext(ctx context.Context, reviewerID string, automatedOnly bool) (*domain.QueueEntry, error)
	Fail(ctx context.Context, id uuid.UUID, reason string, permanent bool) (*domain.QueueEntry, error)
	RecoverStale(ctx context.Context, reviewerID string, threshold time.Duration) (int, error)
}

// Worker manages automated reviews with concurrent goroutines.
type Worker struct {
	queue   Queue
	handler JobHandler
	config  Config
	logger  *slog.Logger

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(queue Queue, handler JobHandler, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("a job handler is required")
	}

	return &Worker{
		queue:   queue,
		handler: handler,
		config:  config,
		logger:  logger.With("component", "worker", "job_type", handler.Type()),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins processing with the configured number of concurrent workers.
// It first recovers entries a previous process abandoned mid-review.
func (w *Worker) Start(ctx context.Context) {
	if err := w.RecoverStale(ctx); err != nil {
		w.logger.Error("Failed to recover stale entries", "error", err)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "reviewer_id", w.config.ReviewerID)
}

// Stop signals all workers to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some reviews may still be running")
	}
}

// RecoverStale fails entries this worker's reviewer has held in progress
// longer than StaleJobThreshold. The scheduler also runs it periodically.
func (w *Worker) RecoverStale(ctx context.Context) error {
	count, err := w.queue.RecoverStale(ctx, w.config.ReviewerID, w.config.StaleJobThreshold)
	if err != nil {
		return fmt.Errorf("recover stale entries: %w", err)
	}
	if count > 0 {
		w.logger.Warn("Recovered stale entries", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

// runWorker is the main loop for a worker goroutine. On each tick it keeps
// claiming entries until the queue has nothing ready.
func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("Worker started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Worker stopping")
			return
		case <-ctx.Done():
			logger.Debug("Worker context done")
			return
		case <-ticker.C:
			w.drain(ctx, logger)
		}
	}
}

func (w *Worker) drain(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		err := w.processNextJob(ctx, logger)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errIdle):
			return
		default:
			logger.Error("Failed to process queue entry", "error", err)
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, errReviewFailed) {
				// The queue itself is failing; wait for the next tick.
				return
			}
		}
	}
}

// errReviewFailed marks a handler failure that was recorded on the entry.
var errReviewFailed = errors.New("review failed")

// processNextJob claims and reviews a single entry.
// Returns errIdle if no entry is ready.
func (w *Worker) processNextJob(ctx context.Context, logger *slog.Logger) error {
	entry, err := w.queue.ClaimNext(ctx, w.config.ReviewerID, true)
	if err != nil {
		return fmt.Errorf("claim next entry: %w", err)
	}
	if entry == nil {
		return errIdle
	}

	logger = logger.With("entry_id", entry.ID, "product_id", entry.ProductID, "attempt", entry.Attempts+1)
	logger.Info("Processing queue entry")

	start := time.Now()
	if err := w.executeJob(ctx, entry); err != nil {
		logger.Error("Review failed", "error", err)
		w.markJobFailed(ctx, entry, err, logger)
		return fmt.Errorf("%w: %v", errReviewFailed, err)
	}

	metrics.JobCompleted(w.handler.Type(), time.Since(start))
	logger.Info("Queue entry reviewed", "duration", time.Since(start))
	return nil
}

// executeJob runs the handler with a timeout context. A panicking handler
// fails the entry permanently instead of killing the worker.
func (w *Worker) executeJob(ctx context.Context, entry *domain.QueueEntry) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return w.handler.Handle(jobCtx, entry)
}

// markJobFailed records the failure on the entry.
// Permanent errors expire it; others reschedule it with backoff until
// max attempts is reached.
func (w *Worker) markJobFailed(ctx context.Context, entry *domain.QueueEntry, jobErr error, logger *slog.Logger) {
	permanent := IsPermanent(jobErr)
	if permanent {
		logger.Warn("Review failed with permanent error, will not retry", "error", jobErr)
	}

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()

	failed, err := w.queue.Fail(failCtx, entry.ID, jobErr.Error(), permanent)
	if err != nil {
		metrics.JobFailed(w.handler.Type())
		logger.Error("Failed to record review failure", "error", err)
		return
	}
	if failed.Status == domain.QueueStatusPending {
		metrics.JobRetried(w.handler.Type())
		return
	}
	metrics.JobFailed(w.handler.Type())
}
