package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/events"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/repository"
)

// SystemActor identifies transitions made by the service itself.
const SystemActor = "system"

// sweepBatch bounds how many entries one sweep or recovery pass touches.
const sweepBatch = 100

// =============================================================================
// Interface Definition
// =============================================================================

// QueueService schedules validation requests and applies reviewer decisions.
type QueueService interface {
	// Enqueue opens a validation for a product and queues it.
	Enqueue(ctx context.Context, params domain.EnqueueParams) (*domain.QueueEntry, error)

	// Get retrieves a queue entry by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)

	// List returns a page of entries in scheduling order.
	List(ctx context.Context, params domain.ListQueueParams) (*domain.ListQueueResult, error)

	// Assign hands a pending entry to a reviewer. Of concurrent callers
	// exactly one wins; the others get AlreadyAssigned.
	Assign(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.QueueEntry, error)

	// ClaimNext assigns the head of the queue to reviewerID. Returns nil
	// when no entry is ready.
	ClaimNext(ctx context.Context, reviewerID string, automatedOnly bool) (*domain.QueueEntry, error)

	// Start marks an assigned entry as in progress.
	Start(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)

	// Complete resolves the validation and moves the product accordingly.
	Complete(ctx context.Context, id uuid.UUID, result domain.ValidationResult) (*domain.QueueEntry, error)

	// Fail records a failed attempt and schedules a retry or expires the
	// entry.
	Fail(ctx context.Context, id uuid.UUID, reason string, permanent bool) (*domain.QueueEntry, error)

	// Cancel withdraws an active entry and rejects its validation.
	Cancel(ctx context.Context, id uuid.UUID, reason, actorID string) (*domain.QueueEntry, error)

	// Sweep promotes due retries and expires overdue entries.
	Sweep(ctx context.Context) (domain.SweepResult, error)

	// RecoverStale fails entries reviewerID has held in progress for
	// longer than threshold.
	RecoverStale(ctx context.Context, reviewerID string, threshold time.Duration) (int, error)

	// DeadLetter lists expired entries.
	DeadLetter(ctx context.Context, page, limit int32) (*domain.ListQueueResult, error)

	// Requeue opens a fresh entry for the still pending validation of an
	// expired one.
	Requeue(ctx context.Context, id uuid.UUID, actorID string) (*domain.QueueEntry, error)

	// History returns the audit trail of an entry, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]domain.QueueHistoryEntry, error)

	// Metrics summarises the queue.
	Metrics(ctx context.Context) (*domain.QueueMetrics, error)

	// Evidence loads what an automated review needs for an entry.
	Evidence(ctx context.Context, id uuid.UUID) (*ReviewEvidence, error)
}

// ReviewEvidence is the input of an automated review.
type ReviewEvidence struct {
	Entry   *domain.QueueEntry
	Product *domain.Product
	Report  *domain.LabReport // nil when the validation has no lab report
}

// QueueConfig configures the queue service.
type QueueConfig struct {
	Retry domain.RetryPolicy
}

// =============================================================================
// Implementation
// =============================================================================

type queueService struct {
	store  repository.Store
	events events.Sink
	cfg    QueueConfig
	logger *slog.Logger
	now    Clock
}

// NewQueueService creates a new QueueService. A nil sink discards events.
func NewQueueService(store repository.Store, sink events.Sink, cfg QueueConfig, logger *slog.Logger, now Clock) QueueService {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = domain.DefaultRetryPolicy()
	}
	return &queueService{
		store:  store,
		events: sink,
		cfg:    cfg,
		logger: logger,
		now:    clockOrDefault(now),
	}
}

// Enqueue locks the product, opens a PENDING validation and queues it.
func (s *queueService) Enqueue(ctx context.Context, params domain.EnqueueParams) (*domain.QueueEntry, error) {
	const op = "QueueService.Enqueue"

	priority := params.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if _, err := domain.ParsePriority(string(priority)); err != nil {
		return nil, domain.NewValidationError(op, "priority", err.Error())
	}

	var entry *domain.QueueEntry
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()

		prow, err := q.GetProductForUpdate(ctx, params.ProductID)
		if err != nil {
			return notFoundOr(op, err, "product", params.ProductID)
		}
		p := productFromRow(prow)

		if _, err := q.GetActiveQueueEntryByProduct(ctx, p.ID); err == nil {
			return domain.AlreadyQueued(op, p.ID.String())
		} else if !repository.IsNotFound(err) {
			return err
		}
		if _, err := q.GetPendingValidationByProduct(ctx, p.ID); err == nil {
			return domain.AlreadyQueued(op, p.ID.String())
		} else if !repository.IsNotFound(err) {
			return err
		}

		if err := p.TransitionTo(domain.ProductStatusInValidation, domain.TransitionInput{}, now); err != nil {
			return err
		}

		reportID, err := s.resolveReport(ctx, q, op, p.ID, params.ReportID)
		if err != nil {
			return err
		}

		vrow, err := q.CreateValidation(ctx, repository.CreateValidationParams{
			ID:        uuid.New(),
			ProductID: p.ID,
			ReportID:  domain.ToNullUUID(reportID),
		})
		if err != nil {
			return queueUniqueError(op, p.ID, err)
		}

		row, err := q.CreateQueueEntry(ctx, repository.CreateQueueEntryParams{
			ID:           uuid.New(),
			ProductID:    p.ID,
			ValidationID: vrow.ID,
			Priority:     priority.Rank(),
			Category:     p.Category,
			MaxAttempts:  int32(s.cfg.Retry.MaxAttempts),
			QueuedAt:     now,
			DueDate:      now.Add(priority.SLA()),
			AutoProcess:  reportID != nil,
		})
		if err != nil {
			return queueUniqueError(op, p.ID, err)
		}

		if err := q.UpdateProductStatus(ctx, repository.UpdateProductStatusParams{ID: p.ID, Status: string(p.Status)}); err != nil {
			return err
		}

		entry = queueEntryFromRow(row)
		return insertHistory(ctx, q, entry, domain.QueueActionEnqueued, "", params.RequestedBy,
			fmt.Sprintf("priority %s", priority), now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionEnqueued)).Inc()
	s.logger.Info("validation enqueued",
		"entry_id", entry.ID,
		"product_id", entry.ProductID,
		"validation_id", entry.ValidationID,
		"priority", entry.Priority,
		"auto_process", entry.AutoProcess,
	)
	return entry, nil
}

// resolveReport returns the report the new validation is based on: the
// requested one, or the latest one attached to the product.
func (s *queueService) resolveReport(ctx context.Context, q repository.Querier, op string, productID uuid.UUID, requested *uuid.UUID) (*uuid.UUID, error) {
	if requested != nil {
		r, err := q.GetLabReport(ctx, *requested)
		if err != nil {
			return nil, notFoundOr(op, err, "lab report", requested)
		}
		if r.ProductID != productID {
			return nil, domain.NewValidationError(op, "reportId", "lab report belongs to another product")
		}
		return &r.ID, nil
	}

	r, err := q.GetLatestLabReport(ctx, productID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &r.ID, nil
}

// Get retrieves a queue entry by ID.
func (s *queueService) Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	const op = "QueueService.Get"
	return loadEntry(ctx, s.store, op, id)
}

// List returns a page of entries in scheduling order.
func (s *queueService) List(ctx context.Context, params domain.ListQueueParams) (*domain.ListQueueResult, error) {
	const op = "QueueService.List"

	if params.Status != "" && !params.Status.IsValid() {
		return nil, domain.NewValidationError(op, "status", fmt.Sprintf("unknown status %q", params.Status))
	}

	filter := repository.CountQueueEntriesParams{
		Status:       domain.ToNullString(string(params.Status)),
		AssignedToID: domain.ToNullString(strings.TrimSpace(params.AssignedToID)),
		Category:     domain.ToNullString(strings.TrimSpace(params.Category)),
	}
	if params.Priority != "" {
		p, err := domain.ParsePriority(string(params.Priority))
		if err != nil {
			return nil, domain.NewValidationError(op, "priority", err.Error())
		}
		filter.Priority.Int16, filter.Priority.Valid = p.Rank(), true
	}

	params.Limit = clampLimit(params.Limit)
	params.Page = max(params.Page, 1)

	rows, err := s.store.ListQueueEntries(ctx, repository.ListQueueEntriesParams{
		Status:       filter.Status,
		Priority:     filter.Priority,
		AssignedToID: filter.AssignedToID,
		Category:     filter.Category,
		Limit:        params.Limit,
		Offset:       params.Offset(),
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	total, err := s.store.CountQueueEntries(ctx, filter)
	if err != nil {
		return nil, storeError(op, err)
	}

	entries := make([]domain.QueueEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, *queueEntryFromRow(r))
	}
	return &domain.ListQueueResult{
		Entries: entries,
		Total:   total,
		Page:    params.Page,
		Limit:   params.Limit,
	}, nil
}

// Assign hands a pending entry to a reviewer.
func (s *queueService) Assign(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.QueueEntry, error) {
	const op = "QueueService.Assign"

	reviewerID = strings.TrimSpace(reviewerID)
	var entry *domain.QueueEntry
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		e, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		prev := e.Status
		if err := e.Assign(reviewerID, now); err != nil {
			return err
		}
		if err := writeAssignment(ctx, q, op, e); err != nil {
			return err
		}
		entry = e
		return insertHistory(ctx, q, e, domain.QueueActionAssigned, prev, reviewerID, "", now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionAssigned)).Inc()
	s.logger.Info("queue entry assigned", "entry_id", entry.ID, "reviewer_id", reviewerID)
	return entry, nil
}

// ClaimNext assigns the head of the queue. Rows locked by another claimer
// are skipped.
func (s *queueService) ClaimNext(ctx context.Context, reviewerID string, automatedOnly bool) (*domain.QueueEntry, error) {
	const op = "QueueService.ClaimNext"

	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, domain.NewValidationError(op, "reviewerId", "reviewer is required")
	}

	var entry *domain.QueueEntry
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		entry = nil
		now := s.now()
		row, err := q.ClaimNextQueueEntry(ctx, repository.ClaimNextQueueEntryParams{
			Now:           now,
			AutomatedOnly: automatedOnly,
		})
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		e := queueEntryFromRow(row)
		prev := e.Status
		if err := e.Assign(reviewerID, now); err != nil {
			return err
		}
		if err := writeAssignment(ctx, q, op, e); err != nil {
			return err
		}
		entry = e
		return insertHistory(ctx, q, e, domain.QueueActionAssigned, prev, reviewerID, "claimed", now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	if entry != nil {
		metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionAssigned)).Inc()
		s.logger.Debug("queue entry claimed", "entry_id", entry.ID, "reviewer_id", reviewerID)
	}
	return entry, nil
}

// Start marks an assigned entry as in progress.
func (s *queueService) Start(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	const op = "QueueService.Start"

	var entry *domain.QueueEntry
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		e, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		prev := e.Status
		if err := e.Start(now); err != nil {
			return err
		}
		if err := writeEntry(ctx, q, e, lostRace(op, id)); err != nil {
			return err
		}
		entry = e
		return insertHistory(ctx, q, e, domain.QueueActionStarted, prev, e.AssignedToID, "", now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionStarted)).Inc()
	return entry, nil
}

// Complete closes the entry, resolves its validation and applies the product
// transition in one transaction. The first validated outcome materializes
// the product's QR code.
func (s *queueService) Complete(ctx context.Context, id uuid.UUID, result domain.ValidationResult) (*domain.QueueEntry, error) {
	const op = "QueueService.Complete"

	if !result.Decision.IsTerminal() {
		return nil, domain.NewValidationError(op, "decision", "decision must be approved, partial or rejected")
	}

	var (
		entry *domain.QueueEntry
		event domain.ValidationCompleted
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		e, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		prev := e.Status
		if err := e.Complete(now); err != nil {
			return err
		}

		p, v, err := lockSubject(ctx, q, op, e)
		if err != nil {
			return err
		}
		if err := v.Resolve(withDefaultClaims(result, p.Claims), e.AssignedToID, now); err != nil {
			return err
		}
		if err := p.TransitionTo(v.Status.ProductTarget(), domain.TransitionInput{
			Reason:   v.Reason,
			Remarks:  v.Remarks,
			Claims:   v.ClaimsValidated,
			Findings: v.Findings,
		}, now); err != nil {
			return err
		}

		if err := writeEntry(ctx, q, e, lostRace(op, id)); err != nil {
			return err
		}
		if err := writeValidation(ctx, q, op, v); err != nil {
			return err
		}
		if err := q.UpdateProductStatus(ctx, repository.UpdateProductStatusParams{ID: p.ID, Status: string(p.Status)}); err != nil {
			return err
		}
		if p.Status.IsValidated() {
			if err := materializeQRCode(ctx, q, p, s.now); err != nil {
				return err
			}
		}

		entry = e
		event = completedEvent(v, p, now)
		return insertHistory(ctx, q, e, domain.QueueActionCompleted, prev, e.AssignedToID, string(v.Status), now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionCompleted)).Inc()
	metrics.ValidationsCompleted.WithLabelValues(string(event.Status)).Inc()
	s.events.Dispatch(event)
	s.logger.Info("validation completed",
		"entry_id", entry.ID,
		"product_id", event.ProductID,
		"validation_id", event.ValidationID,
		"status", event.Status,
		"product_status", event.ProductStatus,
	)
	return entry, nil
}

// Fail records a failed attempt.
func (s *queueService) Fail(ctx context.Context, id uuid.UUID, reason string, permanent bool) (*domain.QueueEntry, error) {
	const op = "QueueService.Fail"

	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError(op, "reason", "reason is required")
	}

	var (
		entry   *domain.QueueEntry
		retried bool
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		e, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		actor := e.AssignedToID
		retried, err = s.failEntry(ctx, q, e, reason, permanent, actor, now)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	s.afterFail(entry, retried)
	return entry, nil
}

// failEntry applies a failure inside a transaction.
func (s *queueService) failEntry(ctx context.Context, q repository.Querier, e *domain.QueueEntry, reason string, permanent bool, actor string, now time.Time) (bool, error) {
	prev := e.Status
	retried, err := e.Fail(reason, s.cfg.Retry, permanent, now)
	if err != nil {
		return false, err
	}
	if err := writeEntry(ctx, q, e, lostRace("QueueService.Fail", e.ID)); err != nil {
		return false, err
	}
	action := domain.QueueActionExpired
	if retried {
		action = domain.QueueActionRetried
	}
	return retried, insertHistory(ctx, q, e, action, prev, actor, e.Error, now)
}

func (s *queueService) afterFail(e *domain.QueueEntry, retried bool) {
	if retried {
		metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionRetried)).Inc()
		s.logger.Warn("queue entry failed, retry scheduled",
			"entry_id", e.ID,
			"attempts", e.Attempts,
			"next_retry_at", e.NextRetryAt,
			"error", e.Error,
		)
		return
	}
	s.expired(e)
}

func (s *queueService) expired(e *domain.QueueEntry) {
	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionExpired)).Inc()
	s.events.Dispatch(domain.QueueEntryExpired{
		EntryID:    e.ID,
		ProductID:  e.ProductID,
		Attempts:   e.Attempts,
		Reason:     e.Error,
		OccurredAt: e.UpdatedAt,
	})
	s.logger.Warn("queue entry expired",
		"entry_id", e.ID,
		"product_id", e.ProductID,
		"attempts", e.Attempts,
		"error", e.Error,
	)
}

// Cancel withdraws an active entry. Its validation is rejected and the
// product moves to REJECTED so the owner can resubmit.
func (s *queueService) Cancel(ctx context.Context, id uuid.UUID, reason, actorID string) (*domain.QueueEntry, error) {
	const op = "QueueService.Cancel"

	reason = strings.TrimSpace(reason)
	var (
		entry *domain.QueueEntry
		event domain.ValidationCompleted
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		e, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		prev := e.Status
		if err := e.Cancel(reason, now); err != nil {
			return err
		}

		p, v, err := lockSubject(ctx, q, op, e)
		if err != nil {
			return err
		}
		rejection := "cancelled: " + reason
		if err := v.Resolve(domain.ValidationResult{
			Decision: domain.ValidationStatusRejected,
			Reason:   rejection,
		}, actorID, now); err != nil {
			return err
		}
		if err := p.TransitionTo(domain.ProductStatusRejected, domain.TransitionInput{Reason: rejection}, now); err != nil {
			return err
		}

		if err := writeEntry(ctx, q, e, lostRace(op, id)); err != nil {
			return err
		}
		if err := writeValidation(ctx, q, op, v); err != nil {
			return err
		}
		if err := q.UpdateProductStatus(ctx, repository.UpdateProductStatusParams{ID: p.ID, Status: string(p.Status)}); err != nil {
			return err
		}

		entry = e
		event = completedEvent(v, p, now)
		return insertHistory(ctx, q, e, domain.QueueActionCancelled, prev, actorID, reason, now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionCancelled)).Inc()
	metrics.ValidationsCompleted.WithLabelValues(string(event.Status)).Inc()
	s.events.Dispatch(event)
	s.logger.Info("queue entry cancelled", "entry_id", entry.ID, "product_id", entry.ProductID, "reason", reason)
	return entry, nil
}

// Sweep promotes retries whose backoff elapsed and expires entries past
// their due date. Expired entries leave the validation pending.
func (s *queueService) Sweep(ctx context.Context) (domain.SweepResult, error) {
	const op = "QueueService.Sweep"

	var (
		result  domain.SweepResult
		expired []*domain.QueueEntry
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		result, expired = domain.SweepResult{}, nil
		now := s.now()

		promoted, err := q.PromoteDueRetries(ctx, now)
		if err != nil {
			return err
		}
		result.Promoted = int(promoted)

		rows, err := q.ListExpirableQueueEntries(ctx, repository.ListExpirableQueueEntriesParams{
			Now:   now,
			Limit: sweepBatch,
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			e := queueEntryFromRow(row)
			prev := e.Status
			if err := e.Expire(now); err != nil {
				return err
			}
			if err := writeEntry(ctx, q, e, lostRace(op, e.ID)); err != nil {
				return err
			}
			if err := insertHistory(ctx, q, e, domain.QueueActionExpired, prev, SystemActor, e.Error, now); err != nil {
				return err
			}
			expired = append(expired, e)
		}
		result.Expired = len(expired)
		return nil
	})
	if err != nil {
		return domain.SweepResult{}, storeError(op, err)
	}

	for _, e := range expired {
		s.expired(e)
	}
	s.refreshGauges(ctx)

	if result.Expired > 0 || result.Promoted > 0 {
		s.logger.Info("queue sweep", "expired", result.Expired, "promoted", result.Promoted)
	}
	return result, nil
}

// refreshGauges publishes queue depth to Prometheus. Failures only log.
func (s *queueService) refreshGauges(ctx context.Context) {
	m, err := s.Metrics(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh queue gauges", "error", err)
		return
	}
	for status, n := range m.ByStatus {
		metrics.QueueEntries.WithLabelValues(string(status)).Set(float64(n))
	}
	metrics.QueueOverdue.Set(float64(m.Overdue))
}

// RecoverStale fails entries held in progress for too long, typically
// after the automated reviewer crashed mid-review.
func (s *queueService) RecoverStale(ctx context.Context, reviewerID string, threshold time.Duration) (int, error) {
	const op = "QueueService.RecoverStale"

	type outcome struct {
		entry   *domain.QueueEntry
		retried bool
	}
	var recovered []outcome
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		recovered = nil
		now := s.now()
		rows, err := q.ListStaleQueueEntries(ctx, repository.ListStaleQueueEntriesParams{
			AssignedToID:  reviewerID,
			StartedBefore: now.Add(-threshold),
			Limit:         sweepBatch,
		})
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("processing exceeded %s", threshold)
		for _, row := range rows {
			e := queueEntryFromRow(row)
			retried, err := s.failEntry(ctx, q, e, reason, false, SystemActor, now)
			if err != nil {
				return err
			}
			recovered = append(recovered, outcome{entry: e, retried: retried})
		}
		return nil
	})
	if err != nil {
		return 0, storeError(op, err)
	}

	for _, r := range recovered {
		s.afterFail(r.entry, r.retried)
	}
	if len(recovered) > 0 {
		s.logger.Warn("recovered stale queue entries", "count", len(recovered), "threshold", threshold)
	}
	return len(recovered), nil
}

// DeadLetter lists expired entries.
func (s *queueService) DeadLetter(ctx context.Context, page, limit int32) (*domain.ListQueueResult, error) {
	return s.List(ctx, domain.ListQueueParams{
		Status: domain.QueueStatusExpired,
		Page:   page,
		Limit:  limit,
	})
}

// Requeue opens a fresh entry for the pending validation of an expired one.
func (s *queueService) Requeue(ctx context.Context, id uuid.UUID, actorID string) (*domain.QueueEntry, error) {
	const op = "QueueService.Requeue"

	var entry *domain.QueueEntry
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		old, err := loadEntry(ctx, q, op, id)
		if err != nil {
			return err
		}
		if old.Status != domain.QueueStatusExpired {
			return domain.InvalidTransition(op, old.Status, domain.QueueStatusPending)
		}

		if _, err := q.GetProductForUpdate(ctx, old.ProductID); err != nil {
			return notFoundOr(op, err, "product", old.ProductID)
		}
		vrow, err := q.GetValidation(ctx, old.ValidationID)
		if err != nil {
			return notFoundOr(op, err, "validation", old.ValidationID)
		}
		if vrow.Status != string(domain.ValidationStatusPending) {
			return domain.Conflict(op, "validation is already resolved")
		}
		if _, err := q.GetActiveQueueEntryByProduct(ctx, old.ProductID); err == nil {
			return domain.AlreadyQueued(op, old.ProductID.String())
		} else if !repository.IsNotFound(err) {
			return err
		}

		row, err := q.CreateQueueEntry(ctx, repository.CreateQueueEntryParams{
			ID:           uuid.New(),
			ProductID:    old.ProductID,
			ValidationID: old.ValidationID,
			Priority:     old.Priority.Rank(),
			Category:     old.Category,
			MaxAttempts:  int32(s.cfg.Retry.MaxAttempts),
			QueuedAt:     now,
			DueDate:      now.Add(old.Priority.SLA()),
			AutoProcess:  old.AutoProcess,
		})
		if err != nil {
			return queueUniqueError(op, old.ProductID, err)
		}
		entry = queueEntryFromRow(row)
		return insertHistory(ctx, q, entry, domain.QueueActionRequeued, "", actorID,
			fmt.Sprintf("requeued from %s", old.ID), now)
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(domain.QueueActionRequeued)).Inc()
	s.logger.Info("queue entry requeued", "entry_id", entry.ID, "from_entry_id", id, "actor_id", actorID)
	return entry, nil
}

// History returns the audit trail of an entry.
func (s *queueService) History(ctx context.Context, id uuid.UUID) ([]domain.QueueHistoryEntry, error) {
	const op = "QueueService.History"

	if _, err := loadEntry(ctx, s.store, op, id); err != nil {
		return nil, err
	}
	rows, err := s.store.ListQueueHistory(ctx, id)
	if err != nil {
		return nil, storeError(op, err)
	}
	history := make([]domain.QueueHistoryEntry, 0, len(rows))
	for _, r := range rows {
		history = append(history, historyFromRow(r))
	}
	return history, nil
}

// Metrics summarises the queue.
func (s *queueService) Metrics(ctx context.Context) (*domain.QueueMetrics, error) {
	const op = "QueueService.Metrics"

	counts, err := s.store.CountQueueEntriesByStatus(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}
	overdue, err := s.store.CountOverdueQueueEntries(ctx, s.now())
	if err != nil {
		return nil, storeError(op, err)
	}
	avg, err := s.store.AverageProcessingSeconds(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}

	m := &domain.QueueMetrics{
		ByStatus:          make(map[domain.QueueStatus]int64, len(domain.AllQueueStatuses())),
		Overdue:           overdue,
		AvgProcessingTime: time.Duration(avg * float64(time.Second)),
	}
	for _, status := range domain.AllQueueStatuses() {
		m.ByStatus[status] = 0
	}
	for _, c := range counts {
		m.ByStatus[domain.QueueStatus(c.Status)] = c.Count
	}
	return m, nil
}

// Evidence loads the entry, its product and the lab report of its
// validation.
func (s *queueService) Evidence(ctx context.Context, id uuid.UUID) (*ReviewEvidence, error) {
	const op = "QueueService.Evidence"

	e, err := loadEntry(ctx, s.store, op, id)
	if err != nil {
		return nil, err
	}
	prow, err := s.store.GetProduct(ctx, e.ProductID)
	if err != nil {
		return nil, notFoundOr(op, err, "product", e.ProductID)
	}
	vrow, err := s.store.GetValidation(ctx, e.ValidationID)
	if err != nil {
		return nil, notFoundOr(op, err, "validation", e.ValidationID)
	}

	evidence := &ReviewEvidence{Entry: e, Product: productFromRow(prow)}
	if !vrow.ReportID.Valid {
		return evidence, nil
	}
	rrow, err := s.store.GetLabReport(ctx, vrow.ReportID.UUID)
	if err != nil {
		return nil, notFoundOr(op, err, "lab report", vrow.ReportID.UUID)
	}
	if evidence.Report, err = labReportFromRow(rrow); err != nil {
		return nil, domain.Internal(err, op, "failed to decode lab report")
	}
	return evidence, nil
}

// =============================================================================
// Transaction Helpers
// =============================================================================

func loadEntry(ctx context.Context, q repository.Querier, op string, id uuid.UUID) (*domain.QueueEntry, error) {
	row, err := q.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, notFoundOr(op, err, "queue entry", id)
	}
	return queueEntryFromRow(row), nil
}

// lockSubject locks the entry's product and loads its validation.
func lockSubject(ctx context.Context, q repository.Querier, op string, e *domain.QueueEntry) (*domain.Product, *domain.Validation, error) {
	prow, err := q.GetProductForUpdate(ctx, e.ProductID)
	if err != nil {
		return nil, nil, notFoundOr(op, err, "product", e.ProductID)
	}
	vrow, err := q.GetValidation(ctx, e.ValidationID)
	if err != nil {
		return nil, nil, notFoundOr(op, err, "validation", e.ValidationID)
	}
	v, err := validationFromRow(vrow)
	if err != nil {
		return nil, nil, domain.Internal(err, op, "failed to decode validation")
	}
	return productFromRow(prow), v, nil
}

// writeEntry persists e if nobody changed it since it was read; otherwise
// it returns lost.
func writeEntry(ctx context.Context, q repository.Querier, e *domain.QueueEntry, lost error) error {
	n, err := q.UpdateQueueEntry(ctx, queueEntryUpdate(e))
	if err != nil {
		return err
	}
	if n == 0 {
		return lost
	}
	e.Version++
	return nil
}

// writeAssignment persists an assignment. When another writer got there
// first the row is read again: only a competing assignment is reported as
// AlreadyAssigned.
func writeAssignment(ctx context.Context, q repository.Querier, op string, e *domain.QueueEntry) error {
	n, err := q.UpdateQueueEntry(ctx, queueEntryUpdate(e))
	if err != nil {
		return err
	}
	if n == 1 {
		e.Version++
		return nil
	}

	cur, err := loadEntry(ctx, q, op, e.ID)
	if err != nil {
		return err
	}
	switch cur.Status {
	case domain.QueueStatusAssigned, domain.QueueStatusInProgress:
		return domain.AlreadyAssigned(op, e.ID.String())
	case domain.QueueStatusPending:
		return lostRace(op, e.ID)
	default:
		return domain.InvalidTransition(op, cur.Status, domain.QueueStatusAssigned)
	}
}

func writeValidation(ctx context.Context, q repository.Querier, op string, v *domain.Validation) error {
	var claims, findings any
	if len(v.ClaimsValidated) > 0 {
		claims = v.ClaimsValidated
	}
	if len(v.Findings) > 0 {
		findings = v.Findings
	}
	claimsJSON, err := rawJSON(claims)
	if err != nil {
		return domain.Internal(err, op, "failed to encode claims")
	}
	findingsJSON, err := rawJSON(findings)
	if err != nil {
		return domain.Internal(err, op, "failed to encode findings")
	}

	n, err := q.ResolveValidation(ctx, repository.ResolveValidationParams{
		ID:              v.ID,
		Status:          string(v.Status),
		ClaimsValidated: claimsJSON,
		Findings:        findingsJSON,
		Verdict:         domain.ToNullString(string(v.Verdict)),
		Remarks:         v.Remarks,
		Reason:          v.Reason,
		ValidatorID:     domain.ToNullString(v.ValidatorID),
		ValidatedAt:     domain.ToNullTime(v.ValidatedAt),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Conflict(op, "validation is already resolved")
	}
	return nil
}

func insertHistory(ctx context.Context, q repository.Querier, e *domain.QueueEntry, action domain.QueueAction, prev domain.QueueStatus, actor, reason string, now time.Time) error {
	return q.InsertQueueHistory(ctx, repository.InsertQueueHistoryParams{
		QueueEntryID:   e.ID,
		Action:         string(action),
		PreviousStatus: domain.ToNullString(string(prev)),
		NewStatus:      string(e.Status),
		ActorID:        domain.ToNullString(strings.TrimSpace(actor)),
		Reason:         domain.ToNullString(reason),
		CreatedAt:      now,
	})
}

// withDefaultClaims confirms every claim when a reviewer approves without
// itemizing them.
func withDefaultClaims(result domain.ValidationResult, claims []string) domain.ValidationResult {
	if result.Decision != domain.ValidationStatusApproved || len(result.ClaimsValidated) > 0 {
		return result
	}
	result.ClaimsValidated = make(map[string]domain.ClaimResult, len(claims))
	for _, c := range claims {
		result.ClaimsValidated[c] = domain.ClaimResult{
			Validated: true,
			Outcome:   domain.OutcomePass,
			Note:      "confirmed by reviewer",
		}
	}
	return result
}

func completedEvent(v *domain.Validation, p *domain.Product, now time.Time) domain.ValidationCompleted {
	return domain.ValidationCompleted{
		ProductID:     p.ID,
		ValidationID:  v.ID,
		Status:        v.Status,
		Verdict:       v.Verdict,
		ProductStatus: p.Status,
		QRCode:        p.QRCode,
		OccurredAt:    now,
	}
}

func lostRace(op string, id uuid.UUID) error {
	return domain.Conflict(op, fmt.Sprintf("queue entry %q changed concurrently", id))
}

func queueUniqueError(op string, productID uuid.UUID, err error) error {
	if constraint, ok := repository.UniqueViolation(err); ok {
		switch constraint {
		case repository.ConstraintOneActivePerProd, repository.ConstraintOnePendingPerProd:
			return domain.AlreadyQueued(op, productID.String())
		}
	}
	return err
}
