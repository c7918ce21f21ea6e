package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Queue Status
// =============================================================================

// QueueStatus represents the scheduling state of a queue entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusAssigned   QueueStatus = "assigned"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusCancelled  QueueStatus = "cancelled"
	QueueStatusExpired    QueueStatus = "expired"
)

// queueTransitions includes the retry edges back to pending.
var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusPending:    {QueueStatusAssigned, QueueStatusCancelled, QueueStatusExpired},
	QueueStatusAssigned:   {QueueStatusInProgress, QueueStatusPending, QueueStatusCancelled, QueueStatusExpired},
	QueueStatusInProgress: {QueueStatusCompleted, QueueStatusPending, QueueStatusCancelled, QueueStatusExpired},
	QueueStatusCompleted:  nil,
	QueueStatusCancelled:  nil,
	QueueStatusExpired:    nil,
}

// AllQueueStatuses lists every queue status.
func AllQueueStatuses() []QueueStatus {
	return []QueueStatus{
		QueueStatusPending,
		QueueStatusAssigned,
		QueueStatusInProgress,
		QueueStatusCompleted,
		QueueStatusCancelled,
		QueueStatusExpired,
	}
}

// String returns the string representation of the status.
func (s QueueStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s QueueStatus) IsValid() bool {
	_, ok := queueTransitions[s]
	return ok
}

// IsActive reports whether the entry still holds the product's single slot.
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusPending || s == QueueStatusAssigned || s == QueueStatusInProgress
}

// IsTerminal returns true for completed, cancelled and expired.
func (s QueueStatus) IsTerminal() bool {
	return s.IsValid() && !s.IsActive()
}

// CanTransitionTo reports whether target is a legal next state.
func (s QueueStatus) CanTransitionTo(target QueueStatus) bool {
	for _, next := range queueTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// =============================================================================
// Priority
// =============================================================================

// Priority orders queue entries. Higher rank is served first.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRanks = map[Priority]int16{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// ParsePriority accepts any casing. An empty string yields NORMAL.
func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := priorityRanks[p]; !ok {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Rank returns the stored ordinal of the priority.
func (p Priority) Rank() int16 {
	return priorityRanks[p]
}

// PriorityFromRank is the inverse of Rank.
func PriorityFromRank(rank int16) Priority {
	for p, r := range priorityRanks {
		if r == rank {
			return p
		}
	}
	return PriorityNormal
}

// SLA returns how long an entry of this priority may wait before it is
// considered overdue.
func (p Priority) SLA() time.Duration {
	switch p {
	case PriorityUrgent:
		return 4 * time.Hour
	case PriorityHigh:
		return 24 * time.Hour
	case PriorityLow:
		return 7 * 24 * time.Hour
	}
	return 72 * time.Hour
}

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy controls how failed entries are rescheduled.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    time.Hour,
	}
}

// Backoff returns the delay before the retry that follows the given attempt
// count: BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// =============================================================================
// Queue Entry
// =============================================================================

// QueueEntry schedules one validation request.
type QueueEntry struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	ValidationID  uuid.UUID
	Status        QueueStatus
	Priority      Priority
	Category      string
	AssignedToID  string
	AssignedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Attempts      int
	MaxAttempts   int
	QueuedAt      time.Time
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	DueDate       time.Time
	Error         string
	AutoProcess   bool // Eligible for the automated compliance lane
	Version       int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOverdue reports whether an entry has outlived its due date.
func (e *QueueEntry) IsOverdue(now time.Time) bool {
	return now.After(e.DueDate) && (e.Status.IsActive() || e.Status == QueueStatusExpired)
}

// IsReady reports whether a pending entry may be picked now.
func (e *QueueEntry) IsReady(now time.Time) bool {
	return e.Status == QueueStatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
}

func (e *QueueEntry) move(op string, target QueueStatus, now time.Time) error {
	if !e.Status.CanTransitionTo(target) {
		return InvalidTransition(op, e.Status, target)
	}
	e.Status = target
	e.UpdatedAt = now
	return nil
}

// Assign hands a pending entry to a reviewer. Entries already held by a
// reviewer report AlreadyAssigned.
func (e *QueueEntry) Assign(reviewerID string, now time.Time) error {
	const op = "queue.assign"

	if strings.TrimSpace(reviewerID) == "" {
		return NewValidationError(op, "assignedToId", "reviewer is required")
	}
	if e.Status == QueueStatusAssigned || e.Status == QueueStatusInProgress {
		return AlreadyAssigned(op, e.ID.String())
	}
	if err := e.move(op, QueueStatusAssigned, now); err != nil {
		return err
	}
	e.AssignedToID = reviewerID
	e.AssignedAt = &now
	e.NextRetryAt = nil
	return nil
}

// Start marks the assigned entry as being worked on.
func (e *QueueEntry) Start(now time.Time) error {
	const op = "queue.start"

	if e.Status != QueueStatusAssigned {
		return InvalidTransition(op, e.Status, QueueStatusInProgress)
	}
	if err := e.move(op, QueueStatusInProgress, now); err != nil {
		return err
	}
	e.StartedAt = &now
	e.LastAttemptAt = &now
	return nil
}

// Complete closes an in-progress entry.
func (e *QueueEntry) Complete(now time.Time) error {
	const op = "queue.complete"

	if e.Status != QueueStatusInProgress {
		return InvalidTransition(op, e.Status, QueueStatusCompleted)
	}
	if err := e.move(op, QueueStatusCompleted, now); err != nil {
		return err
	}
	e.CompletedAt = &now
	e.Error = ""
	return nil
}

// Fail records a failed attempt. With attempts left the entry goes back to
// pending behind a backoff; otherwise, or when permanent is set, it expires
// into the dead letter view. The returned bool reports whether it will be
// retried.
func (e *QueueEntry) Fail(reason string, policy RetryPolicy, permanent bool, now time.Time) (bool, error) {
	const op = "queue.fail"

	if e.Status != QueueStatusAssigned && e.Status != QueueStatusInProgress {
		return false, InvalidTransition(op, e.Status, QueueStatusPending)
	}

	e.Attempts++
	e.LastAttemptAt = &now
	e.Error = strings.TrimSpace(reason)

	maxAttempts := e.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = policy.MaxAttempts
	}

	if !permanent && e.Attempts < maxAttempts {
		if err := e.move(op, QueueStatusPending, now); err != nil {
			return false, err
		}
		next := now.Add(policy.Backoff(e.Attempts))
		e.NextRetryAt = &next
		e.AssignedToID = ""
		e.AssignedAt = nil
		e.StartedAt = nil
		return true, nil
	}

	if err := e.move(op, QueueStatusExpired, now); err != nil {
		return false, err
	}
	e.NextRetryAt = nil
	e.CompletedAt = &now
	return false, nil
}

// Cancel withdraws an active entry.
func (e *QueueEntry) Cancel(reason string, now time.Time) error {
	const op = "queue.cancel"

	if strings.TrimSpace(reason) == "" {
		return NewValidationError(op, "reason", "reason is required")
	}
	if err := e.move(op, QueueStatusCancelled, now); err != nil {
		return err
	}
	e.Error = strings.TrimSpace(reason)
	e.CompletedAt = &now
	e.NextRetryAt = nil
	return nil
}

// Expire moves a pending or assigned entry past its due date to expired.
func (e *QueueEntry) Expire(now time.Time) error {
	const op = "queue.expire"

	if e.Status != QueueStatusPending && e.Status != QueueStatusAssigned {
		return InvalidTransition(op, e.Status, QueueStatusExpired)
	}
	if !now.After(e.DueDate) {
		return Invalid(op, "entry is not past its due date")
	}
	if err := e.move(op, QueueStatusExpired, now); err != nil {
		return err
	}
	e.Error = "due date exceeded"
	e.CompletedAt = &now
	e.NextRetryAt = nil
	return nil
}

// =============================================================================
// Queue History
// =============================================================================

// QueueAction names an audited queue operation.
type QueueAction string

const (
	QueueActionEnqueued  QueueAction = "enqueued"
	QueueActionAssigned  QueueAction = "assigned"
	QueueActionStarted   QueueAction = "started"
	QueueActionCompleted QueueAction = "completed"
	QueueActionRetried   QueueAction = "retried"
	QueueActionExpired   QueueAction = "expired"
	QueueActionCancelled QueueAction = "cancelled"
	QueueActionRequeued  QueueAction = "requeued"
)

// QueueHistoryEntry is one audit row for a queue transition.
type QueueHistoryEntry struct {
	ID             int64
	QueueEntryID   uuid.UUID
	Action         QueueAction
	PreviousStatus QueueStatus
	NewStatus      QueueStatus
	ActorID        string
	Reason         string
	CreatedAt      time.Time
}

// =============================================================================
// Queue Service Parameters
// =============================================================================

// EnqueueParams contains parameters for requesting a validation.
type EnqueueParams struct {
	ProductID   uuid.UUID
	Priority    Priority
	ReportID    *uuid.UUID
	RequestedBy string
}

// ListQueueParams filters and pages the queue.
type ListQueueParams struct {
	Status       QueueStatus
	Priority     Priority
	AssignedToID string
	Category     string
	Page         int32
	Limit        int32
}

// Offset returns the row offset for the requested page (1-indexed).
func (p ListQueueParams) Offset() int32 {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// ListQueueResult contains a page of queue entries.
type ListQueueResult struct {
	Entries []QueueEntry
	Total   int64
	Page    int32
	Limit   int32
}

// TotalPages returns the number of pages available.
func (r *ListQueueResult) TotalPages() int32 {
	if r.Limit <= 0 {
		return 1
	}
	pages := int32((r.Total + int64(r.Limit) - 1) / int64(r.Limit))
	if pages < 1 {
		return 1
	}
	return pages
}

// QueueMetrics summarises the queue.
type QueueMetrics struct {
	ByStatus          map[QueueStatus]int64
	Overdue           int64
	AvgProcessingTime time.Duration
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	Expired  int
	Promoted int
}
