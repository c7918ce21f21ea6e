package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/service"
	"github.com/decomontenegro/truelabel/internal/worker"
)

// JobTypeAutoReview identifies the automated compliance review.
const JobTypeAutoReview = "auto_review"

// Reviewer is the part of the queue an automated review drives.
type Reviewer interface {
	Start(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)
	Evidence(ctx context.Context, id uuid.UUID) (*service.ReviewEvidence, error)
	Complete(ctx context.Context, id uuid.UUID, result domain.ValidationResult) (*domain.QueueEntry, error)
}

// Evaluator runs the compliance rule table.
type Evaluator interface {
	Evaluate(bundle domain.AnalysisBundle, claims []string) *domain.ComplianceResult
}

// AutoReviewHandler decides queue entries from their lab report: it starts
// the entry, evaluates the report against the product's claims and
// completes the entry with the engine's verdict.
type AutoReviewHandler struct {
	queue     Reviewer
	evaluator Evaluator
	logger    *slog.Logger
}

// NewAutoReviewHandler creates a new handler for automated reviews.
func NewAutoReviewHandler(queue Reviewer, evaluator Evaluator, logger *slog.Logger) *AutoReviewHandler {
	return &AutoReviewHandler{
		queue:     queue,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *AutoReviewHandler) Type() string {
	return JobTypeAutoReview
}

// Handle reviews one claimed entry.
func (h *AutoReviewHandler) Handle(ctx context.Context, entry *domain.QueueEntry) error {
	logger := h.logger.With("entry_id", entry.ID, "product_id", entry.ProductID)

	// 1. Take the entry in progress
	if _, err := h.queue.Start(ctx, entry.ID); err != nil {
		return classify("start entry", err)
	}

	// 2. Load the product and its lab report
	evidence, err := h.queue.Evidence(ctx, entry.ID)
	if err != nil {
		return classify("load evidence", err)
	}
	if evidence.Report == nil {
		return worker.NewPermanentError(errors.New("validation has no lab report"))
	}
	if evidence.Report.Analysis.IsEmpty() {
		return worker.NewPermanentError(fmt.Errorf("lab report %s has no measurements", evidence.Report.ID))
	}

	// 3. Evaluate
	res := h.evaluator.Evaluate(evidence.Report.Analysis, evidence.Product.Claims)
	logger.Info("Compliance evaluated",
		"verdict", res.Verdict,
		"ruleset", res.RulesetVersion,
		"pass", res.Summary.Pass,
		"warn", res.Summary.Warn,
		"fail", res.Summary.Fail,
	)

	// 4. Apply the verdict
	if _, err := h.queue.Complete(ctx, entry.ID, domain.ResultFromCompliance(res)); err != nil {
		return classify("complete entry", err)
	}
	return nil
}

// classify marks errors a retry cannot fix as permanent. Store outages and
// timeouts stay retryable.
func classify(step string, err error) error {
	wrapped := fmt.Errorf("%s: %w", step, err)
	switch domain.ErrorCode(err) {
	case domain.ENOTFOUND, domain.EINVALID, domain.EINVALIDTRANSITION:
		return worker.NewPermanentError(wrapped)
	}
	return wrapped
}
