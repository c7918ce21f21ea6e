package service

import (
	"context"
	"log/slog"

	"github.com/decomontenegro/truelabel/internal/compliance"
	"github.com/decomontenegro/truelabel/internal/domain"
)

// ComplianceService exposes the rule engine and its rule table.
type ComplianceService interface {
	// Check evaluates an analysis against the active rule table. It has no
	// side effects on products or validations.
	Check(ctx context.Context, analysis domain.AnalysisBundle, claims []string) (*domain.ComplianceResult, error)

	// Rules describes the active rule table.
	Rules() compliance.Snapshot

	// UpdateRules validates and publishes a new rule table document.
	UpdateRules(ctx context.Context, document []byte) (compliance.Snapshot, error)

	// ReloadRules picks up a rule table published by another instance.
	ReloadRules(ctx context.Context) (bool, error)
}

type complianceService struct {
	registry *compliance.Registry
	logger   *slog.Logger
}

// NewComplianceService creates a new ComplianceService.
func NewComplianceService(registry *compliance.Registry, logger *slog.Logger) ComplianceService {
	return &complianceService{registry: registry, logger: logger}
}

func (s *complianceService) Check(_ context.Context, analysis domain.AnalysisBundle, claims []string) (*domain.ComplianceResult, error) {
	const op = "ComplianceService.Check"

	if analysis.IsEmpty() {
		return nil, domain.NewValidationError(op, "analysis", "analysis must contain at least one measurement")
	}
	return s.registry.Evaluate(analysis, domain.NonEmpty(claims)), nil
}

func (s *complianceService) Rules() compliance.Snapshot {
	return s.registry.Snapshot()
}

func (s *complianceService) UpdateRules(ctx context.Context, document []byte) (compliance.Snapshot, error) {
	snap, err := s.registry.Update(ctx, document)
	if err != nil {
		return compliance.Snapshot{}, err
	}
	s.logger.Info("compliance rules published", "version", snap.Version, "rules", snap.RuleCount)
	return snap, nil
}

func (s *complianceService) ReloadRules(ctx context.Context) (bool, error) {
	const op = "ComplianceService.ReloadRules"

	changed, err := s.registry.Reload(ctx)
	if err != nil {
		s.logger.Error("failed to reload compliance rules", "error", err, "op", op)
		return false, domain.Unavailable(err, op)
	}
	return changed, nil
}
