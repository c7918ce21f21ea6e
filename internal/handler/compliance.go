package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/service"
)

// maxRulesSize bounds uploaded rule table documents.
const maxRulesSize = 1 << 20

// ComplianceHandler serves the stateless compliance check and the rule
// table.
type ComplianceHandler struct {
	compliance service.ComplianceService
	logger     *slog.Logger
}

// NewComplianceHandler creates a new ComplianceHandler.
func NewComplianceHandler(compliance service.ComplianceService, logger *slog.Logger) *ComplianceHandler {
	return &ComplianceHandler{compliance: compliance, logger: logger}
}

// RegisterRoutes mounts the compliance routes on mux.
func (h *ComplianceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /validations/compliance-check", h.Check)
	mux.HandleFunc("GET /compliance/rules", h.Rules)
	mux.HandleFunc("PUT /compliance/rules", h.UpdateRules)
}

type complianceCheckRequest struct {
	Analysis domain.AnalysisBundle `json:"analysis"`
	Claims   []string              `json:"claims" validate:"max=50,dive,required,max=120"`
}

// Check handles POST /validations/compliance-check. It never changes a
// product or validation.
func (h *ComplianceHandler) Check(w http.ResponseWriter, r *http.Request) {
	const op = "ComplianceHandler.Check"

	var req complianceCheckRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	result, err := h.compliance.Check(r.Context(), req.Analysis, req.Claims)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if result.Findings == nil {
		result.Findings = []domain.Finding{}
	}
	writeJSON(w, http.StatusOK, result)
}

// Rules handles GET /compliance/rules.
func (h *ComplianceHandler) Rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.compliance.Rules())
}

// UpdateRules handles PUT /compliance/rules. The body is the YAML rule
// table document.
func (h *ComplianceHandler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	const op = "ComplianceHandler.UpdateRules"

	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRulesSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = domain.Invalid(op, fmt.Sprintf("rule table exceeds %d bytes", maxRulesSize))
		} else {
			err = domain.Invalid(op, "failed to read rule table")
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	snapshot, err := h.compliance.UpdateRules(r.Context(), doc)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.logger.Info("compliance rules replaced", "version", snapshot.Version, "actor", actorID(r))
	writeJSON(w, http.StatusOK, snapshot)
}
