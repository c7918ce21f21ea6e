package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/service"
)

// QueueHandler serves validation requests and reviewer operations on the
// validation queue.
type QueueHandler struct {
	queue  service.QueueService
	logger *slog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queue service.QueueService, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

// RegisterRoutes mounts the queue routes on mux.
func (h *QueueHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /products/{id}/validate", h.Enqueue)
	mux.HandleFunc("GET /validations/queue", h.List)
	mux.HandleFunc("POST /validations/queue/next", h.ClaimNext)
	mux.HandleFunc("GET /validations/queue/metrics", h.Metrics)
	mux.HandleFunc("GET /validations/queue/dead-letter", h.DeadLetter)
	mux.HandleFunc("GET /validations/queue/{id}", h.Get)
	mux.HandleFunc("PATCH /validations/queue/{id}/assign", h.Assign)
	mux.HandleFunc("PATCH /validations/queue/{id}/status", h.UpdateStatus)
	mux.HandleFunc("POST /validations/queue/{id}/requeue", h.Requeue)
	mux.HandleFunc("GET /validations/queue/{id}/history", h.History)
}

type enqueueRequest struct {
	Priority string `json:"priority" validate:"omitempty,max=16"`
	ReportID string `json:"reportId" validate:"omitempty,uuid"`
}

// Enqueue handles POST /products/{id}/validate.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.Enqueue"

	productID, err := pathID(r, "id", op, "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req enqueueRequest
	if err := decodeOptionalJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	params := domain.EnqueueParams{
		ProductID:   productID,
		Priority:    domain.Priority(strings.ToUpper(strings.TrimSpace(req.Priority))),
		RequestedBy: actorID(r),
	}
	if req.ReportID != "" {
		reportID := uuid.MustParse(req.ReportID)
		params.ReportID = &reportID
	}

	entry, err := h.queue.Enqueue(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueEntryResponse(entry))
}

// List handles GET /validations/queue?status&priority&assignedToId&category&page&limit.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.List"

	page, err := queryInt32(r, "page", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	limit, err := queryInt32(r, "limit", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	res, err := h.queue.List(r.Context(), domain.ListQueueParams{
		Status:       domain.QueueStatus(q.Get("status")),
		Priority:     domain.Priority(q.Get("priority")),
		AssignedToID: q.Get("assignedToId"),
		Category:     q.Get("category"),
		Page:         page,
		Limit:        limit,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueListResponse(res))
}

// Get handles GET /validations/queue/{id}.
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "QueueHandler.Get", "queue entry")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	entry, err := h.queue.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

type assignRequest struct {
	AssignedToID string `json:"assignedToId" validate:"required,max=128"`
}

// Assign handles PATCH /validations/queue/{id}/assign.
func (h *QueueHandler) Assign(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.Assign"

	id, err := pathID(r, "id", op, "queue entry")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	entry, err := h.queue.Assign(r.Context(), id, req.AssignedToID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

type claimNextRequest struct {
	ReviewerID    string `json:"reviewerId" validate:"required,max=128"`
	AutomatedOnly bool   `json:"automatedOnly"`
}

// ClaimNext handles POST /validations/queue/next. It answers 204 when no
// entry is ready.
func (h *QueueHandler) ClaimNext(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.ClaimNext"

	var req claimNextRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	entry, err := h.queue.ClaimNext(r.Context(), req.ReviewerID, req.AutomatedOnly)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

type statusRequest struct {
	Status    string                   `json:"status" validate:"required,oneof=in_progress completed failed cancelled"`
	Reason    string                   `json:"reason" validate:"required_if=Status failed,max=1000"`
	Permanent bool                     `json:"permanent"`
	Result    *domain.ValidationResult `json:"result" validate:"required_if=Status completed"`
}

// UpdateStatus handles PATCH /validations/queue/{id}/status. Each target
// status maps onto one queue operation; illegal moves answer 400
// invalid_transition.
func (h *QueueHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.UpdateStatus"

	id, err := pathID(r, "id", op, "queue entry")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var entry *domain.QueueEntry
	switch domain.QueueStatus(req.Status) {
	case domain.QueueStatusInProgress:
		entry, err = h.queue.Start(r.Context(), id)
	case domain.QueueStatusCompleted:
		entry, err = h.queue.Complete(r.Context(), id, *req.Result)
	case domain.QueueStatusCancelled:
		entry, err = h.queue.Cancel(r.Context(), id, req.Reason, actorID(r))
	default: // failed
		entry, err = h.queue.Fail(r.Context(), id, req.Reason, req.Permanent)
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

// Requeue handles POST /validations/queue/{id}/requeue.
func (h *QueueHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "QueueHandler.Requeue", "queue entry")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	entry, err := h.queue.Requeue(r.Context(), id, actorID(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueEntryResponse(entry))
}

// History handles GET /validations/queue/{id}/history.
func (h *QueueHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "QueueHandler.History", "queue entry")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	history, err := h.queue.History(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	out := make([]historyResponse, 0, len(history))
	for _, e := range history {
		out = append(out, historyResponse{
			Action:         e.Action,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			ActorID:        e.ActorID,
			Reason:         e.Reason,
			CreatedAt:      e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Metrics handles GET /validations/queue/metrics.
func (h *QueueHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.queue.Metrics(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queueMetricsResponse{
		ByStatus:                 m.ByStatus,
		Overdue:                  m.Overdue,
		AvgProcessingTimeSeconds: m.AvgProcessingTime.Seconds(),
	})
}

// DeadLetter handles GET /validations/queue/dead-letter?page&limit.
func (h *QueueHandler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	const op = "QueueHandler.DeadLetter"

	page, err := queryInt32(r, "page", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	limit, err := queryInt32(r, "limit", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	res, err := h.queue.DeadLetter(r.Context(), page, limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueListResponse(res))
}
