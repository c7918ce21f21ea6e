package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
)

// =============================================================================
// Response Bodies
// =============================================================================

type productResponse struct {
	ID          uuid.UUID            `json:"id"`
	SKU         string               `json:"sku"`
	EAN         string               `json:"ean,omitempty"`
	Name        string               `json:"name"`
	Category    string               `json:"category"`
	Claims      []string             `json:"claims"`
	Ingredients []string             `json:"ingredients"`
	Status      domain.ProductStatus `json:"status"`
	QRCode      string               `json:"qrCode,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

func toProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SKU:         p.SKU,
		EAN:         p.EAN,
		Name:        p.Name,
		Category:    p.Category,
		Claims:      nonNil(p.Claims),
		Ingredients: nonNil(p.Ingredients),
		Status:      p.Status,
		QRCode:      p.QRCode,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type productListResponse struct {
	Products []productResponse `json:"products"`
	Total    int64             `json:"total"`
	Limit    int32             `json:"limit"`
	Offset   int32             `json:"offset"`
}

type labReportResponse struct {
	ID         uuid.UUID             `json:"id"`
	ProductID  uuid.UUID             `json:"productId"`
	Laboratory string                `json:"laboratory"`
	Analysis   domain.AnalysisBundle `json:"analysis"`
	ReceivedAt time.Time             `json:"receivedAt"`
}

func toLabReportResponse(r *domain.LabReport) labReportResponse {
	return labReportResponse{
		ID:         r.ID,
		ProductID:  r.ProductID,
		Laboratory: r.Laboratory,
		Analysis:   r.Analysis,
		ReceivedAt: r.ReceivedAt,
	}
}

type queueEntryResponse struct {
	ID            uuid.UUID          `json:"id"`
	ProductID     uuid.UUID          `json:"productId"`
	ValidationID  uuid.UUID          `json:"validationId"`
	Status        domain.QueueStatus `json:"status"`
	Priority      domain.Priority    `json:"priority"`
	Category      string             `json:"category"`
	AssignedToID  string             `json:"assignedToId,omitempty"`
	AssignedAt    *time.Time         `json:"assignedAt,omitempty"`
	StartedAt     *time.Time         `json:"startedAt,omitempty"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"maxAttempts"`
	QueuedAt      time.Time          `json:"queuedAt"`
	LastAttemptAt *time.Time         `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time         `json:"nextRetryAt,omitempty"`
	DueDate       time.Time          `json:"dueDate"`
	Error         string             `json:"error,omitempty"`
	AutoProcess   bool               `json:"autoProcess"`
	Version       int32              `json:"version"`
}

func toQueueEntryResponse(e *domain.QueueEntry) queueEntryResponse {
	return queueEntryResponse{
		ID:            e.ID,
		ProductID:     e.ProductID,
		ValidationID:  e.ValidationID,
		Status:        e.Status,
		Priority:      e.Priority,
		Category:      e.Category,
		AssignedToID:  e.AssignedToID,
		AssignedAt:    e.AssignedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		QueuedAt:      e.QueuedAt,
		LastAttemptAt: e.LastAttemptAt,
		NextRetryAt:   e.NextRetryAt,
		DueDate:       e.DueDate,
		Error:         e.Error,
		AutoProcess:   e.AutoProcess,
		Version:       e.Version,
	}
}

type queueListResponse struct {
	Entries    []queueEntryResponse `json:"entries"`
	Total      int64                `json:"total"`
	Page       int32                `json:"page"`
	Limit      int32                `json:"limit"`
	TotalPages int32                `json:"totalPages"`
}

func toQueueListResponse(res *domain.ListQueueResult) queueListResponse {
	out := queueListResponse{
		Entries:    make([]queueEntryResponse, 0, len(res.Entries)),
		Total:      res.Total,
		Page:       res.Page,
		Limit:      res.Limit,
		TotalPages: res.TotalPages(),
	}
	for i := range res.Entries {
		out.Entries = append(out.Entries, toQueueEntryResponse(&res.Entries[i]))
	}
	return out
}

type historyResponse struct {
	Action         domain.QueueAction `json:"action"`
	PreviousStatus domain.QueueStatus `json:"previousStatus,omitempty"`
	NewStatus      domain.QueueStatus `json:"newStatus"`
	ActorID        string             `json:"actorId,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type queueMetricsResponse struct {
	ByStatus                 map[domain.QueueStatus]int64 `json:"byStatus"`
	Overdue                  int64                        `json:"overdue"`
	AvgProcessingTimeSeconds float64                      `json:"avgProcessingTimeSeconds"`
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
