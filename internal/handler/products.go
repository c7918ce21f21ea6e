package handler

import (
	"log/slog"
	"net/http"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/service"
)

// ProductHandler serves the product catalogue and its lifecycle edges that
// happen outside the validation queue.
type ProductHandler struct {
	products service.ProductService
	logger   *slog.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(products service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger}
}

// RegisterRoutes mounts the product routes on mux.
func (h *ProductHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /products", h.Create)
	mux.HandleFunc("GET /products", h.List)
	mux.HandleFunc("GET /products/{id}", h.Get)
	mux.HandleFunc("PATCH /products/{id}", h.Update)
	mux.HandleFunc("DELETE /products/{id}", h.Delete)
	mux.HandleFunc("POST /products/{id}/submit", h.Submit)
	mux.HandleFunc("POST /products/{id}/suspend", h.Suspend)
	mux.HandleFunc("POST /products/{id}/reactivate", h.Reactivate)
	mux.HandleFunc("POST /products/{id}/reports", h.AttachReport)
}

type createProductRequest struct {
	SKU         string   `json:"sku" validate:"required,max=64"`
	EAN         string   `json:"ean" validate:"omitempty,numeric,min=8,max=14"`
	Name        string   `json:"name" validate:"required,max=200"`
	Category    string   `json:"category" validate:"required,max=64"`
	Claims      []string `json:"claims" validate:"max=50,dive,required,max=120"`
	Ingredients []string `json:"ingredients" validate:"max=200,dive,required,max=120"`
}

// Create handles POST /products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.Create"

	var req createProductRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	p, err := h.products.Create(r.Context(), domain.CreateProductParams{
		SKU:         req.SKU,
		EAN:         req.EAN,
		Name:        req.Name,
		Category:    req.Category,
		Claims:      req.Claims,
		Ingredients: req.Ingredients,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// List handles GET /products?status&limit&offset.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.List"

	limit, err := queryInt32(r, "limit", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	offset, err := queryInt32(r, "offset", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	res, err := h.products.List(r.Context(), domain.ListProductsParams{
		Status: domain.ProductStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := productListResponse{
		Products: make([]productResponse, 0, len(res.Products)),
		Total:    res.Total,
		Limit:    res.Limit,
		Offset:   res.Offset,
	}
	for i := range res.Products {
		out.Products = append(out.Products, toProductResponse(&res.Products[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /products/{id}.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "ProductHandler.Get", "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

type updateProductRequest struct {
	Name        *string  `json:"name" validate:"omitempty,min=1,max=200"`
	Category    *string  `json:"category" validate:"omitempty,min=1,max=64"`
	Claims      []string `json:"claims" validate:"omitempty,max=50,dive,required,max=120"`
	Ingredients []string `json:"ingredients" validate:"omitempty,max=200,dive,required,max=120"`
}

// Update handles PATCH /products/{id}.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.Update"

	id, err := pathID(r, "id", op, "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req updateProductRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	p, err := h.products.Update(r.Context(), domain.UpdateProductParams{
		ID:          id,
		Name:        req.Name,
		Category:    req.Category,
		Claims:      req.Claims,
		Ingredients: req.Ingredients,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// Delete handles DELETE /products/{id}.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "ProductHandler.Delete", "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /products/{id}/submit.
func (h *ProductHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "ProductHandler.Submit", "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	p, err := h.products.Submit(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Suspend handles POST /products/{id}/suspend.
func (h *ProductHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.Suspend"

	id, err := pathID(r, "id", op, "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req suspendRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	p, err := h.products.Suspend(r.Context(), id, req.Reason)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.logger.Info("product suspended", "product_id", p.ID, "actor", actorID(r))
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// Reactivate handles POST /products/{id}/reactivate.
func (h *ProductHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "ProductHandler.Reactivate", "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	p, err := h.products.Reactivate(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

type attachReportRequest struct {
	Laboratory string                `json:"laboratory" validate:"required,max=200"`
	Analysis   domain.AnalysisBundle `json:"analysis"`
}

// AttachReport handles POST /products/{id}/reports.
func (h *ProductHandler) AttachReport(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.AttachReport"

	id, err := pathID(r, "id", op, "product")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req attachReportRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	report, err := h.products.AttachLabReport(r.Context(), domain.AttachLabReportParams{
		ProductID:  id,
		Laboratory: req.Laboratory,
		Analysis:   req.Analysis,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLabReportResponse(report))
}
