package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/middleware"
	"github.com/decomontenegro/truelabel/internal/service"
)

// locationHeader is set by the edge proxy with the visitor's country.
const locationHeader = "CF-IPCountry"

// QRHandler serves the public code lookup and its access log.
type QRHandler struct {
	qr     service.QRService
	logger *slog.Logger
}

// NewQRHandler creates a new QRHandler.
func NewQRHandler(qr service.QRService, logger *slog.Logger) *QRHandler {
	return &QRHandler{qr: qr, logger: logger}
}

// RegisterRoutes mounts the QR routes on mux. public wraps the
// unauthenticated lookup (rate limiting, CORS).
func (h *QRHandler) RegisterRoutes(mux *http.ServeMux, public func(http.Handler) http.Handler) {
	mux.Handle("GET /validations/{qrCode}", public(http.HandlerFunc(h.Resolve)))
	// CORS preflight; the public middleware answers it.
	mux.Handle("OPTIONS /validations/{qrCode}", public(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.HandleFunc("GET /qr/{qrCode}/accesses", h.Accesses)
}

// Resolve handles GET /validations/{qrCode}. Unknown and malformed codes
// both answer 404.
func (h *QRHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	visitor := domain.QRAccess{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Location:  strings.TrimSpace(r.Header.Get(locationHeader)),
	}
	snapshot, err := h.qr.Resolve(r.Context(), r.PathValue("qrCode"), visitor)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if snapshot.Claims == nil {
		snapshot.Claims = []string{}
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, snapshot)
}

// Accesses handles GET /qr/{qrCode}/accesses?limit.
func (h *QRHandler) Accesses(w http.ResponseWriter, r *http.Request) {
	const op = "QRHandler.Accesses"

	limit, err := queryInt32(r, "limit", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	stats, err := h.qr.Accesses(r.Context(), r.PathValue("qrCode"), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if stats.Recent == nil {
		stats.Recent = []domain.QRAccess{}
	}
	writeJSON(w, http.StatusOK, stats)
}
