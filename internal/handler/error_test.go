package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decomontenegro/truelabel/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) JSONError {
	t.Helper()
	var body JSONError
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EINVALIDTRANSITION, http.StatusBadRequest},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EALREADYQUEUED, http.StatusConflict},
		{domain.EALREADYASSIGNED, http.StatusConflict},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EUNAVAILABLE, http.StatusServiceUnavailable},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponse_Body(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "already queued",
			err:         domain.AlreadyQueued("QueueService.Enqueue", "p-1"),
			wantStatus:  http.StatusConflict,
			wantCode:    "already_queued",
			wantMessage: `product "p-1" already has an active validation request`,
		},
		{
			name:        "invalid transition",
			err:         domain.InvalidTransition("QueueService.Start", domain.QueueStatusPending, domain.QueueStatusInProgress),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "invalid_transition",
			wantMessage: "cannot transition from pending to in_progress",
		},
		{
			name:        "wrapped not found",
			err:         fmt.Errorf("loading: %w", domain.NotFound("QueueService.Get", "queue entry", "e-1")),
			wantStatus:  http.StatusNotFound,
			wantCode:    "not_found",
			wantMessage: `queue entry with ID "e-1" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/", nil), discardLogger(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMessage, body.Error.Message)
			assert.NotContains(t, rec.Body.String(), "QueueService")
		})
	}
}

func TestErrorResponse_HidesInternalDetails(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		leaks      []string
	}{
		{
			name:       "internal",
			err:        domain.Internal(errors.New(`pq: relation "products" does not exist`), "ProductRepository.Get", "query failed"),
			wantStatus: http.StatusInternalServerError,
			leaks:      []string{"pq:", "relation", "ProductRepository", "query failed"},
		},
		{
			name:       "unavailable",
			err:        domain.Unavailable(errors.New("dial tcp 192.168.1.100:5432: connection refused"), "QueueService.Assign"),
			wantStatus: http.StatusServiceUnavailable,
			leaks:      []string{"192.168", "5432", "QueueService"},
		},
		{
			name:       "raw error",
			err:        errors.New(`FATAL: password authentication failed for user "postgres"`),
			wantStatus: http.StatusInternalServerError,
			leaks:      []string{"FATAL", "password", "postgres"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/", nil), discardLogger(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			for _, leak := range tt.leaks {
				assert.NotContains(t, rec.Body.String(), leak)
			}
			assert.Contains(t, decodeError(t, rec).Error.Message, "try again later")
		})
	}
}

func TestErrorResponse_ValidationFields(t *testing.T) {
	verr := domain.NewValidationError("ProductService.Create", "sku", "SKU is required")
	verr = domain.AddFieldError(verr, "name", "name is required")

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/products", nil), discardLogger(), verr)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "invalid", body.Error.Code)
	assert.Equal(t, "Validation failed", body.Error.Message)
	assert.Equal(t, map[string]string{"sku": "SKU is required", "name": "name is required"}, body.Error.Fields)
	assert.NotContains(t, rec.Body.String(), "ProductService")
}
