package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sqlc-dev/pqtype"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/repository"
)

// =============================================================================
// Error Mapping
// =============================================================================

// storeError converts an error that escaped a store call. Domain errors
// raised inside a transaction pass through unchanged.
func storeError(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if repository.IsTransient(err) {
		return domain.Unavailable(err, op)
	}
	return domain.Internal(err, op, "data store operation failed")
}

// notFoundOr maps sql.ErrNoRows onto NotFound and everything else through
// storeError.
func notFoundOr(op string, err error, resource string, id fmt.Stringer) error {
	if repository.IsNotFound(err) {
		return domain.NotFound(op, resource, id.String())
	}
	return storeError(op, err)
}

// =============================================================================
// Row Conversion
// =============================================================================

func productFromRow(r repository.Product) *domain.Product {
	return &domain.Product{
		ID:          r.ID,
		SKU:         r.Sku,
		EAN:         domain.NullStringValue(r.Ean),
		Name:        r.Name,
		Category:    r.Category,
		Claims:      nonNil(r.Claims),
		Ingredients: nonNil(r.Ingredients),
		Status:      domain.ProductStatus(r.Status),
		QRCode:      domain.NullStringValue(r.QrCode),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func labReportFromRow(r repository.LabReport) (*domain.LabReport, error) {
	report := &domain.LabReport{
		ID:         r.ID,
		ProductID:  r.ProductID,
		Laboratory: r.Laboratory,
		ReceivedAt: r.ReceivedAt,
	}
	if err := json.Unmarshal(r.Analysis, &report.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis of report %s: %w", r.ID, err)
	}
	return report, nil
}

func validationFromRow(r repository.Validation) (*domain.Validation, error) {
	v := &domain.Validation{
		ID:          r.ID,
		ProductID:   r.ProductID,
		ReportID:    domain.NullUUIDValue(r.ReportID),
		Status:      domain.ValidationStatus(r.Status),
		Verdict:     domain.Verdict(domain.NullStringValue(r.Verdict)),
		Remarks:     nonNil(r.Remarks),
		Reason:      r.Reason,
		ValidatorID: domain.NullStringValue(r.ValidatorID),
		ValidatedAt: domain.NullTimeValue(r.ValidatedAt),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ClaimsValidated.Valid {
		if err := json.Unmarshal(r.ClaimsValidated.RawMessage, &v.ClaimsValidated); err != nil {
			return nil, fmt.Errorf("decode claims of validation %s: %w", r.ID, err)
		}
	}
	if r.Findings.Valid {
		if err := json.Unmarshal(r.Findings.RawMessage, &v.Findings); err != nil {
			return nil, fmt.Errorf("decode findings of validation %s: %w", r.ID, err)
		}
	}
	return v, nil
}

func queueEntryFromRow(r repository.QueueEntry) *domain.QueueEntry {
	return &domain.QueueEntry{
		ID:            r.ID,
		ProductID:     r.ProductID,
		ValidationID:  r.ValidationID,
		Status:        domain.QueueStatus(r.Status),
		Priority:      domain.PriorityFromRank(r.Priority),
		Category:      r.Category,
		AssignedToID:  domain.NullStringValue(r.AssignedToID),
		AssignedAt:    domain.NullTimeValue(r.AssignedAt),
		StartedAt:     domain.NullTimeValue(r.StartedAt),
		CompletedAt:   domain.NullTimeValue(r.CompletedAt),
		Attempts:      int(r.Attempts),
		MaxAttempts:   int(r.MaxAttempts),
		QueuedAt:      r.QueuedAt,
		LastAttemptAt: domain.NullTimeValue(r.LastAttemptAt),
		NextRetryAt:   domain.NullTimeValue(r.NextRetryAt),
		DueDate:       r.DueDate,
		Error:         domain.NullStringValue(r.Error),
		AutoProcess:   r.AutoProcess,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// queueEntryUpdate builds the CAS write for an entry read at e.Version.
func queueEntryUpdate(e *domain.QueueEntry) repository.UpdateQueueEntryParams {
	return repository.UpdateQueueEntryParams{
		ID:            e.ID,
		Version:       e.Version,
		Status:        string(e.Status),
		AssignedToID:  domain.ToNullString(e.AssignedToID),
		AssignedAt:    domain.ToNullTime(e.AssignedAt),
		StartedAt:     domain.ToNullTime(e.StartedAt),
		CompletedAt:   domain.ToNullTime(e.CompletedAt),
		Attempts:      int32(e.Attempts),
		LastAttemptAt: domain.ToNullTime(e.LastAttemptAt),
		NextRetryAt:   domain.ToNullTime(e.NextRetryAt),
		Error:         domain.ToNullString(e.Error),
	}
}

func historyFromRow(r repository.QueueHistory) domain.QueueHistoryEntry {
	return domain.QueueHistoryEntry{
		ID:             r.ID,
		QueueEntryID:   r.QueueEntryID,
		Action:         domain.QueueAction(r.Action),
		PreviousStatus: domain.QueueStatus(domain.NullStringValue(r.PreviousStatus)),
		NewStatus:      domain.QueueStatus(r.NewStatus),
		ActorID:        domain.NullStringValue(r.ActorID),
		Reason:         domain.NullStringValue(r.Reason),
		CreatedAt:      r.CreatedAt,
	}
}

func accessFromRow(r repository.QrAccess) domain.QRAccess {
	a := domain.QRAccess{
		ID:         r.ID,
		QRCode:     r.QrCode,
		AccessedAt: r.AccessedAt,
		UserAgent:  domain.NullStringValue(r.UserAgent),
		Location:   domain.NullStringValue(r.Location),
	}
	if r.IpAddress.Valid {
		a.IPAddress = r.IpAddress.IPNet.IP.String()
	}
	return a
}

// inetFromString parses an address for an INET column. Unparseable input
// is stored as NULL.
func inetFromString(s string) pqtype.Inet {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return pqtype.Inet{}
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return pqtype.Inet{IPNet: net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, Valid: true}
}

func rawJSON(v any) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
