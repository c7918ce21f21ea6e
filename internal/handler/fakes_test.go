package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/compliance"
	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/service"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// serve runs one request through mux.
func serve(t *testing.T, mux http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// Unimplemented methods of the embedded interfaces panic when called.

type fakeProducts struct {
	service.ProductService
	create  func(domain.CreateProductParams) (*domain.Product, error)
	get     func(uuid.UUID) (*domain.Product, error)
	list    func(domain.ListProductsParams) (*domain.ListProductsResult, error)
	update  func(domain.UpdateProductParams) (*domain.Product, error)
	suspend func(uuid.UUID, string) (*domain.Product, error)
	attach  func(domain.AttachLabReportParams) (*domain.LabReport, error)
	deleted []uuid.UUID
}

func (f *fakeProducts) Create(_ context.Context, p domain.CreateProductParams) (*domain.Product, error) {
	return f.create(p)
}

func (f *fakeProducts) Get(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	return f.get(id)
}

func (f *fakeProducts) List(_ context.Context, p domain.ListProductsParams) (*domain.ListProductsResult, error) {
	return f.list(p)
}

func (f *fakeProducts) Update(_ context.Context, p domain.UpdateProductParams) (*domain.Product, error) {
	return f.update(p)
}

func (f *fakeProducts) Suspend(_ context.Context, id uuid.UUID, reason string) (*domain.Product, error) {
	return f.suspend(id, reason)
}

func (f *fakeProducts) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProducts) AttachLabReport(_ context.Context, p domain.AttachLabReportParams) (*domain.LabReport, error) {
	return f.attach(p)
}

type fakeQueue struct {
	service.QueueService
	enqueue   func(domain.EnqueueParams) (*domain.QueueEntry, error)
	list      func(domain.ListQueueParams) (*domain.ListQueueResult, error)
	assign    func(uuid.UUID, string) (*domain.QueueEntry, error)
	claimNext func(string, bool) (*domain.QueueEntry, error)
	calls     []string
}

func (f *fakeQueue) Enqueue(_ context.Context, p domain.EnqueueParams) (*domain.QueueEntry, error) {
	return f.enqueue(p)
}

func (f *fakeQueue) List(_ context.Context, p domain.ListQueueParams) (*domain.ListQueueResult, error) {
	return f.list(p)
}

func (f *fakeQueue) Assign(_ context.Context, id uuid.UUID, reviewer string) (*domain.QueueEntry, error) {
	return f.assign(id, reviewer)
}

func (f *fakeQueue) ClaimNext(_ context.Context, reviewer string, automatedOnly bool) (*domain.QueueEntry, error) {
	return f.claimNext(reviewer, automatedOnly)
}

func (f *fakeQueue) Start(_ context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	f.calls = append(f.calls, "start")
	return queueEntry(id, domain.QueueStatusInProgress), nil
}

func (f *fakeQueue) Complete(_ context.Context, id uuid.UUID, result domain.ValidationResult) (*domain.QueueEntry, error) {
	f.calls = append(f.calls, "complete:"+string(result.Decision))
	return queueEntry(id, domain.QueueStatusCompleted), nil
}

func (f *fakeQueue) Fail(_ context.Context, id uuid.UUID, reason string, permanent bool) (*domain.QueueEntry, error) {
	if permanent {
		f.calls = append(f.calls, "fail-permanent:"+reason)
	} else {
		f.calls = append(f.calls, "fail:"+reason)
	}
	return queueEntry(id, domain.QueueStatusPending), nil
}

func (f *fakeQueue) Cancel(_ context.Context, id uuid.UUID, reason, actor string) (*domain.QueueEntry, error) {
	f.calls = append(f.calls, "cancel:"+reason+":"+actor)
	return queueEntry(id, domain.QueueStatusCancelled), nil
}

func (f *fakeQueue) Requeue(_ context.Context, id uuid.UUID, actor string) (*domain.QueueEntry, error) {
	f.calls = append(f.calls, "requeue:"+actor)
	return queueEntry(uuid.New(), domain.QueueStatusPending), nil
}

func (f *fakeQueue) History(_ context.Context, id uuid.UUID) ([]domain.QueueHistoryEntry, error) {
	return []domain.QueueHistoryEntry{
		{QueueEntryID: id, Action: domain.QueueActionEnqueued, NewStatus: domain.QueueStatusPending, ActorID: "owner-1", CreatedAt: testTime},
		{QueueEntryID: id, Action: domain.QueueActionAssigned, PreviousStatus: domain.QueueStatusPending, NewStatus: domain.QueueStatusAssigned, ActorID: "reviewer-1", CreatedAt: testTime.Add(time.Minute)},
	}, nil
}

func (f *fakeQueue) Metrics(context.Context) (*domain.QueueMetrics, error) {
	return &domain.QueueMetrics{
		ByStatus:          map[domain.QueueStatus]int64{domain.QueueStatusPending: 3},
		Overdue:           1,
		AvgProcessingTime: 90 * time.Second,
	}, nil
}

func (f *fakeQueue) DeadLetter(_ context.Context, page, limit int32) (*domain.ListQueueResult, error) {
	return &domain.ListQueueResult{
		Entries: []domain.QueueEntry{*queueEntry(uuid.New(), domain.QueueStatusExpired)},
		Total:   1,
		Page:    max(page, 1),
		Limit:   limit,
	}, nil
}

func queueEntry(id uuid.UUID, status domain.QueueStatus) *domain.QueueEntry {
	return &domain.QueueEntry{
		ID:           id,
		ProductID:    uuid.New(),
		ValidationID: uuid.New(),
		Status:       status,
		Priority:     domain.PriorityNormal,
		Category:     "snacks",
		MaxAttempts:  3,
		QueuedAt:     testTime,
		DueDate:      testTime.Add(72 * time.Hour),
		Version:      1,
	}
}

type fakeQR struct {
	resolve  func(string, domain.QRAccess) (*domain.QRSnapshot, error)
	accesses func(string, int32) (*domain.QRAccessStats, error)
}

func (f *fakeQR) Resolve(_ context.Context, code string, visitor domain.QRAccess) (*domain.QRSnapshot, error) {
	return f.resolve(code, visitor)
}

func (f *fakeQR) Accesses(_ context.Context, code string, limit int32) (*domain.QRAccessStats, error) {
	return f.accesses(code, limit)
}

type fakeCompliance struct {
	check    func(domain.AnalysisBundle, []string) (*domain.ComplianceResult, error)
	update   func([]byte) (compliance.Snapshot, error)
	snapshot compliance.Snapshot
}

func (f *fakeCompliance) Check(_ context.Context, a domain.AnalysisBundle, claims []string) (*domain.ComplianceResult, error) {
	return f.check(a, claims)
}

func (f *fakeCompliance) Rules() compliance.Snapshot { return f.snapshot }

func (f *fakeCompliance) UpdateRules(_ context.Context, doc []byte) (compliance.Snapshot, error) {
	return f.update(doc)
}

func (f *fakeCompliance) ReloadRules(context.Context) (bool, error) { return false, nil }
