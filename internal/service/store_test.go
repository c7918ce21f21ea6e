package service

import (
	"context"
	"database/sql"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/decomontenegro/truelabel/internal/repository"
)

// fakeStore is an in-memory repository.Store. Transactions are serialized
// and rolled back on error, which stands in for the row locks and unique
// indexes of the real schema. interleave lets a test commit a competing
// transaction inside an open one.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products    map[uuid.UUID]repository.Product
	reports     map[uuid.UUID]repository.LabReport
	validations map[uuid.UUID]repository.Validation
	entries     map[uuid.UUID]repository.QueueEntry
	history     []repository.QueueHistory
	accesses    []repository.QrAccess

	// txErr, when set, fails the next transaction before fn runs.
	txErr error
	// qrCollisions makes the next n SetProductQRCode calls hit the unique
	// index.
	qrCollisions int
	txCount      int

	// interleave, when set, runs once just before the next UpdateQueueEntry
	// and commits while the calling transaction is still open. Transactions
	// it starts skip txMu. The calling transaction must not have written
	// anything before that update.
	interleave  func()
	interleaved bool
	// rollback is the restore point of the open transaction.
	rollback *fakeSnapshot
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:    make(map[uuid.UUID]repository.Product),
		reports:     make(map[uuid.UUID]repository.LabReport),
		validations: make(map[uuid.UUID]repository.Validation),
		entries:     make(map[uuid.UUID]repository.QueueEntry),
	}
}

type fakeSnapshot struct {
	products    map[uuid.UUID]repository.Product
	reports     map[uuid.UUID]repository.LabReport
	validations map[uuid.UUID]repository.Validation
	entries     map[uuid.UUID]repository.QueueEntry
	history     []repository.QueueHistory
	accesses    []repository.QrAccess
}

func (f *fakeStore) snapshot() fakeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeSnapshot{
		products:    maps.Clone(f.products),
		reports:     maps.Clone(f.reports),
		validations: maps.Clone(f.validations),
		entries:     maps.Clone(f.entries),
		history:     slices.Clone(f.history),
		accesses:    slices.Clone(f.accesses),
	}
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products, f.reports, f.validations = s.products, s.reports, s.validations
	f.entries, f.history, f.accesses = s.entries, s.history, s.accesses
}

func (f *fakeStore) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	f.mu.Lock()
	nested := f.interleaved
	f.mu.Unlock()
	if nested {
		return fn(f)
	}

	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	f.txCount++
	injected := f.txErr
	f.txErr = nil
	f.mu.Unlock()
	if injected != nil {
		return injected
	}

	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		snap := f.snapshot()
		f.rollback = &snap
		err = fn(f)
		restore := *f.rollback
		f.rollback = nil
		if err == nil {
			return nil
		}
		f.restore(restore)
		if !repository.IsTransient(err) {
			return err
		}
	}
	return err
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func foreignKeyViolation() error {
	return &pgconn.PgError{Code: "23503"}
}

func fakeNow() time.Time { return time.Now().UTC() }

// =============================================================================
// Products
// =============================================================================

func (f *fakeStore) CreateProduct(_ context.Context, arg repository.CreateProductParams) (repository.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.Sku == arg.Sku {
			return repository.Product{}, uniqueViolation(repository.ConstraintProductSKU)
		}
		if arg.Ean.Valid && p.Ean.Valid && p.Ean.String == arg.Ean.String {
			return repository.Product{}, uniqueViolation(repository.ConstraintProductEAN)
		}
	}
	t := fakeNow()
	p := repository.Product{
		ID:          arg.ID,
		Sku:         arg.Sku,
		Ean:         arg.Ean,
		Name:        arg.Name,
		Category:    arg.Category,
		Claims:      slices.Clone(arg.Claims),
		Ingredients: slices.Clone(arg.Ingredients),
		Status:      "draft",
		CreatedAt:   t,
		UpdatedAt:   t,
	}
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (repository.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return repository.Product{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetProductForUpdate(ctx context.Context, id uuid.UUID) (repository.Product, error) {
	return f.GetProduct(ctx, id)
}

func (f *fakeStore) GetProductByQRCode(_ context.Context, qrCode string) (repository.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.QrCode.Valid && p.QrCode.String == qrCode {
			return p, nil
		}
	}
	return repository.Product{}, sql.ErrNoRows
}

func (f *fakeStore) ListProducts(_ context.Context, arg repository.ListProductsParams) ([]repository.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Product
	for _, p := range f.products {
		if !arg.Status.Valid || p.Status == arg.Status.String {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, arg.Limit, arg.Offset), nil
}

func (f *fakeStore) CountProducts(_ context.Context, status sql.NullString) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.products {
		if !status.Valid || p.Status == status.String {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, arg repository.UpdateProductParams) (repository.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[arg.ID]
	if !ok {
		return repository.Product{}, sql.ErrNoRows
	}
	p.Name, p.Category = arg.Name, arg.Category
	p.Claims, p.Ingredients = slices.Clone(arg.Claims), slices.Clone(arg.Ingredients)
	p.UpdatedAt = fakeNow()
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) UpdateProductStatus(_ context.Context, arg repository.UpdateProductStatusParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[arg.ID]
	if !ok {
		return nil
	}
	p.Status = arg.Status
	p.UpdatedAt = fakeNow()
	f.products[p.ID] = p
	return nil
}

func (f *fakeStore) SetProductQRCode(_ context.Context, arg repository.SetProductQRCodeParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qrCollisions > 0 {
		f.qrCollisions--
		return 0, uniqueViolation(repository.ConstraintProductQRCode)
	}
	p, ok := f.products[arg.ID]
	if !ok || p.QrCode.Valid {
		return 0, nil
	}
	for _, other := range f.products {
		if other.QrCode.Valid && other.QrCode.String == arg.QrCode {
			return 0, uniqueViolation(repository.ConstraintProductQRCode)
		}
	}
	p.QrCode = sql.NullString{String: arg.QrCode, Valid: true}
	f.products[p.ID] = p
	return 1, nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.validations {
		if v.ProductID == id {
			return foreignKeyViolation()
		}
	}
	delete(f.products, id)
	for rid, r := range f.reports {
		if r.ProductID == id {
			delete(f.reports, rid)
		}
	}
	return nil
}

// =============================================================================
// Lab reports
// =============================================================================

func (f *fakeStore) CreateLabReport(_ context.Context, arg repository.CreateLabReportParams) (repository.LabReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[arg.ProductID]; !ok {
		return repository.LabReport{}, foreignKeyViolation()
	}
	r := repository.LabReport{
		ID:         arg.ID,
		ProductID:  arg.ProductID,
		Laboratory: arg.Laboratory,
		Analysis:   slices.Clone(arg.Analysis),
		ReceivedAt: fakeNow(),
	}
	f.reports[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetLabReport(_ context.Context, id uuid.UUID) (repository.LabReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return repository.LabReport{}, sql.ErrNoRows
	}
	return r, nil
}

func (f *fakeStore) ListLabReportIDs(_ context.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reports []repository.LabReport
	for _, r := range f.reports {
		if r.ProductID == productID {
			reports = append(reports, r)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ReceivedAt.Before(reports[j].ReceivedAt) })
	ids := make([]uuid.UUID, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (f *fakeStore) GetLatestLabReport(_ context.Context, productID uuid.UUID) (repository.LabReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		latest repository.LabReport
		found  bool
	)
	for _, r := range f.reports {
		if r.ProductID == productID && (!found || r.ReceivedAt.After(latest.ReceivedAt)) {
			latest, found = r, true
		}
	}
	if !found {
		return repository.LabReport{}, sql.ErrNoRows
	}
	return latest, nil
}

// =============================================================================
// Validations
// =============================================================================

func (f *fakeStore) CreateValidation(_ context.Context, arg repository.CreateValidationParams) (repository.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.validations {
		if v.ProductID == arg.ProductID && v.Status == "pending" {
			return repository.Validation{}, uniqueViolation(repository.ConstraintOnePendingPerProd)
		}
	}
	t := fakeNow()
	v := repository.Validation{
		ID:        arg.ID,
		ProductID: arg.ProductID,
		ReportID:  arg.ReportID,
		Status:    "pending",
		Remarks:   []string{},
		CreatedAt: t,
		UpdatedAt: t,
	}
	f.validations[v.ID] = v
	return v, nil
}

func (f *fakeStore) GetValidation(_ context.Context, id uuid.UUID) (repository.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.validations[id]
	if !ok {
		return repository.Validation{}, sql.ErrNoRows
	}
	return v, nil
}

func (f *fakeStore) GetPendingValidationByProduct(_ context.Context, productID uuid.UUID) (repository.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.validations {
		if v.ProductID == productID && v.Status == "pending" {
			return v, nil
		}
	}
	return repository.Validation{}, sql.ErrNoRows
}

func (f *fakeStore) GetLatestTerminalValidation(_ context.Context, productID uuid.UUID) (repository.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		latest repository.Validation
		found  bool
	)
	for _, v := range f.validations {
		if v.ProductID != productID || v.Status == "pending" {
			continue
		}
		if !found || v.ValidatedAt.Time.After(latest.ValidatedAt.Time) {
			latest, found = v, true
		}
	}
	if !found {
		return repository.Validation{}, sql.ErrNoRows
	}
	return latest, nil
}

func (f *fakeStore) CountTerminalValidations(_ context.Context, productID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, v := range f.validations {
		if v.ProductID == productID && v.Status != "pending" {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ResolveValidation(_ context.Context, arg repository.ResolveValidationParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.validations[arg.ID]
	if !ok || v.Status != "pending" {
		return 0, nil
	}
	v.Status = arg.Status
	v.ClaimsValidated = arg.ClaimsValidated
	v.Findings = arg.Findings
	v.Verdict = arg.Verdict
	v.Remarks = slices.Clone(arg.Remarks)
	v.Reason = arg.Reason
	v.ValidatorID = arg.ValidatorID
	v.ValidatedAt = arg.ValidatedAt
	v.UpdatedAt = fakeNow()
	f.validations[v.ID] = v
	return 1, nil
}

// =============================================================================
// Queue
// =============================================================================

func isActive(status string) bool {
	return status == "pending" || status == "assigned" || status == "in_progress"
}

func (f *fakeStore) CreateQueueEntry(_ context.Context, arg repository.CreateQueueEntryParams) (repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ProductID == arg.ProductID && isActive(e.Status) {
			return repository.QueueEntry{}, uniqueViolation(repository.ConstraintOneActivePerProd)
		}
	}
	t := fakeNow()
	e := repository.QueueEntry{
		ID:           arg.ID,
		ProductID:    arg.ProductID,
		ValidationID: arg.ValidationID,
		Status:       "pending",
		Priority:     arg.Priority,
		Category:     arg.Category,
		MaxAttempts:  arg.MaxAttempts,
		QueuedAt:     arg.QueuedAt,
		DueDate:      arg.DueDate,
		AutoProcess:  arg.AutoProcess,
		CreatedAt:    t,
		UpdatedAt:    t,
	}
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeStore) GetQueueEntry(_ context.Context, id uuid.UUID) (repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return repository.QueueEntry{}, sql.ErrNoRows
	}
	return e, nil
}

func (f *fakeStore) GetActiveQueueEntryByProduct(_ context.Context, productID uuid.UUID) (repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ProductID == productID && isActive(e.Status) {
			return e, nil
		}
	}
	return repository.QueueEntry{}, sql.ErrNoRows
}

func matchesFilter(e repository.QueueEntry, status sql.NullString, priority sql.NullInt16, assigned, category sql.NullString) bool {
	return (!status.Valid || e.Status == status.String) &&
		(!priority.Valid || e.Priority == priority.Int16) &&
		(!assigned.Valid || (e.AssignedToID.Valid && e.AssignedToID.String == assigned.String)) &&
		(!category.Valid || e.Category == category.String)
}

func sortSchedule(entries []repository.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.QueuedAt.Equal(b.QueuedAt) {
			return a.QueuedAt.Before(b.QueuedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func (f *fakeStore) ListQueueEntries(_ context.Context, arg repository.ListQueueEntriesParams) ([]repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.QueueEntry
	for _, e := range f.entries {
		if matchesFilter(e, arg.Status, arg.Priority, arg.AssignedToID, arg.Category) {
			out = append(out, e)
		}
	}
	sortSchedule(out)
	return paginate(out, arg.Limit, arg.Offset), nil
}

func (f *fakeStore) CountQueueEntries(_ context.Context, arg repository.CountQueueEntriesParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if matchesFilter(e, arg.Status, arg.Priority, arg.AssignedToID, arg.Category) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ClaimNextQueueEntry(_ context.Context, arg repository.ClaimNextQueueEntryParams) (repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ready []repository.QueueEntry
	for _, e := range f.entries {
		if e.Status != "pending" {
			continue
		}
		if e.NextRetryAt.Valid && e.NextRetryAt.Time.After(arg.Now) {
			continue
		}
		if arg.AutomatedOnly && !e.AutoProcess {
			continue
		}
		ready = append(ready, e)
	}
	if len(ready) == 0 {
		return repository.QueueEntry{}, sql.ErrNoRows
	}
	sortSchedule(ready)
	return ready[0], nil
}

// runInterleaved commits the pending interleave hook and moves the open
// transaction's restore point past it.
func (f *fakeStore) runInterleaved() {
	f.mu.Lock()
	hook := f.interleave
	if hook == nil {
		f.mu.Unlock()
		return
	}
	f.interleave = nil
	f.interleaved = true
	f.mu.Unlock()

	hook()

	f.mu.Lock()
	f.interleaved = false
	f.mu.Unlock()
	if f.rollback != nil {
		snap := f.snapshot()
		f.rollback = &snap
	}
}

func (f *fakeStore) UpdateQueueEntry(_ context.Context, arg repository.UpdateQueueEntryParams) (int64, error) {
	f.runInterleaved()

	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[arg.ID]
	if !ok || e.Version != arg.Version {
		return 0, nil
	}
	e.Status = arg.Status
	e.AssignedToID = arg.AssignedToID
	e.AssignedAt = arg.AssignedAt
	e.StartedAt = arg.StartedAt
	e.CompletedAt = arg.CompletedAt
	e.Attempts = arg.Attempts
	e.LastAttemptAt = arg.LastAttemptAt
	e.NextRetryAt = arg.NextRetryAt
	e.Error = arg.Error
	e.Version++
	e.UpdatedAt = fakeNow()
	f.entries[e.ID] = e
	return 1, nil
}

func (f *fakeStore) PromoteDueRetries(_ context.Context, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, e := range f.entries {
		if e.Status == "pending" && e.NextRetryAt.Valid && !e.NextRetryAt.Time.After(at) {
			e.NextRetryAt = sql.NullTime{}
			f.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListExpirableQueueEntries(_ context.Context, arg repository.ListExpirableQueueEntriesParams) ([]repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.QueueEntry
	for _, e := range f.entries {
		if (e.Status == "pending" || e.Status == "assigned") && e.DueDate.Before(arg.Now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return paginate(out, arg.Limit, 0), nil
}

func (f *fakeStore) ListStaleQueueEntries(_ context.Context, arg repository.ListStaleQueueEntriesParams) ([]repository.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.QueueEntry
	for _, e := range f.entries {
		if e.Status == "in_progress" && e.AssignedToID.String == arg.AssignedToID &&
			e.StartedAt.Valid && e.StartedAt.Time.Before(arg.StartedBefore) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Time.Before(out[j].StartedAt.Time) })
	return paginate(out, arg.Limit, 0), nil
}

func (f *fakeStore) CountQueueEntriesByStatus(_ context.Context) ([]repository.CountQueueEntriesByStatusRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range f.entries {
		counts[e.Status]++
	}
	var out []repository.CountQueueEntriesByStatusRow
	for status, n := range counts {
		out = append(out, repository.CountQueueEntriesByStatusRow{Status: status, Count: n})
	}
	return out, nil
}

func (f *fakeStore) CountOverdueQueueEntries(_ context.Context, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if isActive(e.Status) && e.DueDate.Before(at) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AverageProcessingSeconds(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		sum float64
		n   int
	)
	for _, e := range f.entries {
		if e.Status == "completed" && e.StartedAt.Valid && e.CompletedAt.Valid {
			sum += e.CompletedAt.Time.Sub(e.StartedAt.Time).Seconds()
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func (f *fakeStore) InsertQueueHistory(_ context.Context, arg repository.InsertQueueHistoryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, repository.QueueHistory{
		ID:             int64(len(f.history) + 1),
		QueueEntryID:   arg.QueueEntryID,
		Action:         arg.Action,
		PreviousStatus: arg.PreviousStatus,
		NewStatus:      arg.NewStatus,
		ActorID:        arg.ActorID,
		Reason:         arg.Reason,
		CreatedAt:      arg.CreatedAt,
	})
	return nil
}

func (f *fakeStore) ListQueueHistory(_ context.Context, queueEntryID uuid.UUID) ([]repository.QueueHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.QueueHistory
	for _, h := range f.history {
		if h.QueueEntryID == queueEntryID {
			out = append(out, h)
		}
	}
	return out, nil
}

// =============================================================================
// QR accesses
// =============================================================================

func (f *fakeStore) InsertQRAccess(_ context.Context, arg repository.InsertQRAccessParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses = append(f.accesses, repository.QrAccess{
		ID:         int64(len(f.accesses) + 1),
		QrCode:     arg.QrCode,
		AccessedAt: arg.AccessedAt,
		IpAddress:  arg.IpAddress,
		UserAgent:  arg.UserAgent,
		Location:   arg.Location,
	})
	return nil
}

func (f *fakeStore) CountQRAccesses(_ context.Context, qrCode string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.accesses {
		if a.QrCode == qrCode {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListRecentQRAccesses(_ context.Context, arg repository.ListRecentQRAccessesParams) ([]repository.QrAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.QrAccess
	for i := len(f.accesses) - 1; i >= 0; i-- {
		if f.accesses[i].QrCode == arg.QrCode {
			out = append(out, f.accesses[i])
		}
	}
	return paginate(out, arg.Limit, 0), nil
}

// =============================================================================
// Assertion helpers
// =============================================================================

func (f *fakeStore) product(id uuid.UUID) repository.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id]
}

func (f *fakeStore) validation(id uuid.UUID) repository.Validation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validations[id]
}

func (f *fakeStore) accessCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accesses)
}

func paginate[T any](items []T, limit, offset int32) []T {
	if offset >= int32(len(items)) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int32(len(items)) > limit {
		items = items[:limit]
	}
	return items
}
