package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/decomontenegro/truelabel/internal/compliance"
	"github.com/decomontenegro/truelabel/internal/domain"
)

const testRules = `
version: test-1
rules:
  - {category: heavy_metals, parameter: lead, aliases: [chumbo], operator: max, limit: "0.1", unit: mg/kg}
  - {category: heavy_metals, parameter: cadmium, operator: max, limit: "0.1", unit: mg/kg}
  - {category: allergens, parameter: gluten, operator: max, limit: "20", warn_at: "10", unit: mg/kg}
claims:
  - claim: "Sem Glúten"
    requires: [{category: allergens, parameter: gluten}]
  - claim: "Livre de Metais Pesados"
    requires:
      - {category: heavy_metals, parameter: lead}
      - {category: heavy_metals, parameter: cadmium}
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by a fixture's services.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSink collects dispatched events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Dispatch(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(eventType string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *fakeStore
	clock    *testClock
	sink     *recordingSink
	registry *compliance.Registry
	ledger   *AccessLedger
	products ProductService
	queue    QueueService
	qr       QRService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	clock := newTestClock()
	sink := &recordingSink{}
	logger := testLogger()

	registry, err := compliance.NewRegistry(nil, "", logger)
	require.NoError(t, err)
	_, err = registry.Update(context.Background(), []byte(testRules))
	require.NoError(t, err)

	ledger := NewAccessLedger(store, LedgerConfig{BufferSize: 64, BatchSize: 8, FlushInterval: 10 * time.Millisecond}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ledger.Close(ctx)
	})

	return &fixture{
		store:    store,
		clock:    clock,
		sink:     sink,
		registry: registry,
		ledger:   ledger,
		products: NewProductService(store, nil, logger, clock.Now),
		queue: NewQueueService(store, sink, QueueConfig{Retry: domain.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Minute,
			MaxDelay:    time.Hour,
		}}, logger, clock.Now),
		qr: NewQRService(store, ledger, logger, clock.Now),
	}
}

// pendingProduct creates a product with claims and submits it.
func (f *fixture) pendingProduct(t *testing.T, sku string, claims ...string) *domain.Product {
	t.Helper()
	if len(claims) == 0 {
		claims = []string{"Sem Glúten"}
	}
	p, err := f.products.Create(context.Background(), domain.CreateProductParams{
		SKU:         sku,
		Name:        "Biscoito " + sku,
		Category:    "snacks",
		Claims:      claims,
		Ingredients: []string{"farinha de arroz", "açúcar"},
	})
	require.NoError(t, err)
	p, err = f.products.Submit(context.Background(), p.ID)
	require.NoError(t, err)
	return p
}

// inProgress enqueues p and moves the entry to IN_PROGRESS for reviewer.
func (f *fixture) inProgress(t *testing.T, productID uuid.UUID, reviewer string) *domain.QueueEntry {
	t.Helper()
	ctx := context.Background()
	e, err := f.queue.Enqueue(ctx, domain.EnqueueParams{ProductID: productID, RequestedBy: "owner-1"})
	require.NoError(t, err)
	_, err = f.queue.Assign(ctx, e.ID, reviewer)
	require.NoError(t, err)
	e, err = f.queue.Start(ctx, e.ID)
	require.NoError(t, err)
	return e
}

func measured(param, value, unit string) domain.AnalysisItem {
	return domain.AnalysisItem{Parameter: param, Value: decimal.RequireFromString(value), Unit: unit}
}
