package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decomontenegro/truelabel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failCall struct {
	id        uuid.UUID
	reason    string
	permanent bool
}

// fakeQueue hands out its entries in order.
type fakeQueue struct {
	mu        sync.Mutex
	ready     []*domain.QueueEntry
	claimErr  error
	claimedBy []string
	fails     []failCall
	recovered int
}

func (q *fakeQueue) ClaimNext(_ context.Context, reviewerID string, automatedOnly bool) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if !automatedOnly {
		return nil, errors.New("worker must only claim automated entries")
	}
	if len(q.ready) == 0 {
		return nil, nil
	}
	e := q.ready[0]
	q.ready = q.ready[1:]
	e.Status = domain.QueueStatusAssigned
	e.AssignedToID = reviewerID
	q.claimedBy = append(q.claimedBy, reviewerID)
	return e, nil
}

func (q *fakeQueue) Fail(_ context.Context, id uuid.UUID, reason string, permanent bool) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fails = append(q.fails, failCall{id: id, reason: reason, permanent: permanent})
	status := domain.QueueStatusPending
	if permanent {
		status = domain.QueueStatusExpired
	}
	return &domain.QueueEntry{ID: id, Status: status}, nil
}

func (q *fakeQueue) RecoverStale(context.Context, string, time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recovered++
	return 0, nil
}

func (q *fakeQueue) failCalls() []failCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]failCall(nil), q.fails...)
}

type handlerFunc func(ctx context.Context, e *domain.QueueEntry) error

func (f handlerFunc) Type() string { return "test_review" }

func (f handlerFunc) Handle(ctx context.Context, e *domain.QueueEntry) error { return f(ctx, e) }

func newEntry() *domain.QueueEntry {
	return &domain.QueueEntry{ID: uuid.New(), ProductID: uuid.New(), Status: domain.QueueStatusPending, AutoProcess: true}
}

func newTestWorker(t *testing.T, q Queue, h JobHandler) *Worker {
	t.Helper()
	w, err := New(q, h, DefaultConfig(), testLogger())
	require.NoError(t, err)
	return w
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(*Config) {}},
		{name: "concurrency too low", modify: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "concurrency too high", modify: func(c *Config) { c.Concurrency = 101 }, wantErr: true},
		{name: "poll interval too short", modify: func(c *Config) { c.PollInterval = 500 * time.Millisecond }, wantErr: true},
		{name: "stale threshold below job timeout", modify: func(c *Config) { c.StaleJobThreshold = c.JobTimeout }, wantErr: true},
		{name: "missing reviewer", modify: func(c *Config) { c.ReviewerID = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "permanent error", err: NewPermanentError(context.Canceled), want: true},
		{name: "wrapped permanent error", err: errors.Join(errors.New("outer"), NewPermanentError(context.Canceled)), want: true},
		{name: "regular error", err: context.Canceled, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestWorker_ProcessNextJob(t *testing.T) {
	entry := newEntry()
	q := &fakeQueue{ready: []*domain.QueueEntry{entry}}

	var handled []uuid.UUID
	w := newTestWorker(t, q, handlerFunc(func(ctx context.Context, e *domain.QueueEntry) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "handler must run under the job timeout")
		handled = append(handled, e.ID)
		return nil
	}))

	require.NoError(t, w.processNextJob(context.Background(), testLogger()))
	assert.Equal(t, []uuid.UUID{entry.ID}, handled)
	assert.Equal(t, []string{"system"}, q.claimedBy)
	assert.Empty(t, q.failCalls())

	err := w.processNextJob(context.Background(), testLogger())
	assert.ErrorIs(t, err, errIdle)
}

func TestWorker_FailedReviewIsRecorded(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "transient", err: errors.New("store timeout"), permanent: false},
		{name: "permanent", err: NewPermanentError(errors.New("no lab report")), permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newEntry()
			q := &fakeQueue{ready: []*domain.QueueEntry{entry}}
			w := newTestWorker(t, q, handlerFunc(func(context.Context, *domain.QueueEntry) error {
				return tt.err
			}))

			err := w.processNextJob(context.Background(), testLogger())
			assert.ErrorIs(t, err, errReviewFailed)

			fails := q.failCalls()
			require.Len(t, fails, 1)
			assert.Equal(t, entry.ID, fails[0].id)
			assert.Equal(t, tt.err.Error(), fails[0].reason)
			assert.Equal(t, tt.permanent, fails[0].permanent)
		})
	}
}

func TestWorker_HandlerPanicExpiresEntry(t *testing.T) {
	q := &fakeQueue{ready: []*domain.QueueEntry{newEntry()}}
	w := newTestWorker(t, q, handlerFunc(func(context.Context, *domain.QueueEntry) error {
		panic("boom")
	}))

	err := w.processNextJob(context.Background(), testLogger())
	assert.ErrorIs(t, err, errReviewFailed)

	fails := q.failCalls()
	require.Len(t, fails, 1)
	assert.True(t, fails[0].permanent)
	assert.Contains(t, fails[0].reason, "boom")
}

func TestWorker_DrainStopsOnClaimError(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("connection refused")}
	calls := 0
	w := newTestWorker(t, q, handlerFunc(func(context.Context, *domain.QueueEntry) error {
		calls++
		return nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.drain(context.Background(), testLogger())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain kept retrying a failing queue")
	}
	assert.Zero(t, calls)
}

func TestWorker_DrainProcessesEverythingReady(t *testing.T) {
	q := &fakeQueue{ready: []*domain.QueueEntry{newEntry(), newEntry(), newEntry()}}
	var mu sync.Mutex
	calls := 0
	w := newTestWorker(t, q, handlerFunc(func(context.Context, *domain.QueueEntry) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return errors.New("flaky lab api")
		}
		return nil
	}))

	w.drain(context.Background(), testLogger())
	assert.Equal(t, 3, calls)
	assert.Len(t, q.failCalls(), 1)
}

func TestWorker_StartRecoversAndStops(t *testing.T) {
	q := &fakeQueue{}
	w := newTestWorker(t, q, handlerFunc(func(context.Context, *domain.QueueEntry) error { return nil }))

	w.Start(context.Background())
	w.Stop()
	w.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.recovered)
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(&fakeQueue{}, nil, DefaultConfig(), testLogger())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Concurrency = 0
	_, err = New(&fakeQueue{}, handlerFunc(nil), cfg, testLogger())
	assert.Error(t, err)
}
