package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/repository"
)

// LedgerConfig sizes the access ledger.
type LedgerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultLedgerConfig returns the settings used when none are configured.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		BufferSize:    1024,
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
	}
}

// flushTimeout bounds a single batch write.
const flushTimeout = 5 * time.Second

// AccessLedger appends QR accesses without blocking the caller. Records are
// buffered and written in batches by one background goroutine. When the
// buffer is full the record is dropped and counted.
type AccessLedger struct {
	store  repository.Store
	cfg    LedgerConfig
	logger *slog.Logger

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	ch     chan domain.QRAccess
	done   chan struct{}
}

// NewAccessLedger starts the writer goroutine. Call Close to drain it.
func NewAccessLedger(store repository.Store, cfg LedgerConfig, logger *slog.Logger) *AccessLedger {
	def := DefaultLedgerConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	l := &AccessLedger{
		store:  store,
		cfg:    cfg,
		logger: logger,
		ch:     make(chan domain.QRAccess, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues one access. It never blocks.
func (l *AccessLedger) Record(access domain.QRAccess) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		metrics.LedgerRecords.WithLabelValues("dropped").Inc()
		return
	}
	select {
	case l.ch <- access:
	default:
		metrics.LedgerRecords.WithLabelValues("dropped").Inc()
		l.logger.Warn("access ledger buffer full, record dropped", "qr_code", access.QRCode)
	}
}

// Close stops accepting records and waits until the buffer is written or
// ctx expires.
func (l *AccessLedger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *AccessLedger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.QRAccess, 0, l.cfg.BatchSize)
	for {
		select {
		case access, ok := <-l.ch:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, access)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *AccessLedger) flush(batch []domain.QRAccess) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := l.store.ExecTx(ctx, func(q repository.Querier) error {
		for _, a := range batch {
			err := q.InsertQRAccess(ctx, repository.InsertQRAccessParams{
				QrCode:     a.QRCode,
				AccessedAt: a.AccessedAt,
				IpAddress:  inetFromString(a.IPAddress),
				UserAgent:  domain.ToNullString(truncate(a.UserAgent, 512)),
				Location:   domain.ToNullString(truncate(a.Location, 255)),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.LedgerRecords.WithLabelValues("failed").Add(float64(len(batch)))
		l.logger.Error("failed to write access ledger batch", "records", len(batch), "error", err)
		return
	}
	metrics.LedgerRecords.WithLabelValues("written").Add(float64(len(batch)))
}

// Stats returns the access count of a normalized code and its most recent
// accesses.
func (l *AccessLedger) Stats(ctx context.Context, code string, limit int32) (*domain.QRAccessStats, error) {
	const op = "AccessLedger.Stats"

	total, err := l.store.CountQRAccesses(ctx, code)
	if err != nil {
		return nil, storeError(op, err)
	}
	rows, err := l.store.ListRecentQRAccesses(ctx, repository.ListRecentQRAccessesParams{
		QrCode: code,
		Limit:  clampLimit(limit),
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	stats := &domain.QRAccessStats{QRCode: code, Total: total, Recent: make([]domain.QRAccess, 0, len(rows))}
	for _, r := range rows {
		stats.Recent = append(stats.Recent, accessFromRow(r))
	}
	return stats, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
