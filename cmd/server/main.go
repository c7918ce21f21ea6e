package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/decomontenegro/truelabel/internal"
	"github.com/decomontenegro/truelabel/internal/compliance"
	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/events"
	"github.com/decomontenegro/truelabel/internal/handler"
	"github.com/decomontenegro/truelabel/internal/jobs"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/middleware"
	"github.com/decomontenegro/truelabel/internal/repository"
	"github.com/decomontenegro/truelabel/internal/service"
	"github.com/decomontenegro/truelabel/internal/storage"
	"github.com/decomontenegro/truelabel/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	store := repository.NewStore(db, repository.DefaultRetryConfig(), logger)

	// ==========================================================================
	// Object storage and rule table
	// ==========================================================================

	objects, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	registry, err := compliance.NewRegistry(objects, cfg.RulesKey, logger)
	if err != nil {
		return fmt.Errorf("rule table initialization failed: %w", err)
	}
	if _, err := registry.Reload(ctx); err != nil {
		// Keep serving the embedded table until the next scheduled reload.
		logger.Warn("Stored rule table not loaded", "error", err)
	}
	logger.Info("Rule table ready", "version", registry.Current().Version(), "rules", registry.Current().RuleCount())

	// ==========================================================================
	// Outbound events
	// ==========================================================================

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.RedisURL != "" {
		client, err := events.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		publisher = events.NewRedisPublisher(client, cfg.EventsStream)
		logger.Info("Publishing events to Redis", "stream", cfg.EventsStream)
	}
	dispatcher := events.NewDispatcher(publisher, cfg.EventsBuffer, logger)

	// ==========================================================================
	// Services
	// ==========================================================================

	ledger := service.NewAccessLedger(store, service.LedgerConfig{
		BufferSize:    cfg.LedgerBufferSize,
		BatchSize:     cfg.LedgerBatchSize,
		FlushInterval: cfg.LedgerFlushInterval,
	}, logger)

	productService := service.NewProductService(store, objects, logger, service.SystemClock)
	queueService := service.NewQueueService(store, dispatcher, service.QueueConfig{
		Retry: domain.RetryPolicy{
			MaxAttempts: cfg.QueueMaxAttempts,
			BaseDelay:   cfg.QueueRetryBaseDelay,
			MaxDelay:    cfg.QueueRetryMaxDelay,
		},
	}, logger, service.SystemClock)
	qrService := service.NewQRService(store, ledger, logger, service.SystemClock)
	complianceService := service.NewComplianceService(registry, logger)

	// ==========================================================================
	// Automated review lane and periodic tasks
	// ==========================================================================

	var reviewWorker *worker.Worker
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.Concurrency = cfg.WorkerConcurrency
		workerCfg.PollInterval = cfg.WorkerPollInterval
		workerCfg.JobTimeout = cfg.WorkerJobTimeout
		workerCfg.StaleJobThreshold = cfg.WorkerStaleThreshold
		workerCfg.ReviewerID = service.SystemActor

		reviewWorker, err = worker.New(queueService, jobs.NewAutoReviewHandler(queueService, registry, logger), workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
	}

	scheduler := worker.NewScheduler(logger)
	tasks := []worker.Task{
		{
			Name:     "queue-sweep",
			Schedule: cfg.QueueSweepSchedule,
			Run: func(ctx context.Context) error {
				_, err := queueService.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "rules-reload",
			Schedule: cfg.RulesReloadSchedule,
			Run: func(ctx context.Context) error {
				_, err := complianceService.ReloadRules(ctx)
				return err
			},
		},
	}
	if reviewWorker != nil {
		tasks = append(tasks, worker.Task{
			Name:     "stale-recovery",
			Schedule: cfg.WorkerRecoverySchedule,
			Run:      reviewWorker.RecoverStale,
		})
	}
	for _, task := range tasks {
		if err := scheduler.Add(task); err != nil {
			return fmt.Errorf("scheduler initialization failed: %w", err)
		}
	}

	// ==========================================================================
	// HTTP routes
	// ==========================================================================

	limiter := middleware.NewRateLimiter(cfg.PublicRateLimit, time.Minute, logger)
	defer limiter.Close()
	public := middleware.Stack(middleware.NewCORS(cfg.CORSAllowedOrigins), limiter.Limit)

	mux := http.NewServeMux()
	handler.NewHealthHandler(db, logger).RegisterRoutes(mux)
	handler.NewProductHandler(productService, logger).RegisterRoutes(mux)
	handler.NewQueueHandler(queueService, logger).RegisterRoutes(mux)
	handler.NewQRHandler(qrService, logger).RegisterRoutes(mux, public)
	handler.NewComplianceHandler(complianceService, logger).RegisterRoutes(mux)

	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(!cfg.IsDevelopment())
	root := middleware.Stack(
		middleware.Recoverer(logger),
		loggingMw.Handler,
		securityMw.Handler,
		metrics.Middleware,
	)(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// ==========================================================================
	// Start and supervise
	// ==========================================================================

	if reviewWorker != nil {
		reviewWorker.Start(ctx)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop intake first, then the producers of ledger records and
		// events, then drain those.
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
		if reviewWorker != nil {
			reviewWorker.Stop()
		}
		if err := ledger.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ledger drain: %w", err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event drain: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

// newStorage selects the object store for rule tables and report archives.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Region:          "auto",
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
