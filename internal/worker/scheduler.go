package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/decomontenegro/truelabel/internal/metrics"
)

// taskTimeout bounds a single run of a scheduled task.
const taskTimeout = 5 * time.Minute

// Task is a periodic maintenance job.
type Task struct {
	Name     string
	Schedule string // Cron expression with a leading seconds field
	Run      func(ctx context.Context) error
}

// Scheduler runs Tasks on their cron schedules. A task that is still
// running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]cron.EntryID
}

// NewScheduler creates a scheduler with second precision in UTC.
func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		tasks:  make(map[string]cron.EntryID),
	}
}

// Add schedules task. An empty schedule disables it.
func (s *Scheduler) Add(task Task) error {
	if task.Schedule == "" {
		s.logger.Info("Scheduled task disabled", "task", task.Name)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %q already scheduled", task.Name)
	}
	id, err := s.cron.AddFunc(task.Schedule, func() { s.execute(task) })
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", task.Name, err)
	}
	s.tasks[task.Name] = id

	s.logger.Debug("Task scheduled", "task", task.Name, "schedule", task.Schedule, "next_run", s.cron.Entry(id).Next)
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop prevents new runs and waits for running tasks until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun reports when task fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tasks[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) execute(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	start := time.Now()
	err := task.Run(ctx)
	metrics.TaskRun(task.Name, err)
	if err != nil {
		s.logger.Error("Scheduled task failed", "task", task.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Scheduled task completed", "task", task.Name, "duration", time.Since(start))
}
