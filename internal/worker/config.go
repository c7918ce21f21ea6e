package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the automated review worker.
type Config struct {
	// Concurrency is the number of worker goroutines to run in parallel.
	// Each goroutine claims and reviews entries independently.
	// Default: 2
	Concurrency int

	// PollInterval is how often each worker checks the queue when idle.
	// Default: 5 seconds
	PollInterval time.Duration

	// JobTimeout is the maximum time a single review is allowed to run.
	// If a review exceeds this timeout its context is canceled and the
	// entry is failed.
	// Default: 5 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long to wait for running reviews to complete
	// during graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// StaleJobThreshold defines how long an entry may stay in progress
	// under ReviewerID before it's considered abandoned.
	// Default: 10 minutes
	StaleJobThreshold time.Duration

	// ReviewerID is the identity the worker claims entries under.
	// Default: "system"
	ReviewerID string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      5 * time.Second,
		JobTimeout:        5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
		ReviewerID:        "system",
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("poll interval must be at least 1 second, got %v", c.PollInterval)
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.StaleJobThreshold < 1*time.Minute {
		return fmt.Errorf("stale job threshold must be at least 1 minute, got %v", c.StaleJobThreshold)
	}
	if c.StaleJobThreshold <= c.JobTimeout {
		return fmt.Errorf("stale job threshold (%v) must exceed the job timeout (%v)", c.StaleJobThreshold, c.JobTimeout)
	}
	if c.ReviewerID == "" {
		return fmt.Errorf("reviewer id is required")
	}
	return nil
}
