package core

import (
	"fmt"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
)

// Config holds engine configuration
type Config struct {
	ShutdownTimeout time.Duration
	PollInterval    time.Duration

	// LimiterStore holds the per-queue rate limit counters. Required when
	// any registered queue has a rate limit.
	LimiterStore store.Store

	// Namespace prefixes limiter keys
	Namespace string
}

// EngineOption is a function that modifies engine configuration
type EngineOption func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		ShutdownTimeout: 30 * time.Second,
		PollInterval:    500 * time.Millisecond,
		Namespace:       "jobs:",
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout
func WithShutdownTimeout(d time.Duration) EngineOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithPollInterval sets how long an idle queue waits before polling again
func WithPollInterval(d time.Duration) EngineOption {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithLimiterStore sets the store backing queue rate limits
func WithLimiterStore(s store.Store) EngineOption {
	return func(c *Config) {
		c.LimiterStore = s
	}
}

// WithNamespace sets the key prefix of limiter counters
func WithNamespace(ns string) EngineOption {
	return func(c *Config) {
		c.Namespace = ns
	}
}

// RateLimit allows at most Max job claims per Window for a queue
type RateLimit struct {
	Max    int64
	Window time.Duration
}

// WorkerOptions are the per-queue worker settings
type WorkerOptions struct {
	// Concurrency is the maximum number of jobs of the queue processed at once
	Concurrency int

	// RateLimit caps claims across every instance sharing the limiter store
	RateLimit *RateLimit

	// PollInterval overrides the engine poll interval when non-zero
	PollInterval time.Duration
}

// WorkerOption is a function that modifies worker options
type WorkerOption func(*WorkerOptions)

// DefaultWorkerOptions returns one worker without a rate limit
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency: 1,
	}
}

// Validate checks the worker options
func (o WorkerOptions) Validate() error {
	if o.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d",
			errors.ErrInvalidConfig, o.Concurrency)
	}
	if o.RateLimit != nil {
		if o.RateLimit.Max < 1 {
			return fmt.Errorf("%w: rate limit max must be at least 1, got %d",
				errors.ErrInvalidConfig, o.RateLimit.Max)
		}
		if o.RateLimit.Window <= 0 {
			return fmt.Errorf("%w: rate limit window must be positive, got %s",
				errors.ErrInvalidConfig, o.RateLimit.Window)
		}
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval must not be negative", errors.ErrInvalidConfig)
	}
	return nil
}

// WithConcurrency sets the number of concurrent workers for a queue
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		o.Concurrency = n
	}
}

// WithRateLimit allows at most max claims per window
func WithRateLimit(max int64, window time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.RateLimit = &RateLimit{Max: max, Window: window}
	}
}

// WithQueuePollInterval overrides the engine poll interval for a queue
func WithQueuePollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.PollInterval = d
	}
}
