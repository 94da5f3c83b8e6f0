package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/ratelimit"
)

// Engine is the main orchestration engine. It runs one poller and one worker
// pool per registered queue.
type Engine struct {
	broker   Broker
	stats    Statistics
	registry Registry
	config   *Config
	producer *Producer

	mu    sync.Mutex
	pools map[string]*WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new engine with dependency injection
func NewEngine(
	broker Broker,
	stats Statistics,
	registry Registry,
	options ...EngineOption,
) *Engine {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	return &Engine{
		broker:   broker,
		stats:    stats,
		registry: registry,
		config:   config,
		producer: NewProducer(broker),
		pools:    make(map[string]*WorkerPool),
	}
}

// Start connects the broker and statistics backend and begins processing
// every registered queue
func (e *Engine) Start(ctx context.Context) error {
	queues := e.registry.List()
	sort.Strings(queues)

	// Build limiters first so a bad registration fails before connecting
	limiters := make(map[string]Limiter, len(queues))
	for _, queue := range queues {
		reg, _ := e.registry.Get(queue)
		limiter, err := e.limiterFor(reg)
		if err != nil {
			return err
		}
		if limiter != nil {
			limiters[queue] = limiter
		}
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.broker.Connect(e.ctx); err != nil {
		return errors.NewConnectionError("",
			fmt.Errorf("failed to connect broker: %w", err))
	}

	if err := e.stats.Connect(e.ctx); err != nil {
		return errors.NewConnectionError("",
			fmt.Errorf("failed to connect statistics: %w", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, queue := range queues {
		reg, _ := e.registry.Get(queue)

		interval := e.config.PollInterval
		if reg.Options.PollInterval > 0 {
			interval = reg.Options.PollInterval
		}

		jobChan := make(chan *job.Job)
		var limiter Limiter
		if l, ok := limiters[queue]; ok {
			limiter = l
		}
		poller := NewPoller(e.broker, queue, interval, reg.Options.Concurrency, limiter, jobChan)
		pool := NewWorkerPool(reg, e.stats, e.broker, jobChan, poller.Release)
		e.pools[queue] = pool

		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			if err := poller.Start(e.ctx); err != nil {
				slog.Error("Poller error", "queue", queue, "error", err)
			}
		}()

		go func() {
			defer e.wg.Done()
			if err := pool.Start(e.ctx); err != nil {
				slog.Error("Worker pool error", "queue", queue, "error", err)
			}
		}()
	}

	slog.Info("Engine started", "queues", queues)
	return nil
}

// Stop gracefully shuts down the engine. In-flight jobs are given up to the
// shutdown timeout to finish.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped gracefully")
	case <-time.After(e.config.ShutdownTimeout):
		slog.Warn("Engine shutdown timeout exceeded")
	}

	if err := e.broker.Close(); err != nil {
		slog.Error("Error closing broker", "error", err)
	}

	if err := e.stats.Close(); err != nil {
		slog.Error("Error closing statistics", "error", err)
	}

	return nil
}

// Health returns the current health status
func (e *Engine) Health() HealthStatus {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	queues := make(map[string]job.Counts)
	for _, queue := range e.registry.List() {
		if counts, err := e.broker.Counts(ctx, queue); err == nil {
			queues[queue] = counts
		}
	}

	brokerHealth := e.broker.Health()
	statsHealth := e.stats.Health()

	return HealthStatus{
		Healthy:       brokerHealth == nil && statsHealth == nil,
		BrokerHealth:  brokerHealth,
		StatsHealth:   statsHealth,
		ActiveWorkers: e.ActiveWorkers(),
		Queues:        queues,
		LastCheck:     time.Now(),
	}
}

// ActiveWorkers returns the number of running workers across all queues
func (e *Engine) ActiveWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for _, pool := range e.pools {
		total += pool.ActiveWorkers()
	}
	return total
}

// Enqueue adds a job to a queue
func (e *Engine) Enqueue(ctx context.Context, queue, name string, payload any, opts ...job.Option) (string, error) {
	return e.producer.Enqueue(ctx, queue, name, payload, opts...)
}

// Producer returns the engine's producer
func (e *Engine) Producer() *Producer {
	return e.producer
}

// Broker returns the engine's broker
func (e *Engine) Broker() Broker {
	return e.broker
}

// Register adds a handler for a queue
func (e *Engine) Register(queue string, handler HandlerFunc, options ...WorkerOption) error {
	return e.registry.Register(queue, handler, options...)
}

// Run starts the engine and blocks until shutdown signals are received
// This is a convenience method that combines Start() + signal handling + Stop()
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	}

	return e.Stop()
}

func (e *Engine) limiterFor(reg Registration) (Limiter, error) {
	if reg.Options.RateLimit == nil {
		return nil, nil
	}
	if e.config.LimiterStore == nil {
		return nil, fmt.Errorf("%w: queue %s has a rate limit but no limiter store is configured",
			errors.ErrInvalidConfig, reg.Queue)
	}
	key := e.config.Namespace + reg.Queue + ":limiter"
	return ratelimit.NewFixedWindow(e.config.LimiterStore, key,
		reg.Options.RateLimit.Max, reg.Options.RateLimit.Window), nil
}
