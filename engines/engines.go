// Package engines provides pre-wired engine setups. Each bundles a shared
// store, a job broker, statistics and a registry into a ready core.Engine.
//
// The engines package offers two configurations:
//
//   - RedisEngine: store, broker and statistics on Redis, for multi-process
//     deployments
//   - MemoryEngine: everything in process, for a single node or tests
//
// Example usage:
//
//	engine := engines.NewRedisEngine(engines.DefaultRedisOptions())
//	engine.Register("video-processing", handler)
//	engine.Run(ctx)
package engines

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/registry"
	"github.com/BranchIntl/relayq/store"
)

// bundle holds the components shared by every engine setup
type bundle struct {
	engine   *core.Engine
	store    store.Store
	broker   core.Broker
	stats    core.Statistics
	registry *registry.Registry
	name     string
}

// Register adds a handler for a queue
func (b *bundle) Register(queue string, handler core.HandlerFunc, options ...core.WorkerOption) error {
	return b.registry.Register(queue, handler, options...)
}

// Connect connects the shared store. Start calls it; components that only
// need the store, such as the HTTP surface, may call it alone.
func (b *bundle) Connect(ctx context.Context) error {
	if err := b.store.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect store: %w", err)
	}
	return nil
}

// Start connects the store and begins processing registered queues
func (b *bundle) Start(ctx context.Context) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	if err := b.engine.Start(ctx); err != nil {
		b.store.Close()
		return err
	}
	return nil
}

// Stop gracefully shuts down the engine and closes the store
func (b *bundle) Stop() error {
	if err := b.engine.Stop(); err != nil {
		return err
	}
	if err := b.store.Close(); err != nil {
		slog.Error("Error closing store", "engine", b.name, "error", err)
	}
	return nil
}

// Run starts the engine and blocks until ctx ends or a shutdown signal arrives
func (b *bundle) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...", "engine", b.name)
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "engine", b.name, "signal", sig)
	}

	return b.Stop()
}

// MustStart begins processing and panics on error
func (b *bundle) MustStart(ctx context.Context) {
	if err := b.Start(ctx); err != nil {
		panic(fmt.Sprintf("%s.Start failed: %v", b.name, err))
	}
}

// Health returns the engine health status
func (b *bundle) Health() core.HealthStatus {
	return b.engine.Health()
}

// Component accessors

// Engine returns the core engine
func (b *bundle) Engine() *core.Engine {
	return b.engine
}

// Store returns the shared store
func (b *bundle) Store() store.Store {
	return b.store
}

// Broker returns the job broker
func (b *bundle) Broker() core.Broker {
	return b.broker
}

// Statistics returns the statistics backend
func (b *bundle) Statistics() core.Statistics {
	return b.stats
}

// Registry returns the handler registry
func (b *bundle) Registry() *registry.Registry {
	return b.registry
}
