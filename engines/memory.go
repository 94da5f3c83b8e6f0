package engines

import (
	memoryBroker "github.com/BranchIntl/relayq/brokers/memory"
	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/registry"
	"github.com/BranchIntl/relayq/statistics/noop"
	storeStats "github.com/BranchIntl/relayq/statistics/store"
	memoryStore "github.com/BranchIntl/relayq/store/memory"
)

// MemoryOptions holds configuration for the in-process engine
type MemoryOptions struct {
	StoreOptions  memoryStore.Options
	BrokerOptions memoryBroker.Options
	EngineOptions []core.EngineOption

	// DisableStatistics swaps the processed/failed counters for a backend
	// that records nothing
	DisableStatistics bool
}

// DefaultMemoryOptions returns default options for the in-process engine
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		StoreOptions:  memoryStore.DefaultOptions(),
		BrokerOptions: memoryBroker.DefaultOptions(),
		EngineOptions: []core.EngineOption{},
	}
}

// MemoryEngine keeps everything in process. Jobs do not survive a restart.
type MemoryEngine struct {
	bundle
}

// NewMemoryEngine creates a new in-process engine
func NewMemoryEngine(options MemoryOptions) *MemoryEngine {
	s := memoryStore.NewStore(options.StoreOptions)
	broker := memoryBroker.NewBroker(options.BrokerOptions)
	var stats core.Statistics = noop.NewStatistics()
	if !options.DisableStatistics {
		stats = storeStats.NewStatistics(s, storeStats.DefaultOptions())
	}
	reg := registry.NewRegistry()

	engineOptions := append([]core.EngineOption{core.WithLimiterStore(s)}, options.EngineOptions...)

	return &MemoryEngine{bundle{
		engine:   core.NewEngine(broker, stats, reg, engineOptions...),
		store:    s,
		broker:   broker,
		stats:    stats,
		registry: reg,
		name:     "MemoryEngine",
	}}
}
