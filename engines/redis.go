package engines

import (
	redisBroker "github.com/BranchIntl/relayq/brokers/redis"
	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/registry"
	"github.com/BranchIntl/relayq/statistics/noop"
	storeStats "github.com/BranchIntl/relayq/statistics/store"
	redisStore "github.com/BranchIntl/relayq/store/redis"
)

// RedisOptions holds configuration for the Redis engine
type RedisOptions struct {
	RedisURI      string
	StoreOptions  redisStore.Options
	BrokerOptions redisBroker.Options
	EngineOptions []core.EngineOption

	// DisableStatistics swaps the processed/failed counters for a backend
	// that records nothing
	DisableStatistics bool
}

// DefaultRedisOptions returns default options for the Redis engine
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		RedisURI:      "redis://localhost:6379/",
		StoreOptions:  redisStore.DefaultOptions(),
		BrokerOptions: redisBroker.DefaultOptions(),
		EngineOptions: []core.EngineOption{},
	}
}

// RedisEngine keeps jobs, counters and relay traffic in one Redis
type RedisEngine struct {
	bundle
}

// NewRedisEngine creates a new Redis engine
func NewRedisEngine(options RedisOptions) *RedisEngine {
	// Override URI if provided
	if options.RedisURI != "" {
		options.StoreOptions.URI = options.RedisURI
		options.BrokerOptions.URI = options.RedisURI
	}

	s := redisStore.NewStore(options.StoreOptions)
	broker := redisBroker.NewBroker(options.BrokerOptions)

	var stats core.Statistics = noop.NewStatistics()
	if !options.DisableStatistics {
		statsOptions := storeStats.DefaultOptions()
		statsOptions.Namespace = options.BrokerOptions.Namespace
		stats = storeStats.NewStatistics(s, statsOptions)
	}

	reg := registry.NewRegistry()

	engineOptions := append([]core.EngineOption{
		core.WithLimiterStore(s),
		core.WithNamespace(options.BrokerOptions.Namespace),
	}, options.EngineOptions...)

	return &RedisEngine{bundle{
		engine:   core.NewEngine(broker, stats, reg, engineOptions...),
		store:    s,
		broker:   broker,
		stats:    stats,
		registry: reg,
		name:     "RedisEngine",
	}}
}
