package main

import (
	"context"
	"fmt"

	"github.com/BranchIntl/relayq/cache"
	"github.com/BranchIntl/relayq/catalog"
	"github.com/BranchIntl/relayq/config"
	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/engines"
	"github.com/BranchIntl/relayq/pipeline"
	"github.com/BranchIntl/relayq/pubsub/rabbitmq"
	"github.com/BranchIntl/relayq/ratelimit"
	"github.com/BranchIntl/relayq/relay"
	"github.com/BranchIntl/relayq/server"
	"github.com/BranchIntl/relayq/state"
	"github.com/BranchIntl/relayq/store"
)

// engineBundle is satisfied by engines.RedisEngine and engines.MemoryEngine
type engineBundle interface {
	Register(queue string, handler core.HandlerFunc, options ...core.WorkerOption) error
	Start(ctx context.Context) error
	Stop() error
	Run(ctx context.Context) error
	Engine() *core.Engine
	Store() store.Store
	Broker() core.Broker
	Statistics() core.Statistics
}

// app holds the components built from the configuration
type app struct {
	cfg      *config.Config
	engine   engineBundle
	pipeline *pipeline.Pipeline
}

func newApp(c *config.Config) *app {
	engineOptions := []core.EngineOption{
		core.WithPollInterval(c.Engine.PollInterval),
		core.WithShutdownTimeout(c.Engine.ShutdownTimeout),
	}

	var e engineBundle
	if c.Memory {
		options := engines.DefaultMemoryOptions()
		options.EngineOptions = engineOptions
		options.DisableStatistics = c.Engine.DisableStatistics
		e = engines.NewMemoryEngine(options)
	} else {
		options := engines.DefaultRedisOptions()
		options.RedisURI = c.Redis.URI
		options.StoreOptions.MaxConnections = c.Redis.MaxActive
		options.StoreOptions.MaxIdle = c.Redis.MaxIdle
		options.BrokerOptions.MaxConnections = c.Redis.MaxActive
		options.BrokerOptions.MaxIdle = c.Redis.MaxIdle
		options.BrokerOptions.Namespace = c.Redis.Namespace
		options.EngineOptions = engineOptions
		options.DisableStatistics = c.Engine.DisableStatistics
		e = engines.NewRedisEngine(options)
	}

	return &app{
		cfg:      c,
		engine:   e,
		pipeline: pipeline.New(e.Engine(), nil, pipelineOptions(c.Pipeline)),
	}
}

func pipelineOptions(c config.PipelineConfig) pipeline.Options {
	o := pipeline.DefaultOptions()
	o.TranscodeDelay = c.TranscodeDelay
	o.VideoConcurrency = c.VideoConcurrency
	o.NotificationConcurrency = c.NotificationConcurrency
	o.NotificationRateLimit = core.RateLimit{Max: c.NotificationLimit, Window: c.NotificationWindow}
	o.Attempts = c.Attempts
	o.Backoff = c.Backoff
	return o
}

// registerWorkers adds the pipeline stages to the engine
func (a *app) registerWorkers() error {
	return a.pipeline.Register(a.engine)
}

// frontend is the HTTP server with the relay and the bus it runs on
type frontend struct {
	server *server.Server
	relay  *relay.Relay
	bus    *rabbitmq.RabbitBus
}

func (f *frontend) Close() {
	f.relay.Close()
	if f.bus != nil {
		f.bus.Close()
	}
}

// newFrontend builds the relay and HTTP surface. The engine must be started.
func (a *app) newFrontend(ctx context.Context) (*frontend, error) {
	s := a.engine.Store()

	st := state.NewStore(s, state.Options{Key: a.cfg.Relay.StateKey, Size: a.cfg.Relay.StateSize})
	if _, err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	f := &frontend{}
	var bus store.Bus = s
	if a.cfg.Bus.Type == "rabbitmq" {
		options := rabbitmq.DefaultOptions()
		options.URI = a.cfg.Bus.RabbitMQURI
		f.bus = rabbitmq.NewBus(options)
		if err := f.bus.Connect(ctx); err != nil {
			return nil, err
		}
		bus = f.bus
	}

	f.relay = relay.New(bus, st, relay.Options{
		Channel:      a.cfg.Relay.Channel,
		ClientBuffer: a.cfg.Relay.ClientBuffer,
	})
	if err := f.relay.Start(ctx); err != nil {
		if f.bus != nil {
			f.bus.Close()
		}
		return nil, err
	}

	catalogOptions := catalog.DefaultOptions()
	catalogOptions.BaseURL = a.cfg.Catalog.BaseURL
	catalogOptions.Timeout = a.cfg.Catalog.Timeout
	catalogOptions.RequestsPerSecond = a.cfg.Catalog.RequestsPerSecond
	catalogOptions.MaxPages = a.cfg.Catalog.MaxPages
	books := catalog.NewClient(catalogOptions)

	health := map[string]server.HealthChecker{
		"store":  s,
		"broker": a.engine.Broker(),
	}
	if f.bus != nil {
		health["bus"] = f.bus
	}

	deps := server.Deps{
		Videos: a.pipeline,
		Broker: a.engine.Broker(),
		Stats:  a.engine.Statistics(),
		State:  st,
		Relay:  f.relay,
		Books:  books,
		Pages:  cache.New(s, books, cache.Options{Key: a.cfg.Cache.Key, TTL: a.cfg.Cache.TTL}),
		Health: health,
	}
	if a.cfg.RateLimit.Enabled {
		deps.Limiter = ratelimit.NewFixedWindow(s, a.cfg.RateLimit.Key, a.cfg.RateLimit.Limit, a.cfg.RateLimit.Window)
	}

	f.server = server.New(deps, server.Options{
		Addr:      a.cfg.HTTP.Addr(),
		StaticDir: a.cfg.HTTP.StaticDir,
	})
	return f, nil
}
