package core

import (
	"testing"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store/memory"
	"github.com/stretchr/testify/assert"
)

func TestEngineOptions(t *testing.T) {
	s := memory.NewStore(memory.DefaultOptions())
	config := defaultConfig()

	WithShutdownTimeout(5 * time.Second)(config)
	WithPollInterval(time.Second)(config)
	WithLimiterStore(s)(config)
	WithNamespace("relayq:")(config)

	assert.Equal(t, 5*time.Second, config.ShutdownTimeout)
	assert.Equal(t, time.Second, config.PollInterval)
	assert.Same(t, s, config.LimiterStore)
	assert.Equal(t, "relayq:", config.Namespace)
}

func TestDefaultConfig(t *testing.T) {
	config := defaultConfig()
	assert.Equal(t, 30*time.Second, config.ShutdownTimeout)
	assert.Equal(t, "jobs:", config.Namespace)
	assert.Nil(t, config.LimiterStore)
}

func TestWorkerOptions(t *testing.T) {
	opts := DefaultWorkerOptions()
	assert.Equal(t, 1, opts.Concurrency)
	assert.Nil(t, opts.RateLimit)

	WithConcurrency(4)(&opts)
	WithRateLimit(1, 10*time.Second)(&opts)
	WithQueuePollInterval(time.Second)(&opts)

	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, &RateLimit{Max: 1, Window: 10 * time.Second}, opts.RateLimit)
	assert.Equal(t, time.Second, opts.PollInterval)
	assert.NoError(t, opts.Validate())
}

func TestWorkerOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts WorkerOptions
	}{
		{"zero concurrency", WorkerOptions{Concurrency: 0}},
		{"zero rate", WorkerOptions{Concurrency: 1, RateLimit: &RateLimit{Max: 0, Window: time.Second}}},
		{"zero window", WorkerOptions{Concurrency: 1, RateLimit: &RateLimit{Max: 1}}},
		{"negative poll", WorkerOptions{Concurrency: 1, PollInterval: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.opts.Validate(), errors.ErrInvalidConfig)
		})
	}
}
