package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test handlers for testing
func testHandler1(ctx context.Context, j *job.Job) error {
	return nil
}

func testHandler2(ctx context.Context, j *job.Job) error {
	return nil
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name      string
		queue     string
		handler   core.HandlerFunc
		options   []core.WorkerOption
		expectErr error
	}{
		{
			name:    "valid registration",
			queue:   "video-processing",
			handler: testHandler1,
		},
		{
			name:      "empty queue name",
			queue:     "",
			handler:   testHandler1,
			expectErr: errors.ErrEmptyQueueName,
		},
		{
			name:      "nil handler",
			queue:     "video-processing",
			handler:   nil,
			expectErr: errors.ErrNilHandler,
		},
		{
			name:      "invalid concurrency",
			queue:     "notification",
			handler:   testHandler1,
			options:   []core.WorkerOption{core.WithConcurrency(0)},
			expectErr: errors.ErrInvalidConfig,
		},
		{
			name:      "invalid rate limit",
			queue:     "notification",
			handler:   testHandler1,
			options:   []core.WorkerOption{core.WithRateLimit(0, time.Second)},
			expectErr: errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()

			err := registry.Register(tt.queue, tt.handler, tt.options...)

			if tt.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Empty(t, registry.List())
			} else {
				require.NoError(t, err)

				reg, found := registry.Get(tt.queue)
				assert.True(t, found)
				assert.NotNil(t, reg.Handler)
				assert.Equal(t, tt.queue, reg.Queue)
			}
		})
	}
}

func TestRegistry_Options(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("video-processing", testHandler1))
	require.NoError(t, registry.Register("notification", testHandler2,
		core.WithConcurrency(1), core.WithRateLimit(1, 10*time.Second)))

	video, _ := registry.Get("video-processing")
	assert.Equal(t, core.DefaultWorkerOptions(), video.Options)

	notification, _ := registry.Get("notification")
	assert.Equal(t, 1, notification.Options.Concurrency)
	require.NotNil(t, notification.Options.RateLimit)
	assert.Equal(t, int64(1), notification.Options.RateLimit.Max)
	assert.Equal(t, 10*time.Second, notification.Options.RateLimit.Window)
}

func TestRegistry_BasicOperations(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("video-processing", testHandler1))
	require.NoError(t, registry.Register("notification", testHandler2))

	_, found := registry.Get("video-processing")
	assert.True(t, found)

	_, found = registry.Get("missing")
	assert.False(t, found)

	assert.Equal(t, []string{"notification", "video-processing"}, registry.List())

	registry.Remove("notification")
	assert.Equal(t, []string{"video-processing"}, registry.List())

	registry.Clear()
	assert.Empty(t, registry.List())
}

func TestRegistry_Overwrite(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("q", testHandler1, core.WithConcurrency(2)))
	require.NoError(t, registry.Register("q", testHandler2))

	reg, _ := registry.Get("q")
	assert.Equal(t, 1, reg.Options.Concurrency)
	assert.Len(t, registry.List(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = registry.Register("q", testHandler1)
		}()
		go func() {
			defer wg.Done()
			registry.Get("q")
			registry.List()
		}()
	}
	wg.Wait()

	_, found := registry.Get("q")
	assert.True(t, found)
}
