// Package brokertest provides a behaviour suite shared by core.Broker
// implementations.
package brokertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a connected broker and a function that moves the broker's
// clock forward.
type Factory func(t *testing.T) (b core.Broker, advance func(time.Duration))

// Clock is a manually advanced clock for broker tests
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func enqueue(t *testing.T, b core.Broker, queue, name string, opts ...job.Option) string {
	t.Helper()
	j, err := job.New(queue, name, map[string]string{"name": name}, opts...)
	require.NoError(t, err)
	id, err := b.Enqueue(context.Background(), j)
	require.NoError(t, err)
	return id
}

// Run executes the suite against brokers built by factory
func Run(t *testing.T, factory Factory) {
	t.Run("EnqueueAssignsIDs", func(t *testing.T) {
		b, _ := factory(t)
		first := enqueue(t, b, "video-processing", "a")
		second := enqueue(t, b, "video-processing", "b")
		assert.NotEmpty(t, first)
		assert.NotEqual(t, first, second)

		j, err := b.GetJob(context.Background(), "video-processing", first)
		require.NoError(t, err)
		assert.Equal(t, job.StateWaiting, j.State)
		assert.Equal(t, "a", j.Name)
		assert.JSONEq(t, `{"name":"a"}`, string(j.Payload))
		assert.Equal(t, 1, j.MaxAttempts)
		assert.False(t, j.CreatedAt.IsZero())
	})

	t.Run("DequeueFIFO", func(t *testing.T) {
		b, _ := factory(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			enqueue(t, b, "q", fmt.Sprintf("job-%d", i))
		}

		for i := 0; i < 3; i++ {
			j, err := b.Dequeue(ctx, "q")
			require.NoError(t, err)
			require.NotNil(t, j)
			assert.Equal(t, fmt.Sprintf("job-%d", i), j.Name)
			assert.Equal(t, job.StateActive, j.State)
			assert.Equal(t, 1, j.Attempts)
		}

		j, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		assert.Nil(t, j)
	})

	t.Run("DequeueUnknownQueue", func(t *testing.T) {
		b, _ := factory(t)
		j, err := b.Dequeue(context.Background(), "nothing-here")
		require.NoError(t, err)
		assert.Nil(t, j)
	})

	t.Run("ExclusiveClaim", func(t *testing.T) {
		b, _ := factory(t)
		const total = 20
		for i := 0; i < total; i++ {
			enqueue(t, b, "q", fmt.Sprintf("job-%d", i))
		}

		var (
			mu      sync.Mutex
			claimed = make(map[string]int)
			wg      sync.WaitGroup
		)
		for w := 0; w < 5; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					j, err := b.Dequeue(context.Background(), "q")
					if err != nil || j == nil {
						return
					}
					mu.Lock()
					claimed[j.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, total)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})

	t.Run("AckCompletes", func(t *testing.T) {
		b, _ := factory(t)
		ctx := context.Background()
		id := enqueue(t, b, "q", "a")

		j, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, b.Ack(ctx, j))
		assert.Equal(t, job.StateCompleted, j.State)
		assert.False(t, j.FinishedAt.IsZero())

		stored, err := b.GetJob(ctx, "q", id)
		require.NoError(t, err)
		assert.Equal(t, job.StateCompleted, stored.State)

		// a finished job cannot be acknowledged twice
		assert.Error(t, b.Ack(ctx, j))
	})

	t.Run("NackWithoutRetryFails", func(t *testing.T) {
		b, _ := factory(t)
		ctx := context.Background()
		enqueue(t, b, "q", "a")

		j, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, b.Nack(ctx, j, fmt.Errorf("transcode failed")))
		assert.Equal(t, job.StateFailed, j.State)
		assert.Equal(t, "transcode failed", j.FailedReason)

		counts, err := b.Counts(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Failed)
		assert.Equal(t, int64(0), counts.Active)
	})

	t.Run("NackRetriesWithBackoff", func(t *testing.T) {
		b, advance := factory(t)
		ctx := context.Background()
		id := enqueue(t, b, "q", "a", job.WithAttempts(3), job.WithBackoff(time.Second))

		j, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, b.Nack(ctx, j, fmt.Errorf("boom")))
		assert.Equal(t, job.StateDelayed, j.State)

		// not due yet
		next, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		assert.Nil(t, next)

		advance(time.Second)
		next, err = b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, id, next.ID)
		assert.Equal(t, 2, next.Attempts)

		// second failure doubles the delay
		require.NoError(t, b.Nack(ctx, next, fmt.Errorf("boom")))
		advance(time.Second)
		none, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		assert.Nil(t, none)

		advance(time.Second)
		last, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, 3, last.Attempts)

		require.NoError(t, b.Nack(ctx, last, fmt.Errorf("boom")))
		assert.Equal(t, job.StateFailed, last.State)
	})

	t.Run("CountsTotal", func(t *testing.T) {
		b, _ := factory(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			enqueue(t, b, "q", fmt.Sprintf("job-%d", i))
		}

		first, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, b.Ack(ctx, first))
		second, err := b.Dequeue(ctx, "q")
		require.NoError(t, err)
		require.NoError(t, b.Nack(ctx, second, nil))
		_, err = b.Dequeue(ctx, "q")
		require.NoError(t, err)

		counts, err := b.Counts(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, job.Counts{Waiting: 2, Active: 1, Completed: 1, Failed: 1}, counts)
		assert.Equal(t, int64(5), counts.Total())
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		b, _ := factory(t)
		_, err := b.GetJob(context.Background(), "q", "404")
		assert.ErrorIs(t, err, errors.ErrJobNotFound)
	})

	t.Run("EmptyQueueName", func(t *testing.T) {
		b, _ := factory(t)
		_, err := b.Enqueue(context.Background(), &job.Job{Name: "x"})
		assert.ErrorIs(t, err, errors.ErrEmptyQueueName)
	})
}
