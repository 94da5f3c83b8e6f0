package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/BranchIntl/relayq/core"
	relayqErrors "github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/store/memory"
	redisstore "github.com/BranchIntl/relayq/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStatistics(t *testing.T) (*StoreStatistics, *memory.MemoryStore) {
	s := memory.NewStore(memory.DefaultOptions())
	stats := NewStatistics(s, Options{Namespace: "jobs:", OwnsStore: true})
	require.NoError(t, stats.Connect(context.Background()))
	t.Cleanup(func() { stats.Close() })
	return stats, s
}

func TestStoreStatistics_Counters(t *testing.T) {
	stats, _ := newMemoryStatistics(t)
	ctx := context.Background()
	worker := core.WorkerInfo{ID: "host:1-notification-0", Queue: "notification", Started: time.Now()}

	require.NoError(t, stats.RegisterWorker(ctx, worker))

	for i := 0; i < 3; i++ {
		j := &job.Job{ID: "1", Queue: "notification"}
		require.NoError(t, stats.RecordJobStarted(ctx, j, worker))
		require.NoError(t, stats.RecordJobCompleted(ctx, j, worker, time.Millisecond))
	}
	j := &job.Job{ID: "2", Queue: "video-processing"}
	require.NoError(t, stats.RecordJobFailed(ctx, j, worker, errors.New("boom"), time.Millisecond))

	queueStats, err := stats.GetQueueStats(ctx, "notification")
	require.NoError(t, err)
	assert.Equal(t, core.QueueStats{Name: "notification", Processed: 3, Failed: 0}, queueStats)

	queueStats, err = stats.GetQueueStats(ctx, "video-processing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), queueStats.Failed)

	global, err := stats.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.GlobalStats{TotalProcessed: 3, TotalFailed: 1, ActiveWorkers: 1}, global)

	require.NoError(t, stats.UnregisterWorker(ctx, worker.ID))
	global, err = stats.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), global.ActiveWorkers)
}

func TestStoreStatistics_WorkerKeys(t *testing.T) {
	stats, s := newMemoryStatistics(t)
	ctx := context.Background()
	worker := core.WorkerInfo{ID: "w1", Queue: "notification"}

	require.NoError(t, stats.RegisterWorker(ctx, worker))
	_, ok, err := s.Get(ctx, "jobs:worker:w1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, stats.RecordJobStarted(ctx, &job.Job{ID: "9", Queue: "notification"}, worker))
	current, ok, err := s.Get(ctx, "jobs:worker:w1:job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, current, `"id":"9"`)

	require.NoError(t, stats.RecordJobCompleted(ctx, &job.Job{ID: "9", Queue: "notification"}, worker, 0))
	_, ok, err = s.Get(ctx, "jobs:worker:w1:job")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, stats.UnregisterWorker(ctx, "w1"))
	_, ok, err = s.Get(ctx, "jobs:worker:w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreStatistics_CorruptCounter(t *testing.T) {
	stats, s := newMemoryStatistics(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "jobs:stat:processed:q", "lots", 0))

	_, err := stats.GetQueueStats(ctx, "q")
	var storeErr *relayqErrors.StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestStoreStatistics_SharedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := redisstore.DefaultOptions()
	opts.URI = "redis://" + mr.Addr()

	newStats := func() *StoreStatistics {
		stats := NewStatistics(redisstore.NewStore(opts), Options{Namespace: "jobs:", OwnsStore: true})
		require.NoError(t, stats.Connect(context.Background()))
		t.Cleanup(func() { stats.Close() })
		return stats
	}
	a, b := newStats(), newStats()
	ctx := context.Background()
	worker := core.WorkerInfo{ID: "w"}

	require.NoError(t, a.RecordJobCompleted(ctx, &job.Job{Queue: "notification"}, worker, 0))
	require.NoError(t, b.RecordJobCompleted(ctx, &job.Job{Queue: "notification"}, worker, 0))

	queueStats, err := a.GetQueueStats(ctx, "notification")
	require.NoError(t, err)
	assert.Equal(t, int64(2), queueStats.Processed)

	v, err := mr.Get("jobs:stat:processed")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestStoreStatistics_NotOwned(t *testing.T) {
	s := memory.NewStore(memory.DefaultOptions())
	stats := NewStatistics(s, DefaultOptions())

	require.NoError(t, stats.Connect(context.Background()))
	assert.Error(t, stats.Health(), "store is not connected by statistics it does not own")
	assert.Equal(t, "store", stats.Type())
}
