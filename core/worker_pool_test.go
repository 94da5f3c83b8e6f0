package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessesAllJobs(t *testing.T) {
	setup := NewTestSetup()

	var mu sync.Mutex
	seen := make(map[string]bool)
	reg := Registration{
		Queue: "test-queue",
		Handler: func(ctx context.Context, j *job.Job) error {
			mu.Lock()
			seen[j.ID] = true
			mu.Unlock()
			return nil
		},
		Options: WorkerOptions{Concurrency: 3},
	}

	jobChan := make(chan *job.Job, 5)
	var releases int
	var releaseMu sync.Mutex
	pool := NewWorkerPool(reg, setup.Stats, setup.Broker, jobChan, func() {
		releaseMu.Lock()
		releases++
		releaseMu.Unlock()
	})
	assert.Len(t, pool.GetWorkerStats(), 3)

	jobs := make([]*job.Job, 0, 5)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		jobs = append(jobs, NewJob().WithID(id).Build())
	}
	SendJobsAndClose(jobChan, jobs...)

	require.NoError(t, pool.Start(context.Background()))

	assert.Len(t, seen, 5)
	assert.Equal(t, 5, releases)
	assert.Len(t, setup.Broker.GetAckedJobs(), 5)
	assert.Equal(t, 0, pool.ActiveWorkers())

	var processed int64
	for _, s := range pool.GetWorkerStats() {
		processed += s.Processed
	}
	assert.Equal(t, int64(5), processed)
}

func TestWorkerPool_DefaultsToOneWorker(t *testing.T) {
	setup := NewTestSetup()
	pool := NewWorkerPool(Registration{Queue: "q"}, setup.Stats, setup.Broker, make(chan *job.Job), nil)
	assert.Len(t, pool.GetWorkerStats(), 1)
}

func TestWorkerPool_ActiveWorkers(t *testing.T) {
	setup := NewTestSetup()
	jobChan := make(chan *job.Job)
	reg := Registration{Queue: "q", Options: WorkerOptions{Concurrency: 2}}
	pool := NewWorkerPool(reg, setup.Stats, setup.Broker, jobChan, nil)

	done := make(chan struct{})
	go func() {
		pool.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return pool.ActiveWorkers() == 2
	}, time.Second, 5*time.Millisecond)

	close(jobChan)
	<-done
	assert.Equal(t, 0, pool.ActiveWorkers())
}
