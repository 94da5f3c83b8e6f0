package core

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/BranchIntl/relayq/job"
)

// WorkerPool runs the workers of one queue
type WorkerPool struct {
	registration  Registration
	stats         Statistics
	broker        Broker
	jobChan       <-chan *job.Job
	release       func()
	activeWorkers int32
	workers       []*Worker
	wg            sync.WaitGroup
}

// NewWorkerPool creates a worker pool sized by the registration's
// concurrency. release is called after each job.
func NewWorkerPool(
	registration Registration,
	stats Statistics,
	broker Broker,
	jobChan <-chan *job.Job,
	release func(),
) *WorkerPool {
	concurrency := registration.Options.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	wp := &WorkerPool{
		registration: registration,
		stats:        stats,
		broker:       broker,
		jobChan:      jobChan,
		release:      release,
		workers:      make([]*Worker, 0, concurrency),
	}
	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, NewWorker(
			registration.Queue+"-"+strconv.Itoa(i),
			registration.Queue,
			registration.Handler,
			stats,
			broker,
		))
	}
	return wp
}

// Start processes jobs until the job channel is closed
func (wp *WorkerPool) Start(ctx context.Context) error {
	slog.Info("Starting worker pool", "queue", wp.registration.Queue, "workers", len(wp.workers))

	for _, worker := range wp.workers {
		wp.wg.Add(1)
		go func(w *Worker) {
			defer wp.wg.Done()
			atomic.AddInt32(&wp.activeWorkers, 1)
			defer atomic.AddInt32(&wp.activeWorkers, -1)

			if err := w.Work(ctx, wp.jobChan, wp.release); err != nil {
				slog.Error("Worker error", "error", err)
			}
		}(worker)
	}

	wp.wg.Wait()
	slog.Info("Worker pool stopped", "queue", wp.registration.Queue)
	return nil
}

// ActiveWorkers returns the number of running workers
func (wp *WorkerPool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&wp.activeWorkers))
}

// GetWorkerStats returns statistics for all workers
func (wp *WorkerPool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, 0, len(wp.workers))
	for _, worker := range wp.workers {
		stats = append(stats, worker.GetStats())
	}
	return stats
}
