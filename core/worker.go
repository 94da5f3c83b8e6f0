package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
)

// Worker represents an individual worker
type Worker struct {
	id       string
	hostname string
	pid      int
	queue    string
	handler  HandlerFunc
	stats    Statistics
	broker   Broker

	// Statistics
	processed  int64
	failed     int64
	inProgress int64
	lastJob    atomic.Int64
	startTime  time.Time
}

// NewWorker creates a new worker for one queue
func NewWorker(
	id string,
	queue string,
	handler HandlerFunc,
	stats Statistics,
	broker Broker,
) *Worker {
	hostname, _ := os.Hostname()

	return &Worker{
		id:        id,
		hostname:  hostname,
		pid:       os.Getpid(),
		queue:     queue,
		handler:   handler,
		stats:     stats,
		broker:    broker,
		startTime: time.Now(),
	}
}

// GetID returns the worker's unique ID
func (w *Worker) GetID() string {
	return fmt.Sprintf("%s:%d-%s", w.hostname, w.pid, w.id)
}

func (w *Worker) info() WorkerInfo {
	return WorkerInfo{
		ID:       w.GetID(),
		Hostname: w.hostname,
		Pid:      w.pid,
		Queue:    w.queue,
		Started:  w.startTime,
	}
}

// Work processes jobs until the channel is closed. done is called after
// each job. Jobs already received finish even when ctx is cancelled.
func (w *Worker) Work(ctx context.Context, jobs <-chan *job.Job, done func()) error {
	ctx = context.WithoutCancel(ctx)

	if err := w.stats.RegisterWorker(ctx, w.info()); err != nil {
		slog.Error("Failed to register worker", "error", err)
	}

	defer func() {
		if err := w.stats.UnregisterWorker(ctx, w.GetID()); err != nil {
			slog.Error("Failed to unregister worker", "error", err)
		}
	}()

	slog.Info("Worker started", "id", w.GetID(), "queue", w.queue)

	for j := range jobs {
		w.processJob(ctx, j)
		if done != nil {
			done()
		}
	}

	slog.Info("Worker job channel closed", "id", w.GetID())
	return nil
}

// processJob handles a single job
func (w *Worker) processJob(ctx context.Context, j *job.Job) {
	startTime := time.Now()
	workerInfo := w.info()

	atomic.AddInt64(&w.inProgress, 1)
	defer atomic.AddInt64(&w.inProgress, -1)
	w.lastJob.Store(startTime.UnixNano())

	if err := w.stats.RecordJobStarted(ctx, j, workerInfo); err != nil {
		slog.Error("Failed to record job start", "error", err)
	}

	err := w.executeJob(ctx, j)

	if err != nil {
		w.handleJobError(ctx, j, workerInfo, err, startTime)
		if err := w.broker.Nack(ctx, j, err); err != nil {
			slog.Error("Failed to nack job", "queue", j.Queue, "id", j.ID, "error", err)
		}
		return
	}

	w.handleJobSuccess(ctx, j, workerInfo, startTime)
	if err := w.broker.Ack(ctx, j); err != nil {
		slog.Error("Failed to ack job", "queue", j.Queue, "id", j.ID, "error", err)
	}
}

// executeJob runs the handler with panic recovery
func (w *Worker) executeJob(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewHandlerError(j.Queue, j.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if w.handler == nil {
		return errors.NewHandlerError(j.Queue, j.ID, errors.ErrNilHandler)
	}

	if execErr := w.handler(ctx, j); execErr != nil {
		return errors.NewHandlerError(j.Queue, j.ID, execErr)
	}

	return nil
}

// handleJobSuccess records successful job completion
func (w *Worker) handleJobSuccess(ctx context.Context, j *job.Job, worker WorkerInfo, startTime time.Time) {
	duration := time.Since(startTime)

	atomic.AddInt64(&w.processed, 1)

	if err := w.stats.RecordJobCompleted(ctx, j, worker, duration); err != nil {
		slog.Error("Failed to record job completion", "error", err)
	}

	slog.Info("Job completed", "queue", j.Queue, "id", j.ID, "name", j.Name, "duration", duration)
}

// handleJobError records job failure
func (w *Worker) handleJobError(ctx context.Context, j *job.Job, worker WorkerInfo, err error, startTime time.Time) {
	duration := time.Since(startTime)

	atomic.AddInt64(&w.failed, 1)

	if err := w.stats.RecordJobFailed(ctx, j, worker, err, duration); err != nil {
		slog.Error("Failed to record job failure", "error", err)
	}

	slog.Error("Job failed", "queue", j.Queue, "id", j.ID, "attempt", j.Attempts, "error", err)
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() WorkerStats {
	stats := WorkerStats{
		ID:         w.GetID(),
		Processed:  atomic.LoadInt64(&w.processed),
		Failed:     atomic.LoadInt64(&w.failed),
		InProgress: atomic.LoadInt64(&w.inProgress),
		StartTime:  w.startTime,
	}
	if last := w.lastJob.Load(); last != 0 {
		stats.LastJob = time.Unix(0, last)
	}
	return stats
}
