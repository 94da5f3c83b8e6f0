// Package store records job counters in a store.Store so every instance
// sharing the store sees the same totals.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/store"
)

// Options for store backed statistics
type Options struct {
	// Namespace is the key prefix of every counter
	Namespace string

	// OwnsStore makes Connect and Close manage the store's connection
	OwnsStore bool
}

// DefaultOptions returns default statistics options
func DefaultOptions() Options {
	return Options{
		Namespace: "jobs:",
	}
}

// StoreStatistics implements the Statistics interface on top of a store
type StoreStatistics struct {
	store   store.Store
	options Options

	mu      sync.Mutex
	workers map[string]core.WorkerInfo
}

var _ core.Statistics = (*StoreStatistics)(nil)

// NewStatistics creates a new store backed statistics backend
func NewStatistics(s store.Store, options Options) *StoreStatistics {
	return &StoreStatistics{
		store:   s,
		options: options,
		workers: make(map[string]core.WorkerInfo),
	}
}

// Connect connects the store when it is owned by the statistics backend
func (s *StoreStatistics) Connect(ctx context.Context) error {
	if s.options.OwnsStore {
		return s.store.Connect(ctx)
	}
	return nil
}

// Close closes the store when it is owned by the statistics backend
func (s *StoreStatistics) Close() error {
	if s.options.OwnsStore {
		return s.store.Close()
	}
	return nil
}

// Health checks the store health
func (s *StoreStatistics) Health() error {
	return s.store.Health()
}

// Type returns the statistics backend type
func (s *StoreStatistics) Type() string {
	return "store"
}

// RegisterWorker records worker info under the worker key
func (s *StoreStatistics) RegisterWorker(ctx context.Context, worker core.WorkerInfo) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return errors.NewSerializationError("json", err)
	}

	if err := s.store.Set(ctx, s.workerKey(worker.ID), string(data), 0); err != nil {
		return fmt.Errorf("failed to set worker info: %w", err)
	}

	s.mu.Lock()
	s.workers[worker.ID] = worker
	s.mu.Unlock()
	return nil
}

// UnregisterWorker removes the worker info
func (s *StoreStatistics) UnregisterWorker(ctx context.Context, workerID string) error {
	s.mu.Lock()
	delete(s.workers, workerID)
	s.mu.Unlock()

	if err := s.store.Del(ctx, s.workerKey(workerID)); err != nil {
		return fmt.Errorf("failed to delete worker info: %w", err)
	}
	return nil
}

// RecordJobStarted records the job a worker is running
func (s *StoreStatistics) RecordJobStarted(ctx context.Context, j *job.Job, worker core.WorkerInfo) error {
	work := map[string]any{
		"queue":  j.Queue,
		"id":     j.ID,
		"name":   j.Name,
		"run_at": time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(work)
	if err != nil {
		return errors.NewSerializationError("json", err)
	}

	if err := s.store.Set(ctx, s.workerJobKey(worker.ID), string(data), 0); err != nil {
		return fmt.Errorf("failed to set worker job: %w", err)
	}
	return nil
}

// RecordJobCompleted increments the processed counters
func (s *StoreStatistics) RecordJobCompleted(ctx context.Context, j *job.Job, worker core.WorkerInfo, duration time.Duration) error {
	for _, key := range []string{s.processedKey(""), s.processedKey(j.Queue)} {
		if _, err := s.store.Incr(ctx, key); err != nil {
			return fmt.Errorf("failed to increment %s: %w", key, err)
		}
	}
	return s.clearWorkerJob(ctx, worker.ID)
}

// RecordJobFailed increments the failed counters
func (s *StoreStatistics) RecordJobFailed(ctx context.Context, j *job.Job, worker core.WorkerInfo, err error, duration time.Duration) error {
	for _, key := range []string{s.failedKey(""), s.failedKey(j.Queue)} {
		if _, incrErr := s.store.Incr(ctx, key); incrErr != nil {
			return fmt.Errorf("failed to increment %s: %w", key, incrErr)
		}
	}
	return s.clearWorkerJob(ctx, worker.ID)
}

// GetQueueStats returns the counters of a queue
func (s *StoreStatistics) GetQueueStats(ctx context.Context, queue string) (core.QueueStats, error) {
	processed, err := s.counter(ctx, s.processedKey(queue))
	if err != nil {
		return core.QueueStats{}, err
	}
	failed, err := s.counter(ctx, s.failedKey(queue))
	if err != nil {
		return core.QueueStats{}, err
	}

	return core.QueueStats{
		Name:      queue,
		Processed: processed,
		Failed:    failed,
	}, nil
}

// GetGlobalStats returns the global counters. ActiveWorkers counts the
// workers registered through this instance.
func (s *StoreStatistics) GetGlobalStats(ctx context.Context) (core.GlobalStats, error) {
	processed, err := s.counter(ctx, s.processedKey(""))
	if err != nil {
		return core.GlobalStats{}, err
	}
	failed, err := s.counter(ctx, s.failedKey(""))
	if err != nil {
		return core.GlobalStats{}, err
	}

	s.mu.Lock()
	active := int64(len(s.workers))
	s.mu.Unlock()

	return core.GlobalStats{
		TotalProcessed: processed,
		TotalFailed:    failed,
		ActiveWorkers:  active,
	}, nil
}

func (s *StoreStatistics) clearWorkerJob(ctx context.Context, workerID string) error {
	if err := s.store.Del(ctx, s.workerJobKey(workerID)); err != nil {
		return fmt.Errorf("failed to clear worker job: %w", err)
	}
	return nil
}

func (s *StoreStatistics) counter(ctx context.Context, key string) (int64, error) {
	value, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.NewStoreError("get", key, err)
	}
	return n, nil
}

// Helper methods for keys

func (s *StoreStatistics) workerKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s", s.options.Namespace, workerID)
}

func (s *StoreStatistics) workerJobKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s:job", s.options.Namespace, workerID)
}

func (s *StoreStatistics) processedKey(queue string) string {
	if queue == "" {
		return fmt.Sprintf("%sstat:processed", s.options.Namespace)
	}
	return fmt.Sprintf("%sstat:processed:%s", s.options.Namespace, queue)
}

func (s *StoreStatistics) failedKey(queue string) string {
	if queue == "" {
		return fmt.Sprintf("%sstat:failed", s.options.Namespace)
	}
	return fmt.Sprintf("%sstat:failed:%s", s.options.Namespace, queue)
}
