// Package memory implements the job queue in process with the same state
// machine as the Redis broker.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
)

type delayedEntry struct {
	id    string
	dueAt time.Time
}

type queueState struct {
	nextID    int64
	jobs      map[string]*job.Job
	waiting   []string
	delayed   []delayedEntry
	active    map[string]struct{}
	completed []string
	failed    []string
}

func newQueueState() *queueState {
	return &queueState{
		jobs:   make(map[string]*job.Job),
		active: make(map[string]struct{}),
	}
}

// MemoryBroker implements the core.Broker interface using in-memory storage
type MemoryBroker struct {
	mu        sync.Mutex
	queues    map[string]*queueState
	connected bool
	options   Options
}

var _ core.Broker = (*MemoryBroker)(nil)

// NewBroker creates a new in-memory broker
func NewBroker(options Options) *MemoryBroker {
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &MemoryBroker{
		queues:  make(map[string]*queueState),
		options: options,
	}
}

// Connect establishes connection (no-op for memory broker)
func (m *MemoryBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = true
	return nil
}

// Close closes the broker. Recorded jobs are kept.
func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	return nil
}

// Health checks the broker health
func (m *MemoryBroker) Health() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the broker type
func (m *MemoryBroker) Type() string {
	return "memory"
}

// Enqueue adds a job to the tail of its queue
func (m *MemoryBroker) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if j.Queue == "" {
		return "", errors.ErrEmptyQueueName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return "", errors.ErrNotConnected
	}

	q := m.queue(j.Queue)
	if m.options.MaxWaiting > 0 && len(q.waiting) >= m.options.MaxWaiting {
		return "", errors.NewBrokerError("enqueue", j.Queue, fmt.Errorf("queue is full"))
	}

	q.nextID++
	stored := *j
	stored.ID = strconv.FormatInt(q.nextID, 10)
	stored.State = job.StateWaiting
	stored.CreatedAt = m.options.Clock()
	stored.Attempts = 0
	if stored.MaxAttempts < 1 {
		stored.MaxAttempts = 1
	}

	q.jobs[stored.ID] = &stored
	q.waiting = append(q.waiting, stored.ID)

	j.ID = stored.ID
	j.State = stored.State
	j.CreatedAt = stored.CreatedAt
	j.MaxAttempts = stored.MaxAttempts
	return stored.ID, nil
}

// Dequeue claims the oldest waiting job, first promoting due retries
func (m *MemoryBroker) Dequeue(ctx context.Context, queue string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, errors.ErrNotConnected
	}

	q, ok := m.queues[queue]
	if !ok {
		return nil, nil
	}

	now := m.options.Clock()
	m.promoteDelayed(q, now)

	if len(q.waiting) == 0 {
		return nil, nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active[id] = struct{}{}

	stored := q.jobs[id]
	stored.State = job.StateActive
	stored.Attempts++
	stored.ProcessedAt = now

	claimed := *stored
	return &claimed, nil
}

// Ack marks an active job completed
func (m *MemoryBroker) Ack(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, q, err := m.activeJob("ack", j)
	if err != nil {
		return err
	}

	delete(q.active, stored.ID)
	stored.State = job.StateCompleted
	stored.FinishedAt = m.options.Clock()
	q.completed = append(q.completed, stored.ID)

	*j = *stored
	return nil
}

// Nack delays the job for retry or marks it failed
func (m *MemoryBroker) Nack(ctx context.Context, j *job.Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, q, err := m.activeJob("nack", j)
	if err != nil {
		return err
	}

	delete(q.active, stored.ID)
	if cause != nil {
		stored.FailedReason = cause.Error()
	}

	now := m.options.Clock()
	if stored.CanRetry() {
		stored.State = job.StateDelayed
		q.delayed = append(q.delayed, delayedEntry{id: stored.ID, dueAt: now.Add(stored.RetryDelay())})
		sort.SliceStable(q.delayed, func(a, b int) bool {
			return q.delayed[a].dueAt.Before(q.delayed[b].dueAt)
		})
	} else {
		stored.State = job.StateFailed
		stored.FinishedAt = now
		q.failed = append(q.failed, stored.ID)
	}

	*j = *stored
	return nil
}

// GetJob returns a copy of a recorded job
func (m *MemoryBroker) GetJob(ctx context.Context, queue, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, errors.ErrNotConnected
	}

	q, ok := m.queues[queue]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	stored, ok := q.jobs[id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	found := *stored
	return &found, nil
}

// Counts returns the number of jobs per state
func (m *MemoryBroker) Counts(ctx context.Context, queue string) (job.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return job.Counts{}, errors.ErrNotConnected
	}

	q, ok := m.queues[queue]
	if !ok {
		return job.Counts{}, nil
	}
	return job.Counts{
		Waiting:   int64(len(q.waiting)),
		Delayed:   int64(len(q.delayed)),
		Active:    int64(len(q.active)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

// Helper methods

func (m *MemoryBroker) queue(name string) *queueState {
	q, ok := m.queues[name]
	if !ok {
		q = newQueueState()
		m.queues[name] = q
	}
	return q
}

func (m *MemoryBroker) activeJob(op string, j *job.Job) (*job.Job, *queueState, error) {
	if !m.connected {
		return nil, nil, errors.ErrNotConnected
	}
	q, ok := m.queues[j.Queue]
	if !ok {
		return nil, nil, errors.NewBrokerError(op, j.Queue, errors.ErrJobNotFound)
	}
	if _, ok := q.active[j.ID]; !ok {
		return nil, nil, errors.NewBrokerError(op, j.Queue, fmt.Errorf("job %s is not active", j.ID))
	}
	return q.jobs[j.ID], q, nil
}

func (m *MemoryBroker) promoteDelayed(q *queueState, now time.Time) {
	due := 0
	for due < len(q.delayed) && !q.delayed[due].dueAt.After(now) {
		id := q.delayed[due].id
		q.jobs[id].State = job.StateWaiting
		q.waiting = append(q.waiting, id)
		due++
	}
	q.delayed = q.delayed[due:]
}
