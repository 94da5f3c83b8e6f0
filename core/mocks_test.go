package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/ratelimit"
)

// Mock implementations for testing

// MockBroker implements the Broker interface for testing
type MockBroker struct {
	mu           sync.RWMutex
	connected    bool
	connectError error
	healthError  error
	enqueueError error
	dequeueError error
	ackError     error
	nackError    error
	countsError  error
	nextID       int
	queues       map[string][]*job.Job
	jobs         map[string]*job.Job
	enqueuedJobs []*job.Job
	ackedJobs    []*job.Job
	nackedJobs   []*job.Job
	nackCauses   []error
	dequeueCalls int
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		queues: make(map[string][]*job.Job),
		jobs:   make(map[string]*job.Job),
	}
}

func (m *MockBroker) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueError != nil {
		return "", m.enqueueError
	}

	m.nextID++
	j.ID = strconv.Itoa(m.nextID)
	j.State = job.StateWaiting
	m.enqueuedJobs = append(m.enqueuedJobs, j)
	m.queues[j.Queue] = append(m.queues[j.Queue], j)
	m.jobs[j.Queue+"/"+j.ID] = j
	return j.ID, nil
}

func (m *MockBroker) Dequeue(ctx context.Context, queue string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dequeueCalls++
	if m.dequeueError != nil {
		return nil, m.dequeueError
	}

	jobs := m.queues[queue]
	if len(jobs) == 0 {
		return nil, nil
	}

	j := jobs[0]
	m.queues[queue] = jobs[1:]
	j.State = job.StateActive
	j.Attempts++
	return j, nil
}

func (m *MockBroker) Ack(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ackError != nil {
		return m.ackError
	}

	j.State = job.StateCompleted
	m.ackedJobs = append(m.ackedJobs, j)
	return nil
}

func (m *MockBroker) Nack(ctx context.Context, j *job.Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nackError != nil {
		return m.nackError
	}

	j.State = job.StateFailed
	m.nackedJobs = append(m.nackedJobs, j)
	m.nackCauses = append(m.nackCauses, cause)
	return nil
}

func (m *MockBroker) GetJob(ctx context.Context, queue, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[queue+"/"+id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	return j, nil
}

func (m *MockBroker) Counts(ctx context.Context, queue string) (job.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.countsError != nil {
		return job.Counts{}, m.countsError
	}
	return job.Counts{Waiting: int64(len(m.queues[queue]))}, nil
}

func (m *MockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectError != nil {
		return m.connectError
	}

	m.connected = true
	return nil
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	return nil
}

func (m *MockBroker) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.healthError != nil {
		return m.healthError
	}

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	return nil
}

// Test helpers
func (m *MockBroker) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

func (m *MockBroker) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthError = err
}

func (m *MockBroker) SetEnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueError = err
}

func (m *MockBroker) SetDequeueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dequeueError = err
}

func (m *MockBroker) SetAckError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackError = err
}

func (m *MockBroker) GetEnqueuedJobs() []*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*job.Job(nil), m.enqueuedJobs...)
}

func (m *MockBroker) GetAckedJobs() []*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*job.Job(nil), m.ackedJobs...)
}

func (m *MockBroker) GetNackedJobs() []*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*job.Job(nil), m.nackedJobs...)
}

func (m *MockBroker) GetNackCauses() []error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]error(nil), m.nackCauses...)
}

func (m *MockBroker) DequeueCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dequeueCalls
}

func (m *MockBroker) AddJobToQueue(queue string, j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j.Queue = queue
	m.queues[queue] = append(m.queues[queue], j)
}

// MockJobCall represents a job call for testing
type MockJobCall struct {
	JobID    string
	Queue    string
	Name     string
	WorkerID string
}

// MockStatistics implements the Statistics interface for testing
type MockStatistics struct {
	mu            sync.RWMutex
	connected     bool
	connectError  error
	healthError   error
	registerError error
	recordError   error
	workers       map[string]WorkerInfo
	jobsStarted   []MockJobCall
	jobsCompleted []MockJobCall
	jobsFailed    []MockJobCall
}

func NewMockStatistics() *MockStatistics {
	return &MockStatistics{
		workers: make(map[string]WorkerInfo),
	}
}

func (m *MockStatistics) RegisterWorker(ctx context.Context, worker WorkerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerError != nil {
		return m.registerError
	}

	m.workers[worker.ID] = worker
	return nil
}

func (m *MockStatistics) UnregisterWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workers, workerID)
	return nil
}

func (m *MockStatistics) record(calls *[]MockJobCall, j *job.Job, worker WorkerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordError != nil {
		return m.recordError
	}

	*calls = append(*calls, MockJobCall{
		JobID:    j.ID,
		Queue:    j.Queue,
		Name:     j.Name,
		WorkerID: worker.ID,
	})
	return nil
}

func (m *MockStatistics) RecordJobStarted(ctx context.Context, j *job.Job, worker WorkerInfo) error {
	return m.record(&m.jobsStarted, j, worker)
}

func (m *MockStatistics) RecordJobCompleted(ctx context.Context, j *job.Job, worker WorkerInfo, duration time.Duration) error {
	return m.record(&m.jobsCompleted, j, worker)
}

func (m *MockStatistics) RecordJobFailed(ctx context.Context, j *job.Job, worker WorkerInfo, err error, duration time.Duration) error {
	return m.record(&m.jobsFailed, j, worker)
}

func (m *MockStatistics) GetQueueStats(ctx context.Context, queue string) (QueueStats, error) {
	return QueueStats{Name: queue}, nil
}

func (m *MockStatistics) GetGlobalStats(ctx context.Context) (GlobalStats, error) {
	return GlobalStats{}, nil
}

func (m *MockStatistics) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectError != nil {
		return m.connectError
	}

	m.connected = true
	return nil
}

func (m *MockStatistics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	return nil
}

func (m *MockStatistics) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.healthError != nil {
		return m.healthError
	}

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	return nil
}

func (m *MockStatistics) Type() string {
	return "mock"
}

// Test helpers
func (m *MockStatistics) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

func (m *MockStatistics) SetRecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordError = err
}

func (m *MockStatistics) GetWorkers() map[string]WorkerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workers := make(map[string]WorkerInfo, len(m.workers))
	for id, w := range m.workers {
		workers[id] = w
	}
	return workers
}

func (m *MockStatistics) GetJobsStarted() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsStarted...)
}

func (m *MockStatistics) GetJobsCompleted() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsCompleted...)
}

func (m *MockStatistics) GetJobsFailed() []MockJobCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockJobCall(nil), m.jobsFailed...)
}

// MockRegistry implements the Registry interface for testing
type MockRegistry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		registrations: make(map[string]Registration),
	}
}

func (m *MockRegistry) Register(queue string, handler HandlerFunc, options ...WorkerOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := DefaultWorkerOptions()
	for _, opt := range options {
		opt(&opts)
	}
	m.registrations[queue] = Registration{Queue: queue, Handler: handler, Options: opts}
	return nil
}

func (m *MockRegistry) Get(queue string) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.registrations[queue]
	return reg, ok
}

func (m *MockRegistry) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queues := make([]string, 0, len(m.registrations))
	for queue := range m.registrations {
		queues = append(queues, queue)
	}
	return queues
}

// MockLimiter implements the Limiter interface for testing
type MockLimiter struct {
	mu       sync.Mutex
	limit    int64
	hits     int64
	checkErr error
	checks   int
}

func NewMockLimiter(limit int64) *MockLimiter {
	return &MockLimiter{limit: limit}
}

func (m *MockLimiter) Check(ctx context.Context) (ratelimit.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	if m.checkErr != nil {
		return ratelimit.Decision{}, m.checkErr
	}
	if m.hits >= m.limit {
		return ratelimit.Decision{Allowed: false, Count: m.hits, Limit: m.limit, RetryAfter: time.Hour}, nil
	}
	return ratelimit.Decision{Allowed: true, Count: m.hits, Limit: m.limit}, nil
}

func (m *MockLimiter) Hit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
	return nil
}

func (m *MockLimiter) Hits() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}
