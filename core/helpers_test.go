package core

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/job"
)

// TestSetup provides common test dependencies
type TestSetup struct {
	Broker   *MockBroker
	Stats    *MockStatistics
	Registry *MockRegistry
}

// NewTestSetup creates a standard test setup with all mocks
func NewTestSetup() *TestSetup {
	// Set up a discard logger for tests to avoid noise
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
	slog.SetDefault(logger)

	return &TestSetup{
		Broker:   NewMockBroker(),
		Stats:    NewMockStatistics(),
		Registry: NewMockRegistry(),
	}
}

// ContextWithTimeout creates a context with standard timeout for tests
func ContextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

// JobBuilder helps create test jobs with fluent interface
type JobBuilder struct {
	id    string
	name  string
	queue string
}

// NewJob starts building a test job
func NewJob() *JobBuilder {
	return &JobBuilder{
		id:    "1",
		name:  "test-job",
		queue: "test-queue",
	}
}

// WithID sets the job id
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.id = id
	return b
}

// WithName sets the job name
func (b *JobBuilder) WithName(name string) *JobBuilder {
	b.name = name
	return b
}

// WithQueue sets the job queue
func (b *JobBuilder) WithQueue(queue string) *JobBuilder {
	b.queue = queue
	return b
}

// Build creates the job
func (b *JobBuilder) Build() *job.Job {
	return &job.Job{
		ID:          b.id,
		Queue:       b.queue,
		Name:        b.name,
		Payload:     []byte(`{}`),
		State:       job.StateActive,
		Attempts:    1,
		MaxAttempts: 1,
	}
}

// EngineBuilder helps create engines for testing
type EngineBuilder struct {
	setup   *TestSetup
	options []EngineOption
}

// NewEngine starts building a test engine
func (s *TestSetup) NewEngine() *EngineBuilder {
	return &EngineBuilder{
		setup:   s,
		options: []EngineOption{WithPollInterval(10 * time.Millisecond)},
	}
}

// WithOptions adds engine options
func (b *EngineBuilder) WithOptions(options ...EngineOption) *EngineBuilder {
	b.options = append(b.options, options...)
	return b
}

// Build creates the engine
func (b *EngineBuilder) Build() *Engine {
	return NewEngine(b.setup.Broker, b.setup.Stats, b.setup.Registry, b.options...)
}

// NewWorker creates a worker for the test queue
func (s *TestSetup) NewWorker(handler HandlerFunc) *Worker {
	return NewWorker("test-worker", "test-queue", handler, s.Stats, s.Broker)
}

// RegisterSimpleHandler registers a handler that just succeeds
func (s *TestSetup) RegisterSimpleHandler(queue string, options ...WorkerOption) {
	_ = s.Registry.Register(queue, func(ctx context.Context, j *job.Job) error {
		return nil
	}, options...)
}

// SendJobsAndClose sends jobs to channel and closes it
func SendJobsAndClose(jobChan chan<- *job.Job, jobs ...*job.Job) {
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)
}

// WaitForJobs waits for a specified number of jobs to be processed
func WaitForJobs(t *testing.T, resultChan <-chan string, expectedCount int, timeout time.Duration) []string {
	results := make([]string, 0, expectedCount)
	for i := 0; i < expectedCount; i++ {
		select {
		case result := <-resultChan:
			results = append(results, result)
		case <-time.After(timeout):
			t.Fatalf("Timeout waiting for job %d/%d", i+1, expectedCount)
		}
	}
	return results
}
