package core

import (
	"context"
	"time"

	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/ratelimit"
)

// HandlerFunc executes one job. Returning an error marks the attempt failed.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Broker interface defines what core needs from a job queue
type Broker interface {
	// Enqueue durably records j as waiting and returns its id
	Enqueue(ctx context.Context, j *job.Job) (string, error)

	// Dequeue atomically claims the oldest waiting job of queue and marks it
	// active. It returns nil when the queue is empty.
	Dequeue(ctx context.Context, queue string) (*job.Job, error)

	// Ack marks an active job completed
	Ack(ctx context.Context, j *job.Job) error

	// Nack records a failed attempt. The job is delayed for retry when it has
	// attempts left, otherwise it is marked failed.
	Nack(ctx context.Context, j *job.Job, cause error) error

	// Introspection
	GetJob(ctx context.Context, queue, id string) (*job.Job, error)
	Counts(ctx context.Context, queue string) (job.Counts, error)

	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Health() error
}

// Statistics interface defines what core needs from a statistics backend
type Statistics interface {
	// Worker lifecycle
	RegisterWorker(ctx context.Context, worker WorkerInfo) error
	UnregisterWorker(ctx context.Context, workerID string) error

	// Job metrics
	RecordJobStarted(ctx context.Context, j *job.Job, worker WorkerInfo) error
	RecordJobCompleted(ctx context.Context, j *job.Job, worker WorkerInfo, duration time.Duration) error
	RecordJobFailed(ctx context.Context, j *job.Job, worker WorkerInfo, err error, duration time.Duration) error

	// Statistics queries
	GetQueueStats(ctx context.Context, queue string) (QueueStats, error)
	GetGlobalStats(ctx context.Context) (GlobalStats, error)

	// Health and connection
	Connect(ctx context.Context) error
	Close() error
	Health() error
	Type() string
}

// Registry interface defines what core needs from a handler registry
type Registry interface {
	// Register adds a handler for a queue
	Register(queue string, handler HandlerFunc, options ...WorkerOption) error

	// Get retrieves the handler registration of a queue
	Get(queue string) (Registration, bool)

	// List returns registered queue names
	List() []string
}

// Limiter gates job claims for a queue. ratelimit.FixedWindow satisfies it.
type Limiter interface {
	Check(ctx context.Context) (ratelimit.Decision, error)
	Hit(ctx context.Context) error
}

// Supporting types used by the interfaces

// Registration is a handler together with its queue's worker settings
type Registration struct {
	Queue   string
	Handler HandlerFunc
	Options WorkerOptions
}

// WorkerInfo describes a worker
type WorkerInfo struct {
	ID       string    `json:"id"`
	Hostname string    `json:"hostname"`
	Pid      int       `json:"pid"`
	Queue    string    `json:"queue"`
	Started  time.Time `json:"started"`
}

// WorkerStats contains statistics for a worker
type WorkerStats struct {
	ID         string
	Processed  int64
	Failed     int64
	InProgress int64
	StartTime  time.Time
	LastJob    time.Time
}

// QueueStats contains statistics for a queue
type QueueStats struct {
	Name      string `json:"name"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// GlobalStats contains global statistics
type GlobalStats struct {
	TotalProcessed int64 `json:"totalProcessed"`
	TotalFailed    int64 `json:"totalFailed"`
	ActiveWorkers  int64 `json:"activeWorkers"`
}

// HealthStatus represents the health of the engine
type HealthStatus struct {
	Healthy       bool
	BrokerHealth  error
	StatsHealth   error
	ActiveWorkers int
	Queues        map[string]job.Counts
	LastCheck     time.Time
}
