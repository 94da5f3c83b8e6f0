// Package job defines the job record shared by producers, brokers and workers.
package job

import (
	"encoding/json"
	"time"

	"github.com/BranchIntl/relayq/errors"
)

// State is the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a unit of deferred work
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  time.Time       `json:"processedAt,omitempty"`
	FinishedAt   time.Time       `json:"finishedAt,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      time.Duration   `json:"backoff"`
	FailedReason string          `json:"failedReason,omitempty"`
}

// New builds a waiting job for queue. The payload is JSON encoded.
func New(queue, name string, payload any, opts ...Option) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewSerializationError("json", err)
	}

	o := Options{Attempts: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}

	return &Job{
		Queue:       queue,
		Name:        name,
		Payload:     data,
		State:       StateWaiting,
		MaxAttempts: o.Attempts,
		Backoff:     o.Backoff,
	}, nil
}

// Decode unmarshals the payload into v
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return errors.ErrInvalidPayload
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.NewSerializationError("json", err)
	}
	return nil
}

// CanRetry reports whether a failed attempt should be retried
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// RetryDelay returns the exponential backoff before the next attempt
func (j *Job) RetryDelay() time.Duration {
	if j.Backoff <= 0 || j.Attempts < 1 {
		return 0
	}
	return j.Backoff * time.Duration(1<<uint(j.Attempts-1))
}

// Options control how a job is retried
type Options struct {
	// Attempts is the total number of executions allowed. 1 disables retries.
	Attempts int
	// Backoff is the base delay between attempts, doubled after each failure.
	Backoff time.Duration
}

// Option modifies enqueue options
type Option func(*Options)

// WithAttempts sets the maximum number of attempts
func WithAttempts(n int) Option {
	return func(o *Options) {
		o.Attempts = n
	}
}

// WithBackoff sets the base retry delay
func WithBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.Backoff = d
	}
}

// Counts is a snapshot of how many jobs of a queue are in each state
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Total returns the number of jobs tracked by the queue
func (c Counts) Total() int64 {
	return c.Waiting + c.Delayed + c.Active + c.Completed + c.Failed
}
