// Package errors provides error types and utilities for relayq.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions
var (
	ErrNotConnected        = errors.New("not connected")
	ErrJobNotFound         = errors.New("job not found")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrTimeout             = errors.New("operation timed out")
	ErrShutdown            = errors.New("shutting down")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrEmptyQueueName      = errors.New("queue name cannot be empty")
	ErrNilHandler          = errors.New("handler cannot be nil")
	ErrStateNotInitialized = errors.New("state array is not initialized")
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrRateLimited         = errors.New("too many requests")
)

// BrokerError represents job queue errors
type BrokerError struct {
	Op    string // operation being performed
	Queue string // queue name (if applicable)
	Err   error  // underlying error
}

func (e *BrokerError) Error() string {
	if e.Queue != "" {
		return fmt.Sprintf("broker %s on queue %s: %v", e.Op, e.Queue, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// HandlerError represents a failure raised while executing a job handler
type HandlerError struct {
	Queue string
	JobID string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for job %s on queue %s: %v", e.JobID, e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// StoreError represents a shared store operation failure
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// SerializationError represents serialization/deserialization errors
type SerializationError struct {
	Format string // serialization format
	Err    error  // underlying error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization (%s): %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ConnectionError represents connection-related errors
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Temporary() bool {
	if t, ok := e.Err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}
	return false
}

func (e *ConnectionError) Timeout() bool {
	if t, ok := e.Err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return false
}

// UpstreamError represents a remote collaborator that could not serve a request
type UpstreamError struct {
	Service    string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ValidationDetail describes one rejected input field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationError represents malformed caller input
type ValidationError struct {
	Details []ValidationDetail
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	first := e.Details[0]
	if len(e.Details) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", first.Field, first.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (and %d more)", first.Field, first.Message, len(e.Details)-1)
}

// RateLimitError is returned when a fixed window is exhausted
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded, retry after %s", e.Key, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Helper functions for creating errors

// NewBrokerError creates a new broker error
func NewBrokerError(op, queue string, err error) error {
	return &BrokerError{Op: op, Queue: queue, Err: err}
}

// NewHandlerError creates a new handler error
func NewHandlerError(queue, jobID string, err error) error {
	return &HandlerError{Queue: queue, JobID: jobID, Err: err}
}

// NewStoreError creates a new store error
func NewStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// NewSerializationError creates a new serialization error
func NewSerializationError(format string, err error) error {
	return &SerializationError{Format: format, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(service string, status int, err error) error {
	return &UpstreamError{Service: service, StatusCode: status, Err: err}
}

// NewValidationError creates a validation error from field details
func NewValidationError(details ...ValidationDetail) error {
	return &ValidationError{Details: details}
}

// IsTemporary checks if an error is temporary and retryable
func IsTemporary(err error) bool {
	if t, ok := err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	if t, ok := err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return errors.Is(err, ErrTimeout)
}

// IsValidation reports whether err carries caller input problems
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsUpstream reports whether err came from an unreachable collaborator
func IsUpstream(err error) bool {
	var u *UpstreamError
	var c *ConnectionError
	return errors.As(err, &u) || errors.As(err, &c)
}
