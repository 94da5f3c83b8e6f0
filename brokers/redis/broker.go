// Package redis implements the job queue on Redis. Each queue keeps a job
// hash per id plus wait, active, completed and failed lists and a delayed
// sorted set scored by due time.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	redisUtils "github.com/BranchIntl/relayq/internal/redis"
	"github.com/BranchIntl/relayq/job"
	"github.com/gomodule/redigo/redis"
)

// RedisBroker implements the Broker interface for Redis
type RedisBroker struct {
	pool      *redis.Pool
	namespace string
	options   Options
}

var _ core.Broker = (*RedisBroker)(nil)

// NewBroker creates a new Redis broker
func NewBroker(options Options) *RedisBroker {
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &RedisBroker{
		namespace: options.Namespace,
		options:   options,
	}
}

// Connect establishes connection to Redis
func (r *RedisBroker) Connect(ctx context.Context) error {
	pool, err := redisUtils.CreatePool(r.options.Options)
	if err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to create Redis pool: %w", err))
	}

	if err := redisUtils.Ping(ctx, pool, r.options.URI); err != nil {
		pool.Close()
		return err
	}

	r.pool = pool
	return nil
}

// Close closes the Redis connection pool
func (r *RedisBroker) Close() error {
	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisBroker) Health() error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}
	return redisUtils.Ping(context.Background(), r.pool, r.options.URI)
}

// Type returns the broker type
func (r *RedisBroker) Type() string {
	return "redis"
}

// Enqueue stores the job hash and appends its id to the wait list
func (r *RedisBroker) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if j.Queue == "" {
		return "", errors.ErrEmptyQueueName
	}
	if r.pool == nil {
		return "", errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return "", errors.NewBrokerError("enqueue", j.Queue, err)
	}
	defer conn.Close()

	maxAttempts := j.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := r.options.Clock()

	id, err := redis.Int64(enqueueScript.DoContext(ctx, conn,
		r.key(j.Queue, "id"),
		r.key(j.Queue, "wait"),
		r.key(j.Queue, "job:"),
		j.Name,
		[]byte(j.Payload),
		now.UnixMilli(),
		maxAttempts,
		j.Backoff.Milliseconds(),
	))
	if err != nil {
		return "", errors.NewBrokerError("enqueue", j.Queue, err)
	}

	j.ID = strconv.FormatInt(id, 10)
	j.State = job.StateWaiting
	j.CreatedAt = time.UnixMilli(now.UnixMilli())
	j.Attempts = 0
	j.MaxAttempts = maxAttempts
	return j.ID, nil
}

// Dequeue promotes due retries then claims the oldest waiting job
func (r *RedisBroker) Dequeue(ctx context.Context, queue string) (*job.Job, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewBrokerError("dequeue", queue, err)
	}
	defer conn.Close()

	id, err := redis.String(dequeueScript.DoContext(ctx, conn,
		r.key(queue, "wait"),
		r.key(queue, "active"),
		r.key(queue, "delayed"),
		r.key(queue, "job:"),
		r.options.Clock().UnixMilli(),
	))
	if err == redis.ErrNil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, errors.NewBrokerError("dequeue", queue, err)
	}

	return r.load(ctx, conn, queue, id)
}

// Ack moves an active job to the completed list
func (r *RedisBroker) Ack(ctx context.Context, j *job.Job) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.NewBrokerError("ack", j.Queue, err)
	}
	defer conn.Close()

	moved, err := redis.Int(ackScript.DoContext(ctx, conn,
		r.key(j.Queue, "active"),
		r.key(j.Queue, "completed"),
		r.jobKey(j.Queue, j.ID),
		j.ID,
		r.options.Clock().UnixMilli(),
	))
	if err != nil {
		return errors.NewBrokerError("ack", j.Queue, err)
	}
	if moved == 0 {
		return errors.NewBrokerError("ack", j.Queue, fmt.Errorf("job %s is not active", j.ID))
	}

	return r.refresh(ctx, conn, j)
}

// Nack records the failure and either schedules a retry or marks the job failed
func (r *RedisBroker) Nack(ctx context.Context, j *job.Job, cause error) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.NewBrokerError("nack", j.Queue, err)
	}
	defer conn.Close()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	now := r.options.Clock()
	retry := "0"
	if j.CanRetry() {
		retry = "1"
	}
	dueAt := now.Add(j.RetryDelay()).UnixMilli()

	moved, err := redis.Int(nackScript.DoContext(ctx, conn,
		r.key(j.Queue, "active"),
		r.key(j.Queue, "delayed"),
		r.key(j.Queue, "failed"),
		r.jobKey(j.Queue, j.ID),
		j.ID,
		now.UnixMilli(),
		reason,
		retry,
		dueAt,
	))
	if err != nil {
		return errors.NewBrokerError("nack", j.Queue, err)
	}
	if moved == 0 {
		return errors.NewBrokerError("nack", j.Queue, fmt.Errorf("job %s is not active", j.ID))
	}

	return r.refresh(ctx, conn, j)
}

// GetJob loads a job hash by id
func (r *RedisBroker) GetJob(ctx context.Context, queue, id string) (*job.Job, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewBrokerError("get_job", queue, err)
	}
	defer conn.Close()

	return r.load(ctx, conn, queue, id)
}

// Counts returns the number of jobs per state
func (r *RedisBroker) Counts(ctx context.Context, queue string) (job.Counts, error) {
	if r.pool == nil {
		return job.Counts{}, errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return job.Counts{}, errors.NewBrokerError("counts", queue, err)
	}
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("LLEN", r.key(queue, "wait"))
	conn.Send("ZCARD", r.key(queue, "delayed"))
	conn.Send("LLEN", r.key(queue, "active"))
	conn.Send("LLEN", r.key(queue, "completed"))
	conn.Send("LLEN", r.key(queue, "failed"))
	values, err := redis.Int64s(redis.DoContext(conn, ctx, "EXEC"))
	if err != nil {
		return job.Counts{}, errors.NewBrokerError("counts", queue, err)
	}
	if len(values) != 5 {
		return job.Counts{}, errors.NewBrokerError("counts", queue,
			fmt.Errorf("unexpected reply length %d", len(values)))
	}

	return job.Counts{
		Waiting:   values[0],
		Delayed:   values[1],
		Active:    values[2],
		Completed: values[3],
		Failed:    values[4],
	}, nil
}

// Helper methods

func (r *RedisBroker) key(queue, suffix string) string {
	return fmt.Sprintf("%s%s:%s", r.namespace, queue, suffix)
}

func (r *RedisBroker) jobKey(queue, id string) string {
	return r.key(queue, "job:"+id)
}

func (r *RedisBroker) load(ctx context.Context, conn redis.Conn, queue, id string) (*job.Job, error) {
	fields, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", r.jobKey(queue, id)))
	if err != nil {
		return nil, errors.NewBrokerError("get_job", queue, err)
	}
	if len(fields) == 0 {
		return nil, errors.ErrJobNotFound
	}

	j, err := decodeJob(queue, id, fields)
	if err != nil {
		return nil, errors.NewBrokerError("get_job", queue, err)
	}
	return j, nil
}

func (r *RedisBroker) refresh(ctx context.Context, conn redis.Conn, j *job.Job) error {
	stored, err := r.load(ctx, conn, j.Queue, j.ID)
	if err != nil {
		return err
	}
	*j = *stored
	return nil
}

func decodeJob(queue, id string, fields map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:           id,
		Queue:        queue,
		Name:         fields["name"],
		State:        job.State(fields["state"]),
		FailedReason: fields["failedReason"],
	}
	if payload := fields["payload"]; payload != "" {
		j.Payload = []byte(payload)
	}

	var err error
	if j.CreatedAt, err = parseMillis(fields["createdAt"]); err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	if j.ProcessedAt, err = parseMillis(fields["processedAt"]); err != nil {
		return nil, fmt.Errorf("processedAt: %w", err)
	}
	if j.FinishedAt, err = parseMillis(fields["finishedAt"]); err != nil {
		return nil, fmt.Errorf("finishedAt: %w", err)
	}
	if j.Attempts, err = parseInt(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("attempts: %w", err)
	}
	if j.MaxAttempts, err = parseInt(fields["maxAttempts"]); err != nil {
		return nil, fmt.Errorf("maxAttempts: %w", err)
	}
	backoff, err := parseInt(fields["backoff"])
	if err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	j.Backoff = time.Duration(backoff) * time.Millisecond

	return j, nil
}

func parseMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
