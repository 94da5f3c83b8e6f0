package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/BranchIntl/relayq/job"
)

// errorBackoff is the pause after a failed poll
const errorBackoff = time.Second

// Poller claims jobs of one queue and hands them to the worker pool. A claim
// is only attempted while a worker slot is free, so at most cap(slots) jobs
// of the queue are active at once.
type Poller struct {
	broker   Broker
	queue    string
	interval time.Duration
	limiter  Limiter
	slots    chan struct{}
	jobChan  chan<- *job.Job
}

// NewPoller creates a new poller. limiter may be nil.
func NewPoller(
	broker Broker,
	queue string,
	interval time.Duration,
	concurrency int,
	limiter Limiter,
	jobChan chan<- *job.Job,
) *Poller {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Poller{
		broker:   broker,
		queue:    queue,
		interval: interval,
		limiter:  limiter,
		slots:    make(chan struct{}, concurrency),
		jobChan:  jobChan,
	}
}

// Release frees the slot held by a finished job
func (p *Poller) Release() {
	<-p.slots
}

// Start begins polling for jobs. The job channel is closed on return.
func (p *Poller) Start(ctx context.Context) error {
	slog.Info("Poller started", "queue", p.queue)
	defer func() {
		close(p.jobChan)
		slog.Info("Poller stopped", "queue", p.queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p.slots <- struct{}{}:
		}

		j, wait, err := p.pollOnce(ctx)
		if err != nil {
			slog.Error("Error polling", "queue", p.queue, "error", err)
			wait = errorBackoff
		}

		if j == nil {
			p.Release()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		// A slot is held so a worker is free to receive
		p.jobChan <- j
		slog.Debug("Job sent to workers", "queue", p.queue, "id", j.ID)
	}
}

// pollOnce claims one job if the rate limit allows. It returns how long to
// wait before the next attempt when nothing was claimed.
func (p *Poller) pollOnce(ctx context.Context) (*job.Job, time.Duration, error) {
	if p.limiter != nil {
		decision, err := p.limiter.Check(ctx)
		if err != nil {
			return nil, p.interval, err
		}
		if !decision.Allowed {
			slog.Debug("Queue rate limited", "queue", p.queue, "retryAfter", decision.RetryAfter)
			wait := decision.RetryAfter
			if wait <= 0 {
				wait = p.interval
			}
			return nil, wait, nil
		}
	}

	j, err := p.broker.Dequeue(ctx, p.queue)
	if err != nil {
		return nil, p.interval, err
	}
	if j == nil {
		return nil, p.interval, nil
	}

	if p.limiter != nil {
		if err := p.limiter.Hit(ctx); err != nil {
			slog.Error("Failed to count claim against rate limit", "queue", p.queue, "error", err)
		}
	}

	slog.Debug("Found job", "queue", p.queue, "id", j.ID, "name", j.Name)
	return j, 0, nil
}
