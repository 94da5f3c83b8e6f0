// Package pipeline wires the two chained stages: a video is processed on the
// video-processing queue and, once done, a notification job is enqueued on the
// notification queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
)

// Queue names
const (
	QueueVideoProcessing = "video-processing"
	QueueNotification    = "notification"
)

// VideoPayload is the payload of a video-processing job
type VideoPayload struct {
	VideoURL string `json:"videoURL"`
}

// NotificationPayload is the payload of a notification job
type NotificationPayload struct {
	Notification string `json:"notification"`
}

// Enqueuer adds jobs to a queue. core.Producer and core.Engine satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, name string, payload any, opts ...job.Option) (string, error)
}

// Registrar accepts queue handlers. core.Engine satisfies it.
type Registrar interface {
	Register(queue string, handler core.HandlerFunc, options ...core.WorkerOption) error
}

// Notifier delivers a notification
type Notifier interface {
	Notify(ctx context.Context, n NotificationPayload) error
}

// LogNotifier delivers notifications to the log
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n NotificationPayload) error {
	slog.Info("Sending notification", "notification", n.Notification)
	return nil
}

// Options for the pipeline stages
type Options struct {
	// TranscodeDelay is how long processing a video takes
	TranscodeDelay time.Duration

	VideoConcurrency int

	NotificationConcurrency int
	// NotificationRateLimit caps notifications across every worker process
	NotificationRateLimit core.RateLimit

	// Attempts per job; 1 means a failed job is not retried
	Attempts int
	Backoff  time.Duration
}

// DefaultOptions returns the stage settings of the video pipeline
func DefaultOptions() Options {
	return Options{
		TranscodeDelay:          10 * time.Second,
		VideoConcurrency:        1,
		NotificationConcurrency: 1,
		NotificationRateLimit:   core.RateLimit{Max: 1, Window: 10 * time.Second},
		Attempts:                1,
	}
}

// Pipeline holds the stage handlers
type Pipeline struct {
	enqueuer Enqueuer
	notifier Notifier
	options  Options
}

// New creates a pipeline. A nil notifier logs notifications.
func New(enqueuer Enqueuer, notifier Notifier, options Options) *Pipeline {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Pipeline{
		enqueuer: enqueuer,
		notifier: notifier,
		options:  options,
	}
}

// SubmitVideo enqueues a video-processing job named after videoURL
func (p *Pipeline) SubmitVideo(ctx context.Context, videoURL string) (string, error) {
	if strings.TrimSpace(videoURL) == "" {
		return "", errors.NewValidationError(errors.ValidationDetail{
			Field:   "videoURL",
			Message: "is required",
		})
	}
	return p.enqueuer.Enqueue(ctx, QueueVideoProcessing, "video-"+videoURL,
		VideoPayload{VideoURL: videoURL}, p.jobOptions()...)
}

// ProcessVideo transcodes the video and then enqueues exactly one
// notification. A failure before the enqueue leaves no notification behind.
func (p *Pipeline) ProcessVideo(ctx context.Context, j *job.Job) error {
	var payload VideoPayload
	if err := j.Decode(&payload); err != nil {
		return err
	}
	if payload.VideoURL == "" {
		return fmt.Errorf("%w: videoURL is empty", errors.ErrInvalidPayload)
	}

	slog.Info("Processing job", "queue", j.Queue, "id", j.ID)
	slog.Info("Transcoding job", "id", j.ID, "url", payload.VideoURL)

	if err := wait(ctx, p.options.TranscodeDelay); err != nil {
		return err
	}

	slog.Info("Transcoding job done", "id", j.ID, "url", payload.VideoURL)

	_, err := p.enqueuer.Enqueue(ctx, QueueNotification, "notification-"+payload.VideoURL,
		NotificationPayload{Notification: "Video has been processed for " + payload.VideoURL},
		p.jobOptions()...)
	return err
}

// SendNotification delivers a notification job
func (p *Pipeline) SendNotification(ctx context.Context, j *job.Job) error {
	var payload NotificationPayload
	if err := j.Decode(&payload); err != nil {
		return err
	}
	return p.notifier.Notify(ctx, payload)
}

// Register adds both stage handlers with their concurrency and rate limits
func (p *Pipeline) Register(r Registrar) error {
	err := r.Register(QueueVideoProcessing, p.ProcessVideo,
		core.WithConcurrency(max(p.options.VideoConcurrency, 1)))
	if err != nil {
		return fmt.Errorf("register %s: %w", QueueVideoProcessing, err)
	}

	opts := []core.WorkerOption{core.WithConcurrency(max(p.options.NotificationConcurrency, 1))}
	if rl := p.options.NotificationRateLimit; rl.Max > 0 {
		opts = append(opts, core.WithRateLimit(rl.Max, rl.Window))
	}
	if err := r.Register(QueueNotification, p.SendNotification, opts...); err != nil {
		return fmt.Errorf("register %s: %w", QueueNotification, err)
	}
	return nil
}

func (p *Pipeline) jobOptions() []job.Option {
	opts := []job.Option{job.WithAttempts(max(p.options.Attempts, 1))}
	if p.options.Backoff > 0 {
		opts = append(opts, job.WithBackoff(p.options.Backoff))
	}
	return opts
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
