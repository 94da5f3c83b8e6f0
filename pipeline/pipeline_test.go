package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	memorybroker "github.com/BranchIntl/relayq/brokers/memory"
	"github.com/BranchIntl/relayq/core"
	relayqErrors "github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/BranchIntl/relayq/registry"
	"github.com/BranchIntl/relayq/statistics/noop"
	memorystore "github.com/BranchIntl/relayq/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	queue   string
	name    string
	payload any
	opts    job.Options
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, queue, name string, payload any, opts ...job.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	f.jobs = append(f.jobs, enqueued{queue: queue, name: name, payload: payload, opts: o})
	return "1", nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []NotificationPayload
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, n NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRegistrar struct {
	options map[string]core.WorkerOptions
}

func (f *fakeRegistrar) Register(queue string, handler core.HandlerFunc, options ...core.WorkerOption) error {
	o := core.DefaultWorkerOptions()
	for _, opt := range options {
		opt(&o)
	}
	f.options[queue] = o
	return nil
}

func fastOptions() Options {
	o := DefaultOptions()
	o.TranscodeDelay = 0
	return o
}

func videoJob(t *testing.T, url string) *job.Job {
	j, err := job.New(QueueVideoProcessing, "video-"+url, VideoPayload{VideoURL: url})
	require.NoError(t, err)
	j.ID = "1"
	return j
}

func TestSubmitVideo(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := New(enq, nil, DefaultOptions())

	id, err := p.SubmitVideo(context.Background(), "http://x")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, QueueVideoProcessing, enq.jobs[0].queue)
	assert.Equal(t, "video-http://x", enq.jobs[0].name)
	assert.Equal(t, VideoPayload{VideoURL: "http://x"}, enq.jobs[0].payload)
	assert.Equal(t, 1, enq.jobs[0].opts.Attempts)
}

func TestSubmitVideo_Validation(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := New(enq, nil, DefaultOptions())

	for _, url := range []string{"", "   "} {
		_, err := p.SubmitVideo(context.Background(), url)
		assert.True(t, relayqErrors.IsValidation(err))
	}
	assert.Empty(t, enq.jobs)
}

func TestProcessVideo_EnqueuesOneNotification(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := New(enq, nil, fastOptions())

	require.NoError(t, p.ProcessVideo(context.Background(), videoJob(t, "http://x")))

	require.Len(t, enq.jobs, 1)
	assert.Equal(t, QueueNotification, enq.jobs[0].queue)
	assert.Equal(t, "notification-http://x", enq.jobs[0].name)
	assert.Equal(t, NotificationPayload{Notification: "Video has been processed for http://x"}, enq.jobs[0].payload)
}

func TestProcessVideo_FailureEnqueuesNothing(t *testing.T) {
	tests := []struct {
		name    string
		payload json.RawMessage
	}{
		{"not json", json.RawMessage(`{`)},
		{"missing url", json.RawMessage(`{}`)},
		{"empty payload", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &fakeEnqueuer{}
			p := New(enq, nil, fastOptions())

			err := p.ProcessVideo(context.Background(), &job.Job{ID: "1", Queue: QueueVideoProcessing, Payload: tt.payload})
			assert.Error(t, err)
			assert.Empty(t, enq.jobs)
		})
	}
}

func TestProcessVideo_WaitsForTranscode(t *testing.T) {
	enq := &fakeEnqueuer{}
	o := DefaultOptions()
	o.TranscodeDelay = 30 * time.Millisecond
	p := New(enq, nil, o)

	start := time.Now()
	require.NoError(t, p.ProcessVideo(context.Background(), videoJob(t, "http://x")))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestProcessVideo_CancelledDuringTranscode(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := New(enq, nil, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.ProcessVideo(ctx, videoJob(t, "http://x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, enq.jobs)
}

func TestSendNotification(t *testing.T) {
	notifier := &fakeNotifier{}
	p := New(&fakeEnqueuer{}, notifier, DefaultOptions())

	j, err := job.New(QueueNotification, "notification-http://x", NotificationPayload{Notification: "done"})
	require.NoError(t, err)
	require.NoError(t, p.SendNotification(context.Background(), j))
	assert.Equal(t, []NotificationPayload{{Notification: "done"}}, notifier.sent)

	notifier.err = errors.New("smtp down")
	assert.Error(t, p.SendNotification(context.Background(), j))
}

func TestRegister_StageOptions(t *testing.T) {
	r := &fakeRegistrar{options: map[string]core.WorkerOptions{}}
	require.NoError(t, New(&fakeEnqueuer{}, nil, DefaultOptions()).Register(r))

	assert.Equal(t, 1, r.options[QueueVideoProcessing].Concurrency)
	assert.Nil(t, r.options[QueueVideoProcessing].RateLimit)

	notification := r.options[QueueNotification]
	assert.Equal(t, 1, notification.Concurrency)
	require.NotNil(t, notification.RateLimit)
	assert.Equal(t, int64(1), notification.RateLimit.Max)
	assert.Equal(t, 10*time.Second, notification.RateLimit.Window)
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	broker := memorybroker.NewBroker(memorybroker.DefaultOptions())
	limiterStore := memorystore.NewStore(memorystore.DefaultOptions())
	require.NoError(t, limiterStore.Connect(ctx))

	engine := core.NewEngine(broker, noop.NewStatistics(), registry.NewRegistry(),
		core.WithPollInterval(10*time.Millisecond),
		core.WithLimiterStore(limiterStore),
	)

	notifier := &fakeNotifier{}
	o := fastOptions()
	o.NotificationRateLimit = core.RateLimit{Max: 100, Window: time.Minute}
	p := New(engine, notifier, o)
	require.NoError(t, p.Register(engine))

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	_, err := p.SubmitVideo(ctx, "http://a")
	require.NoError(t, err)
	_, err = p.SubmitVideo(ctx, "http://b")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return notifier.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		video, err := broker.Counts(ctx, QueueVideoProcessing)
		require.NoError(t, err)
		notification, err := broker.Counts(ctx, QueueNotification)
		require.NoError(t, err)
		return video.Completed == 2 && notification.Completed == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_NotificationRateLimit(t *testing.T) {
	ctx := context.Background()
	broker := memorybroker.NewBroker(memorybroker.DefaultOptions())
	limiterStore := memorystore.NewStore(memorystore.DefaultOptions())
	require.NoError(t, limiterStore.Connect(ctx))

	engine := core.NewEngine(broker, noop.NewStatistics(), registry.NewRegistry(),
		core.WithPollInterval(10*time.Millisecond),
		core.WithLimiterStore(limiterStore),
	)

	notifier := &fakeNotifier{}
	p := New(engine, notifier, fastOptions())
	require.NoError(t, p.Register(engine))
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	for _, url := range []string{"http://a", "http://b", "http://c"} {
		_, err := p.SubmitVideo(ctx, url)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, notifier.count(), "one notification per 10s window")

	counts, err := broker.Counts(ctx, QueueNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)
}
