package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_SendsClaimedJobs(t *testing.T) {
	setup := NewTestSetup()
	setup.Broker.AddJobToQueue("q", NewJob().WithID("1").Build())
	setup.Broker.AddJobToQueue("q", NewJob().WithID("2").Build())

	jobChan := make(chan *job.Job)
	poller := NewPoller(setup.Broker, "q", 10*time.Millisecond, 2, nil, jobChan)

	ctx, cancel := ContextWithTimeout(t)
	defer cancel()
	go poller.Start(ctx)

	first := <-jobChan
	second := <-jobChan
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
}

func TestPoller_RespectsSlots(t *testing.T) {
	setup := NewTestSetup()
	for _, id := range []string{"1", "2", "3"} {
		setup.Broker.AddJobToQueue("q", NewJob().WithID(id).Build())
	}

	jobChan := make(chan *job.Job, 3)
	poller := NewPoller(setup.Broker, "q", 5*time.Millisecond, 1, nil, jobChan)

	ctx, cancel := ContextWithTimeout(t)
	defer cancel()
	go poller.Start(ctx)

	<-jobChan
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, jobChan, 0, "no second claim while the only slot is held")

	poller.Release()
	select {
	case j := <-jobChan:
		assert.Equal(t, "2", j.ID)
	case <-time.After(time.Second):
		t.Fatal("slot release did not resume polling")
	}
}

func TestPoller_ClosesChannelOnStop(t *testing.T) {
	setup := NewTestSetup()
	jobChan := make(chan *job.Job)
	poller := NewPoller(setup.Broker, "q", 5*time.Millisecond, 1, nil, jobChan)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- poller.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	_, ok := <-jobChan
	assert.False(t, ok)
}

func TestPoller_DequeueErrorKeepsPolling(t *testing.T) {
	setup := NewTestSetup()
	setup.Broker.SetDequeueError(errors.New("redis down"))

	jobChan := make(chan *job.Job)
	poller := NewPoller(setup.Broker, "q", 5*time.Millisecond, 1, nil, jobChan)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- poller.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.GreaterOrEqual(t, setup.Broker.DequeueCalls(), 1)
}

func TestPoller_RateLimit(t *testing.T) {
	setup := NewTestSetup()
	for _, id := range []string{"1", "2"} {
		setup.Broker.AddJobToQueue("q", NewJob().WithID(id).Build())
	}

	limiter := NewMockLimiter(1)
	jobChan := make(chan *job.Job, 2)
	poller := NewPoller(setup.Broker, "q", 5*time.Millisecond, 2, limiter, jobChan)

	ctx, cancel := ContextWithTimeout(t)
	defer cancel()
	go poller.Start(ctx)

	j := <-jobChan
	assert.Equal(t, "1", j.ID)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, jobChan, 0, "limit reached, second job must wait")
	assert.Equal(t, int64(1), limiter.Hits())
	assert.Equal(t, 1, setup.Broker.DequeueCalls(), "a rejected check does not claim")
}

func TestPoller_NoHitWhenQueueEmpty(t *testing.T) {
	setup := NewTestSetup()
	limiter := NewMockLimiter(5)
	jobChan := make(chan *job.Job)
	poller := NewPoller(setup.Broker, "q", 5*time.Millisecond, 1, limiter, jobChan)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, poller.Start(ctx))

	assert.Zero(t, limiter.Hits())
}
