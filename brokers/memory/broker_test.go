package memory

import (
	"context"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/brokers/brokertest"
	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (core.Broker, func(time.Duration)) {
	clock := brokertest.NewClock(time.Unix(1700000000, 0))
	opts := DefaultOptions()
	opts.Clock = clock.Now
	b := NewBroker(opts)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b, clock.Advance
}

func TestMemoryBroker(t *testing.T) {
	brokertest.Run(t, newTestBroker)
}

func TestMemoryBroker_NotConnected(t *testing.T) {
	b := NewBroker(DefaultOptions())
	ctx := context.Background()

	j, err := job.New("q", "a", nil)
	require.NoError(t, err)

	_, err = b.Enqueue(ctx, j)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	_, err = b.Dequeue(ctx, "q")
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	_, err = b.Counts(ctx, "q")
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.ErrorIs(t, b.Health(), errors.ErrNotConnected)
}

func TestMemoryBroker_MaxWaiting(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxWaiting = 1
	b := NewBroker(opts)
	require.NoError(t, b.Connect(context.Background()))

	first, err := job.New("q", "a", nil)
	require.NoError(t, err)
	_, err = b.Enqueue(context.Background(), first)
	require.NoError(t, err)

	second, err := job.New("q", "b", nil)
	require.NoError(t, err)
	_, err = b.Enqueue(context.Background(), second)
	var brokerErr *errors.BrokerError
	assert.ErrorAs(t, err, &brokerErr)
}

func TestMemoryBroker_DequeueReturnsCopy(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	j, err := job.New("q", "a", nil)
	require.NoError(t, err)
	id, err := b.Enqueue(ctx, j)
	require.NoError(t, err)

	claimed, err := b.Dequeue(ctx, "q")
	require.NoError(t, err)
	claimed.Name = "mutated"

	stored, err := b.GetJob(ctx, "q", id)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.Name)
}

func TestMemoryBroker_Type(t *testing.T) {
	assert.Equal(t, "memory", NewBroker(DefaultOptions()).Type())
}
