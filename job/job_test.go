package job

import (
	"testing"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	j, err := New("video-processing", "video-http://x", map[string]string{"videoURL": "http://x"})
	require.NoError(t, err)

	assert.Equal(t, "video-processing", j.Queue)
	assert.Equal(t, "video-http://x", j.Name)
	assert.Equal(t, StateWaiting, j.State)
	assert.Equal(t, 1, j.MaxAttempts)
	assert.JSONEq(t, `{"videoURL":"http://x"}`, string(j.Payload))

	var payload struct {
		VideoURL string `json:"videoURL"`
	}
	require.NoError(t, j.Decode(&payload))
	assert.Equal(t, "http://x", payload.VideoURL)
}

func TestNew_UnencodablePayload(t *testing.T) {
	_, err := New("q", "n", make(chan int))
	var serErr *errors.SerializationError
	assert.ErrorAs(t, err, &serErr)
}

func TestDecode_Empty(t *testing.T) {
	j := &Job{}
	assert.ErrorIs(t, j.Decode(&struct{}{}), errors.ErrInvalidPayload)
}

func TestRetryPolicy(t *testing.T) {
	j, err := New("q", "n", nil, WithAttempts(3), WithBackoff(time.Second))
	require.NoError(t, err)

	j.Attempts = 1
	assert.True(t, j.CanRetry())
	assert.Equal(t, time.Second, j.RetryDelay())

	j.Attempts = 2
	assert.True(t, j.CanRetry())
	assert.Equal(t, 2*time.Second, j.RetryDelay())

	j.Attempts = 3
	assert.False(t, j.CanRetry())
}

func TestNew_AttemptsFloor(t *testing.T) {
	j, err := New("q", "n", nil, WithAttempts(0))
	require.NoError(t, err)
	assert.Equal(t, 1, j.MaxAttempts)

	j.Attempts = 1
	assert.False(t, j.CanRetry())
	assert.Zero(t, j.RetryDelay())
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.False(t, StateWaiting.Terminal())
}

func TestCounts_Total(t *testing.T) {
	c := Counts{Waiting: 1, Delayed: 2, Active: 3, Completed: 4, Failed: 5}
	assert.Equal(t, int64(15), c.Total())
}
