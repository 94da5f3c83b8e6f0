// Package storetest provides a behaviour suite shared by store.Store
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/BranchIntl/relayq/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a connected store and a function that moves the store's
// notion of time forward.
type Factory func(t *testing.T) (s store.Store, advance func(time.Duration))

// Run executes the suite against stores built by factory
func Run(t *testing.T, factory Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s, _ := factory(t)
		v, ok, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("SetGet", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "state1", `[false,true]`, 0))

		v, ok, err := s.Get(ctx, "state1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `[false,true]`, v)

		ttl, err := s.TTL(ctx, "state1")
		require.NoError(t, err)
		assert.Zero(t, ttl)
	})

	t.Run("SetNX", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()

		stored, err := s.SetNX(ctx, "state1", "first")
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = s.SetNX(ctx, "state1", "second")
		require.NoError(t, err)
		assert.False(t, stored)

		v, _, err := s.Get(ctx, "state1")
		require.NoError(t, err)
		assert.Equal(t, "first", v)
	})

	t.Run("IncrAndExpire", func(t *testing.T) {
		s, advance := factory(t)
		ctx := context.Background()

		n, err := s.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, s.Expire(ctx, "counter", 60*time.Second))
		n, err = s.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ttl, err := s.TTL(ctx, "counter")
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)

		advance(61 * time.Second)
		_, ok, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.False(t, ok, "key should expire after its ttl")
	})

	t.Run("SetWithTTL", func(t *testing.T) {
		s, advance := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "rate-limit", "0", 10*time.Second))
		advance(5 * time.Second)
		_, ok, err := s.Get(ctx, "rate-limit")
		require.NoError(t, err)
		assert.True(t, ok)

		advance(6 * time.Second)
		_, ok, err = s.Get(ctx, "rate-limit")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Del", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "totalPageValue", "42", 0))
		require.NoError(t, s.Del(ctx, "totalPageValue"))
		_, ok, err := s.Get(ctx, "totalPageValue")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PublishSubscribe", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()

		first, err := s.Subscribe(ctx, "server:broker")
		require.NoError(t, err)
		defer first.Close()
		second, err := s.Subscribe(ctx, "server:broker")
		require.NoError(t, err)
		defer second.Close()
		other, err := s.Subscribe(ctx, "other")
		require.NoError(t, err)
		defer other.Close()

		require.NoError(t, s.Publish(ctx, "server:broker", []byte(`{"event":"x"}`)))

		for _, sub := range []store.Subscription{first, second} {
			select {
			case msg := <-sub.Messages():
				assert.Equal(t, `{"event":"x"}`, string(msg))
			case <-time.After(2 * time.Second):
				t.Fatal("message not delivered")
			}
		}

		select {
		case msg := <-other.Messages():
			t.Fatalf("unexpected message on other channel: %s", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("SubscriptionClose", func(t *testing.T) {
		s, _ := factory(t)
		sub, err := s.Subscribe(context.Background(), "server:broker")
		require.NoError(t, err)
		require.NoError(t, sub.Close())

		select {
		case _, ok := <-sub.Messages():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("messages channel not closed")
		}
	})
}
