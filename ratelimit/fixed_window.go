// Package ratelimit implements a fixed-window counter gate kept in the shared
// store, so every process consulting the same key shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
)

// Decision is the outcome of consulting a window
type Decision struct {
	Allowed bool
	// Count is the number of hits recorded in the current window
	Count int64
	Limit int64
	// RetryAfter is how long until the window resets; set when not allowed
	RetryAfter time.Duration
}

// FixedWindow counts hits under a single key that expires every window.
//
// The policy is check-then-increment: Check reads the counter and rejects once
// it has reached the limit, and only allowed callers record a Hit. Rejected
// calls never extend the count. Two processes checking concurrently may both
// pass at the boundary; the store offers no atomic check-and-increment here.
type FixedWindow struct {
	store  store.Store
	key    string
	limit  int64
	window time.Duration
}

// NewFixedWindow creates a gate allowing limit hits per window under key
func NewFixedWindow(s store.Store, key string, limit int64, window time.Duration) *FixedWindow {
	return &FixedWindow{
		store:  s,
		key:    key,
		limit:  limit,
		window: window,
	}
}

// Key returns the store key holding the counter
func (f *FixedWindow) Key() string {
	return f.key
}

// Check reports whether another hit fits in the current window without
// recording one. An absent counter starts a fresh window at zero.
func (f *FixedWindow) Check(ctx context.Context) (Decision, error) {
	value, ok, err := f.store.Get(ctx, f.key)
	if err != nil {
		return Decision{}, err
	}

	if !ok {
		if err := f.store.Set(ctx, f.key, "0", f.window); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, Limit: f.limit}, nil
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Decision{}, errors.NewStoreError("get", f.key, fmt.Errorf("counter is not an integer: %q", value))
	}

	if count >= f.limit {
		retryAfter, err := f.store.TTL(ctx, f.key)
		if err != nil {
			return Decision{}, err
		}
		if retryAfter <= 0 {
			retryAfter = f.window
		}
		return Decision{Allowed: false, Count: count, Limit: f.limit, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Count: count, Limit: f.limit}, nil
}

// Hit records one hit in the current window
func (f *FixedWindow) Hit(ctx context.Context) error {
	n, err := f.store.Incr(ctx, f.key)
	if err != nil {
		return err
	}
	// the window lapsed between Check and Hit; INCR recreated the key
	// without an expiry
	if n == 1 {
		return f.store.Expire(ctx, f.key, f.window)
	}
	return nil
}

// Allow checks the window and records a hit when allowed
func (f *FixedWindow) Allow(ctx context.Context) (Decision, error) {
	d, err := f.Check(ctx)
	if err != nil || !d.Allowed {
		return d, err
	}
	if err := f.Hit(ctx); err != nil {
		return Decision{}, err
	}
	d.Count++
	return d, nil
}

// Err converts a rejecting decision into a RateLimitError
func (f *FixedWindow) Err(d Decision) error {
	if d.Allowed {
		return nil
	}
	return &errors.RateLimitError{Key: f.key, RetryAfter: d.RetryAfter}
}
