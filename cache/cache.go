// Package cache keeps the expensive catalog aggregation in the shared store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
)

// DefaultKey is the store key of the cached total
const DefaultKey = "totalPageValue"

// Source computes the value on a cache miss
type Source interface {
	TotalPageCount(ctx context.Context) (int64, error)
}

// Options for the cache
type Options struct {
	Key string
	// TTL of the cached value; zero keeps it until Invalidate
	TTL time.Duration
}

// DefaultOptions returns default cache options
func DefaultOptions() Options {
	return Options{Key: DefaultKey}
}

// PageCountCache is a write-through cache for the total page count.
// Concurrent misses are not coordinated; each computes and writes the same
// value.
type PageCountCache struct {
	store   store.Store
	source  Source
	options Options
}

// New creates a cache over source
func New(s store.Store, source Source, options Options) *PageCountCache {
	if options.Key == "" {
		options.Key = DefaultKey
	}
	return &PageCountCache{
		store:   s,
		source:  source,
		options: options,
	}
}

// TotalPageCount returns the cached total or computes and stores it
func (c *PageCountCache) TotalPageCount(ctx context.Context) (int64, error) {
	raw, ok, err := c.store.Get(ctx, c.options.Key)
	if err != nil {
		return 0, err
	}
	if ok {
		total, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			slog.Info("Cache hit", "key", c.options.Key)
			return total, nil
		}
		slog.Warn("Ignoring unparsable cached value", "key", c.options.Key, "value", raw)
	}

	slog.Info("Cache miss", "key", c.options.Key)
	total, err := c.source.TotalPageCount(ctx)
	if err != nil {
		return 0, err
	}

	if err := c.store.Set(ctx, c.options.Key, strconv.FormatInt(total, 10), c.options.TTL); err != nil {
		return 0, errors.NewStoreError("set", c.options.Key, fmt.Errorf("caching total: %w", err))
	}
	return total, nil
}

// Invalidate drops the cached value so the next call recomputes it
func (c *PageCountCache) Invalidate(ctx context.Context) error {
	return c.store.Del(ctx, c.options.Key)
}
