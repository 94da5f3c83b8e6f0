package redis

import (
	"time"

	redisUtils "github.com/BranchIntl/relayq/internal/redis"
)

// Options for Redis broker
type Options struct {
	redisUtils.Options

	// Namespace is the key prefix in Redis
	Namespace string

	// Clock returns the current time; overridable in tests
	Clock func() time.Time
}

// DefaultOptions returns default Redis broker options
func DefaultOptions() Options {
	return Options{
		Options:   redisUtils.DefaultOptions(),
		Namespace: "jobs:",
		Clock:     time.Now,
	}
}
