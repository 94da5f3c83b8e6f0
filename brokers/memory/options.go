package memory

import "time"

// Options for the in-memory broker
type Options struct {
	// MaxWaiting caps the waiting jobs per queue; zero means unbounded
	MaxWaiting int

	// Clock returns the current time; overridable in tests
	Clock func() time.Time
}

// DefaultOptions returns default in-memory broker options
func DefaultOptions() Options {
	return Options{
		MaxWaiting: 0,
		Clock:      time.Now,
	}
}
