// Package store defines the shared key-value and publish/subscribe store that
// every relayq component coordinates through. Components receive a Store
// explicitly; none of them reach for a process-wide client.
package store

import (
	"context"
	"time"
)

// Bus is the publish/subscribe half of the store. It is split out so the
// relay can run over a different transport than the key-value data.
type Bus interface {
	// Publish sends message to every subscriber of channel, including
	// subscribers in the publishing process.
	Publish(ctx context.Context, channel string, message []byte) error

	// Subscribe starts receiving messages published on channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers messages for one channel until closed
type Subscription interface {
	// Messages is closed when the subscription ends
	Messages() <-chan []byte
	Close() error
}

// Store is the shared key-value store with publish/subscribe channels
type Store interface {
	Bus

	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key, value string) (bool, error)

	// Incr atomically increments an integer key, treating absent as 0
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a ttl on an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live; zero when the key has no
	// expiry or does not exist
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes key
	Del(ctx context.Context, key string) error

	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Health() error
}
