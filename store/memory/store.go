// Package memory implements store.Store in process. It backs single-node
// deployments and tests; every "instance" sharing one MemoryStore observes the
// same keys and channels.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
)

// Options for the in-memory store
type Options struct {
	// SubscriptionBuffer is the per-subscriber queue length; messages to a
	// full subscriber are dropped
	SubscriptionBuffer int

	// Clock returns the current time; overridable in tests
	Clock func() time.Time
}

// DefaultOptions returns default in-memory store options
func DefaultOptions() Options {
	return Options{
		SubscriptionBuffer: 256,
		Clock:              time.Now,
	}
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore implements store.Store using maps and channels
type MemoryStore struct {
	mu          sync.Mutex
	data        map[string]entry
	subscribers map[string]map[*subscription]struct{}
	connected   bool
	options     Options
}

var _ store.Store = (*MemoryStore)(nil)

// NewStore creates a new in-memory store
func NewStore(options Options) *MemoryStore {
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &MemoryStore{
		data:        make(map[string]entry),
		subscribers: make(map[string]map[*subscription]struct{}),
		options:     options,
	}
}

// Connect marks the store usable
func (m *MemoryStore) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = true
	return nil
}

// Close ends all subscriptions
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	subs := m.subscribers
	m.subscribers = make(map[string]map[*subscription]struct{})
	m.connected = false
	m.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.Close()
		}
	}
	return nil
}

// Health checks the store is connected
func (m *MemoryStore) Health() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	return nil
}

// Get returns the value of key
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return "", false, errors.ErrNotConnected
	}
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

// Set stores value with an optional ttl
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.options.Clock().Add(ttl)
	}
	m.data[key] = e
	return nil
}

// SetNX stores value only if key is absent
func (m *MemoryStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return false, errors.ErrNotConnected
	}
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = entry{value: value}
	return true, nil
}

// Incr increments an integer key, keeping its ttl
func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, errors.ErrNotConnected
	}
	e, _ := m.lookup(key)
	var n int64
	if e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.NewStoreError("incr", key, fmt.Errorf("value is not an integer"))
		}
		n = v
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.data[key] = e
	return n, nil
}

// Expire sets a ttl on an existing key
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	e.expiresAt = m.options.Clock().Add(ttl)
	m.data[key] = e
	return nil
}

// TTL returns the remaining time to live of key
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, errors.ErrNotConnected
	}
	e, ok := m.lookup(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(m.options.Clock()), nil
}

// Del removes key
func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	delete(m.data, key)
	return nil
}

// Publish delivers message to every current subscriber of channel
func (m *MemoryStore) Publish(ctx context.Context, channel string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}

	for sub := range m.subscribers[channel] {
		msg := append([]byte(nil), message...)
		select {
		case sub.messages <- msg:
		default:
			slog.Warn("Dropping message for slow subscriber", "channel", channel)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for channel
func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, errors.ErrNotConnected
	}

	sub := &subscription{
		store:    m,
		channel:  channel,
		messages: make(chan []byte, m.options.SubscriptionBuffer),
	}
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = make(map[*subscription]struct{})
	}
	m.subscribers[channel][sub] = struct{}{}
	return sub, nil
}

// lookup returns a live entry, evicting it if expired. Caller holds m.mu.
func (m *MemoryStore) lookup(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.options.Clock().Before(e.expiresAt) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

func (m *MemoryStore) unsubscribe(sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.subscribers[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.subscribers, sub.channel)
		}
	}
}

type subscription struct {
	store     *MemoryStore
	channel   string
	messages  chan []byte
	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.unsubscribe(s)
		// unsubscribe holds the store lock, so no Publish is mid-send
		close(s.messages)
	})
	return nil
}
