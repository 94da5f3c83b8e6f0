// Package redis implements store.Store on top of a redigo connection pool.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/errors"
	redisUtils "github.com/BranchIntl/relayq/internal/redis"
	"github.com/BranchIntl/relayq/store"
	"github.com/gomodule/redigo/redis"
)

// Options for the Redis store
type Options struct {
	redisUtils.Options

	// SubscriptionBuffer is the number of undelivered messages kept per
	// subscription before the receive loop blocks
	SubscriptionBuffer int

	// ResubscribeDelay is the first pause before redialing a lost
	// subscription. It doubles on each failed attempt up to
	// maxResubscribeDelay.
	ResubscribeDelay time.Duration
}

const maxResubscribeDelay = 30 * time.Second

// DefaultOptions returns default Redis store options
func DefaultOptions() Options {
	return Options{
		Options:            redisUtils.DefaultOptions(),
		SubscriptionBuffer: 256,
		ResubscribeDelay:   time.Second,
	}
}

// RedisStore implements store.Store for Redis
type RedisStore struct {
	pool    *redis.Pool
	options Options
}

var _ store.Store = (*RedisStore)(nil)

// NewStore creates a new Redis store
func NewStore(options Options) *RedisStore {
	return &RedisStore{options: options}
}

// Connect establishes the connection pool and verifies it
func (r *RedisStore) Connect(ctx context.Context) error {
	pool, err := redisUtils.CreatePool(r.options.Options)
	if err != nil {
		return err
	}
	if err := redisUtils.Ping(ctx, pool, r.options.URI); err != nil {
		pool.Close()
		return err
	}
	r.pool = pool
	return nil
}

// Close closes the connection pool
func (r *RedisStore) Close() error {
	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisStore) Health() error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}
	return redisUtils.Ping(context.Background(), r.pool, r.options.URI)
}

// Get returns the string value of key
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.do(ctx, "get", key, func(conn redis.Conn) error {
		v, err := redis.String(redis.DoContext(conn, ctx, "GET", key))
		if err == redis.ErrNil {
			return err
		}
		value = v
		return err
	})
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value with an optional ttl
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.do(ctx, "set", key, func(conn redis.Conn) error {
		args := redis.Args{key, value}
		if ttl > 0 {
			args = args.Add("PX", ttl.Milliseconds())
		}
		_, err := redis.DoContext(conn, ctx, "SET", args...)
		return err
	})
}

// SetNX stores value if key is absent
func (r *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	var stored bool
	err := r.do(ctx, "setnx", key, func(conn redis.Conn) error {
		reply, err := redis.DoContext(conn, ctx, "SET", key, value, "NX")
		if err != nil {
			return err
		}
		stored = reply != nil
		return nil
	})
	return stored, err
}

// Incr increments key by one
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.do(ctx, "incr", key, func(conn redis.Conn) error {
		v, err := redis.Int64(redis.DoContext(conn, ctx, "INCR", key))
		n = v
		return err
	})
	return n, err
}

// Expire sets a ttl on key
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.do(ctx, "expire", key, func(conn redis.Conn) error {
		_, err := redis.DoContext(conn, ctx, "PEXPIRE", key, ttl.Milliseconds())
		return err
	})
}

// TTL returns the remaining time to live of key
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := r.do(ctx, "ttl", key, func(conn redis.Conn) error {
		ms, err := redis.Int64(redis.DoContext(conn, ctx, "PTTL", key))
		if err != nil {
			return err
		}
		// -2 missing key, -1 no expiry
		if ms > 0 {
			ttl = time.Duration(ms) * time.Millisecond
		}
		return nil
	})
	return ttl, err
}

// Del removes key
func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.do(ctx, "del", key, func(conn redis.Conn) error {
		_, err := redis.DoContext(conn, ctx, "DEL", key)
		return err
	})
}

// Publish sends message on channel
func (r *RedisStore) Publish(ctx context.Context, channel string, message []byte) error {
	return r.do(ctx, "publish", channel, func(conn redis.Conn) error {
		_, err := redis.DoContext(conn, ctx, "PUBLISH", channel, message)
		return err
	})
}

// Subscribe opens a dedicated connection subscribed to channel. A lost
// connection is redialed and resubscribed until the subscription is closed;
// messages published while it is down are missed.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	psc, err := r.subscribeConn(ctx, channel)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		store:    r,
		psc:      psc,
		channel:  channel,
		messages: make(chan []byte, r.options.SubscriptionBuffer),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go sub.run()

	return sub, nil
}

// subscribeConn dials a connection, subscribes it to channel and waits for
// the confirmation
func (r *RedisStore) subscribeConn(ctx context.Context, channel string) (redis.PubSubConn, error) {
	conn, err := redisUtils.DialRedis(ctx, r.options.Options)
	if err != nil {
		return redis.PubSubConn{}, err
	}

	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		conn.Close()
		return redis.PubSubConn{}, errors.NewStoreError("subscribe", channel, err)
	}

	switch v := psc.ReceiveContext(ctx).(type) {
	case redis.Subscription:
		if v.Kind == "subscribe" {
			return psc, nil
		}
		conn.Close()
		return redis.PubSubConn{}, errors.NewStoreError("subscribe", channel,
			fmt.Errorf("unexpected %s reply", v.Kind))
	case error:
		conn.Close()
		return redis.PubSubConn{}, errors.NewStoreError("subscribe", channel, v)
	default:
		conn.Close()
		return redis.PubSubConn{}, errors.NewStoreError("subscribe", channel,
			fmt.Errorf("unexpected reply %T", v))
	}
}

func (r *RedisStore) do(ctx context.Context, op, key string, fn func(redis.Conn) error) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.NewConnectionError(r.options.URI, fmt.Errorf("get connection: %w", err))
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		if err == redis.ErrNil {
			return err
		}
		return errors.NewStoreError(op, key, err)
	}
	return nil
}

type subscription struct {
	store    *RedisStore
	channel  string
	messages chan []byte

	mu        sync.Mutex
	psc       redis.PubSubConn
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

// Close stops the subscription. Messages is closed once the receive loop
// has exited.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		// the receive loop may already have closed a failed connection
		s.psc.Close()
		s.mu.Unlock()
		<-s.exited
	})
	return nil
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// run receives on the current connection and resubscribes whenever it is
// lost
func (s *subscription) run() {
	defer close(s.exited)
	defer close(s.messages)

	for {
		s.mu.Lock()
		psc := s.psc
		s.mu.Unlock()

		err := s.receive(psc)
		psc.Close()
		if s.closed() {
			return
		}
		slog.Warn("Subscription lost, resubscribing", "channel", s.channel, "error", err)

		if !s.resubscribe() {
			return
		}
		slog.Info("Resubscribed", "channel", s.channel)
	}
}

// receive forwards messages until the connection fails or the channel is
// unsubscribed
func (s *subscription) receive(psc redis.PubSubConn) error {
	for {
		// a zero timeout disables the read deadline; Close unblocks the read
		switch v := psc.ReceiveWithTimeout(0).(type) {
		case redis.Message:
			select {
			case s.messages <- v.Data:
			case <-s.done:
				return nil
			}
		case redis.Subscription:
			if v.Count == 0 {
				return fmt.Errorf("unsubscribed from %s", s.channel)
			}
		case error:
			return v
		}
	}
}

// dial subscribes a fresh connection. The attempt is abandoned after the
// connect timeout or when the subscription is closed.
func (s *subscription) dial() (redis.PubSubConn, error) {
	timeout := s.store.options.ConnectTimeout
	if timeout <= 0 {
		timeout = redisUtils.DefaultOptions().ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.store.subscribeConn(ctx, s.channel)
}

// resubscribe redials with exponential backoff. It returns false once the
// subscription is closed.
func (s *subscription) resubscribe() bool {
	delay := s.store.options.ResubscribeDelay
	if delay <= 0 {
		delay = DefaultOptions().ResubscribeDelay
	}

	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		psc, err := s.dial()
		if err != nil {
			slog.Warn("Resubscribe failed", "channel", s.channel, "error", err, "retry_in", delay)
			delay *= 2
			if delay > maxResubscribeDelay {
				delay = maxResubscribeDelay
			}
			continue
		}

		s.mu.Lock()
		if s.closed() {
			s.mu.Unlock()
			psc.Close()
			return false
		}
		s.psc = psc
		s.mu.Unlock()
		return true
	}
}
