// Package redis holds the redigo connection plumbing shared by the Redis
// backed store and broker.
package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	relayqErrors "github.com/BranchIntl/relayq/errors"
	"github.com/gomodule/redigo/redis"
)

var (
	// ErrInvalidScheme is returned when the Redis URI scheme is invalid
	ErrInvalidScheme = errors.New("invalid Redis database URI scheme")
)

// Options configures a Redis connection pool
type Options struct {
	// URI is the Redis connection URI (redis://, rediss:// or unix://)
	URI string

	// MaxConnections is the maximum number of connections in the pool
	MaxConnections int

	// MaxIdle is the maximum number of idle connections
	MaxIdle int

	// IdleTimeout closes connections idle for longer than this
	IdleTimeout time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLS options
	UseTLS        bool
	TLSSkipVerify bool
	TLSCertPath   string
}

// DefaultOptions returns default connection options
func DefaultOptions() Options {
	return Options{
		URI:            "redis://localhost:6379/",
		MaxConnections: 10,
		MaxIdle:        2,
		IdleTimeout:    240 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// CreatePool creates a Redis connection pool using the provided options
func CreatePool(options Options) (*redis.Pool, error) {
	if _, err := parseURI(options.URI); err != nil {
		return nil, err
	}

	return &redis.Pool{
		MaxActive:   options.MaxConnections,
		MaxIdle:     options.MaxIdle,
		IdleTimeout: options.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return DialRedis(ctx, options)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}, nil
}

// Ping borrows a connection and checks the server answers
func Ping(ctx context.Context, pool *redis.Pool, uri string) error {
	conn, err := pool.GetContext(ctx)
	if err != nil {
		return relayqErrors.NewConnectionError(uri, fmt.Errorf("get connection: %w", err))
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return relayqErrors.NewConnectionError(uri, fmt.Errorf("ping failed: %w", err))
	}
	return nil
}

// DialRedis establishes a Redis connection using the provided options
func DialRedis(ctx context.Context, options Options) (redis.Conn, error) {
	uri, err := parseURI(options.URI)
	if err != nil {
		return nil, err
	}

	dialOptions := []redis.DialOption{
		redis.DialConnectTimeout(options.ConnectTimeout),
		redis.DialReadTimeout(options.ReadTimeout),
		redis.DialWriteTimeout(options.WriteTimeout),
	}

	var network, host string
	switch uri.Scheme {
	case "redis", "rediss":
		network = "tcp"
		host = uri.Host
		if uri.User != nil {
			if password, ok := uri.User.Password(); ok {
				dialOptions = append(dialOptions, redis.DialPassword(password))
			}
			if username := uri.User.Username(); username != "" {
				dialOptions = append(dialOptions, redis.DialUsername(username))
			}
		}
		if len(uri.Path) > 1 {
			var db int
			if _, err := fmt.Sscanf(uri.Path[1:], "%d", &db); err != nil {
				return nil, relayqErrors.NewConnectionError(options.URI,
					fmt.Errorf("invalid database %q: %w", uri.Path[1:], err))
			}
			dialOptions = append(dialOptions, redis.DialDatabase(db))
		}

		if uri.Scheme == "rediss" || options.UseTLS {
			tlsConfig := &tls.Config{
				InsecureSkipVerify: options.TLSSkipVerify,
			}
			if options.TLSCertPath != "" {
				pool, err := LoadCertPool(options.TLSCertPath)
				if err != nil {
					return nil, err
				}
				tlsConfig.RootCAs = pool
			}
			dialOptions = append(dialOptions,
				redis.DialUseTLS(true),
				redis.DialTLSConfig(tlsConfig),
			)
		}
	case "unix":
		network = "unix"
		host = uri.Path
	}

	conn, err := redis.DialContext(ctx, network, host, dialOptions...)
	if err != nil {
		return nil, relayqErrors.NewConnectionError(options.URI,
			fmt.Errorf("failed to connect: %w", err))
	}
	return conn, nil
}

func parseURI(raw string) (*url.URL, error) {
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, relayqErrors.NewConnectionError(raw, fmt.Errorf("invalid URI: %w", err))
	}
	switch uri.Scheme {
	case "redis", "rediss", "unix":
		return uri, nil
	default:
		return nil, relayqErrors.NewConnectionError(raw, ErrInvalidScheme)
	}
}

// LoadCertPool loads a certificate pool from a file
func LoadCertPool(certPath string) (*x509.CertPool, error) {
	rootCAs, _ := x509.SystemCertPool()
	if rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}

	certs, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cert file %q: %w", certPath, err)
	}

	if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
		return nil, fmt.Errorf("failed to append certs from %q", certPath)
	}

	return rootCAs, nil
}
