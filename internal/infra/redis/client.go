package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
	repo "github.com/arklim/social-platform-profiles/internal/repository/redis"
)

const (
	defaultPoolSize = 10
	pingTimeout     = 5 * time.Second
	connectInterval = 500 * time.Millisecond
)

// Client owns the connection pool used for publication fingerprints.
type Client struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// Options maps settings to go-redis options.
func Options(cfg config.RedisSettings) *redis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	opts := &redis.Options{
		Addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		MinIdleConns:    poolSize / 5,
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewClient connects and pings, retrying up to cfg.ConnectAttempts times.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(Options(cfg))

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return struct{}{}, client.Ping(pingCtx).Err()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(connectInterval)),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("redis not reachable yet", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("addr", client.Options().Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", client.Options().PoolSize),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
	)
	return &Client{client: client, logger: logger, prefix: cfg.FingerprintPrefix}, nil
}

// Client exposes the underlying go-redis client.
func (c *Client) Client() *redis.Client {
	return c.client
}

// Fingerprints returns the fingerprint store backed by this connection.
func (c *Client) Fingerprints(ttl time.Duration) *repo.FingerprintStore {
	return repo.NewFingerprintStore(c.client, c.prefix, ttl)
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
