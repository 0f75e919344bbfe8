// Package stratocache fronts an unreliable remote key-value backend with
// a bounded in-process tier. Backend failures are isolated behind
// per-operation circuit breakers and a reconnecting connection manager;
// callers see misses, not errors, while the backend is down.
package stratocache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/backoff"
	"github.com/ftfuture/stratocache/internal/breaker"
	"github.com/ftfuture/stratocache/internal/config"
	"github.com/ftfuture/stratocache/internal/connection"
	"github.com/ftfuture/stratocache/internal/health"
	"github.com/ftfuture/stratocache/internal/multilevel"
)

// HealthStatus classifies the overall subsystem health.
type HealthStatus = health.Status

// Health classifications, from best to worst.
const (
	Healthy   = health.Healthy
	Degraded  = health.Degraded
	Unhealthy = health.Unhealthy
)

// Stats aggregates per-tier hit/miss counts, breaker and connection
// state and the current health classification.
type Stats = health.Report

// Cache is one cache subsystem instance. Instances are independent: each
// owns its local tier, breakers and connection manager, so multiple
// instances can front different backends in one process.
type Cache struct {
	cfg      *config.Config
	remote   backend.Client
	conn     *connection.Manager
	ml       *multilevel.Cache
	reporter *health.Reporter
	logger   *zap.Logger
	closed   *atomic.Bool
}

// New connects to Redis and assembles the subsystem. A backend that is
// down at start-up does not fail New: the cache starts degraded and the
// connection manager keeps retrying in the background.
func New(ctx context.Context, redisOpts *redis.Options, opts ...Option) (*Cache, error) {
	cfg, err := buildConfig(opts...)
	if err != nil {
		return nil, err
	}
	remote := backend.NewRedis(redis.NewClient(redisOpts), cfg.OperationTimeout)
	return assemble(ctx, cfg, remote, nil)
}

func buildConfig(opts ...Option) (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// assemble wires the subsystem around an arbitrary backend client.
// Tests inject failure-scripted backends through here.
func assemble(ctx context.Context, cfg *config.Config, remote backend.Client, reg prometheus.Registerer) (*Cache, error) {
	policy, err := backoff.NewPolicy(
		cfg.Reconnect.InitialBackoff,
		cfg.Reconnect.MaxBackoff,
		cfg.Reconnect.Multiplier,
		cfg.Reconnect.Jitter,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid reconnect settings: %w", err)
	}

	conn := connection.NewManager(remote, policy, cfg.Reconnect.MaxAttempts, cfg.HealthCheckInterval, cfg.Logger)
	breakers := breaker.NewRegistry(cfg.Breaker, cfg.Logger)
	ml := multilevel.New(cfg, remote, conn, breakers)
	reporter := health.NewReporter(cfg, conn, ml, breakers, reg)

	if err := conn.Connect(ctx); err != nil {
		cfg.Logger.Warn("backend unreachable at start-up, starting degraded", zap.Error(err))
	}
	reporter.Start()

	return &Cache{
		cfg:      cfg,
		remote:   remote,
		conn:     conn,
		ml:       ml,
		reporter: reporter,
		logger:   cfg.Logger,
		closed:   atomic.NewBool(false),
	}, nil
}

// Get looks the key up across both tiers and decodes the stored value
// into value. found is false on a miss or whenever the remote tier is
// unreachable; the only returned errors are serialization failures.
func (c *Cache) Get(ctx context.Context, key string, value any) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}

	data, ok := c.ml.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := c.cfg.Serialization.Decoder(bytes.NewReader(data)).Decode(value); err != nil {
		c.logger.Error("failed to decode cached value", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return true, nil
}

// Set encodes value and writes it to both tiers. Without an explicit TTL
// the configured remote default applies. A TTL of zero or less skips the
// local tier. Remote write failures fail the call only in strict mode.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return errors.New("key cannot be empty")
	}

	var buf bytes.Buffer
	if err := c.cfg.Serialization.Encoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	effective := c.cfg.RemoteTTL
	if len(ttl) > 0 {
		effective = ttl[0]
	}

	if err := c.ml.Set(ctx, key, buf.Bytes(), effective); err != nil {
		return c.mapRemoteErr(err)
	}
	return nil
}

// Delete removes the key from both tiers. Local removal always happens;
// the returned error reports a remote-tier failure.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.ml.Delete(ctx, key); err != nil {
		return c.mapRemoteErr(err)
	}
	return nil
}

// Flush drops every local-tier entry. Administrative; the remote tier is
// untouched.
func (c *Cache) Flush() {
	c.ml.Flush()
}

// Stats returns a health report assembled from the current subsystem
// state.
func (c *Cache) Stats() Stats {
	return c.reporter.Snapshot()
}

// OnHealthChange subscribes fn to health classification changes.
func (c *Cache) OnHealthChange(fn func(HealthStatus)) {
	c.reporter.OnChange(fn)
}

// Close stops the background tasks and releases the backend connection.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.reporter.Close()
	_ = c.ml.Close()
	c.conn.Disconnect()
	return c.remote.Close()
}

func (c *Cache) mapRemoteErr(err error) error {
	if errors.Is(err, multilevel.ErrRemoteUnavailable) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return err
}
