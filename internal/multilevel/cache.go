// Package multilevel composes the local tier and the breaker-protected
// remote tier into one get/set/delete contract with fallback semantics.
// Remote-tier failures degrade to cache misses; they are never fatal to
// the caller.
package multilevel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/breaker"
	"github.com/ftfuture/stratocache/internal/config"
	"github.com/ftfuture/stratocache/internal/connection"
	"github.com/ftfuture/stratocache/internal/local"
)

// ErrRemoteUnavailable reports that the remote tier rejected or failed a
// write surfaced in strict mode.
var ErrRemoteUnavailable = errors.New("remote tier unavailable")

// Operation class names; each gets its own circuit breaker.
const (
	opGet    = "cache-get"
	opSet    = "cache-set"
	opDelete = "cache-delete"
)

// Cache is the multi-level orchestrator.
type Cache struct {
	cfg      *config.Config
	localT   *local.Store
	remote   backend.Client
	conn     *connection.Manager
	breakers *breaker.Registry

	sf     singleflight.Group
	filter *negativeFilter
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	counters counters

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the orchestrator. It takes ownership of the local tier but
// not of the backend client or connection manager.
func New(cfg *config.Config, remote backend.Client, conn *connection.Manager, breakers *breaker.Registry) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		cfg:      cfg,
		localT:   local.New(cfg.L1MaxEntries, cfg.L1Shards, nil),
		remote:   remote,
		conn:     conn,
		breakers: breakers,
		tracer:   otel.Tracer("stratocache"),
		logger:   cfg.Logger,
		now:      time.Now,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if cfg.NegativeFilter.Enabled {
		c.filter = newNegativeFilter(cfg.NegativeFilter, c.localT, cfg.Logger)
		go func() {
			defer close(c.done)
			c.filter.run(ctx)
		}()
	} else {
		close(c.done)
	}
	return c
}

// Get checks L1 first, then the remote tier through the circuit breaker.
// Remote results backfill L1. Any remote failure is absorbed into a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if entry, ok := c.localT.Get(key); ok {
		c.counters.l1Hits.Inc()
		return entry.Data, true
	}
	c.counters.l1Misses.Inc()

	if c.filter != nil && !c.filter.test(key) {
		// The filter has never seen the key. Another instance may still
		// have written it to the shared remote tier, so confirm with a
		// cheap existence probe, but only while the backend is healthy.
		if c.conn.State() != connection.Connected {
			c.counters.fallbacks.Inc()
			return nil, false
		}
		exists, err := c.exists(ctx, key)
		if err != nil {
			c.absorb(err, key, "exists")
			c.counters.fallbacks.Inc()
			return nil, false
		}
		if !exists {
			c.counters.remoteMisses.Inc()
			return nil, false
		}
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.breakers.Execute(opGet, func() (any, error) {
			return c.remote.Get(ctx, key)
		})
	})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.counters.remoteMisses.Inc()
			return nil, false
		}
		c.absorb(err, key, "get")
		c.counters.fallbacks.Inc()
		return nil, false
	}

	data, ok := v.([]byte)
	if !ok {
		c.logger.Error("unexpected remote value type", zap.String("key", key))
		return nil, false
	}

	c.counters.remoteHits.Inc()
	c.kickIfParked()

	if ttl := c.localTTL(c.cfg.RemoteTTL); ttl > 0 {
		c.localT.Set(key, local.NewEntry(data, ttl, c.now()))
	}
	if c.filter != nil {
		c.filter.add(key)
	}
	return data, true
}

// Set writes to L1 and then to the remote tier through the breaker.
// A remote failure is logged and counted; it fails the call only in
// strict mode. ttl <= 0 skips the local tier and uses the default
// remote TTL for the remote write.
func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.counters.sets.Inc()

	remoteTTL := ttl
	if remoteTTL <= 0 {
		remoteTTL = c.cfg.RemoteTTL
	}

	if ttl > 0 {
		if localTTL := c.localTTL(ttl); localTTL > 0 {
			c.localT.Set(key, local.NewEntry(data, localTTL, c.now()))
		}
	}
	if c.filter != nil {
		c.filter.add(key)
	}

	_, err := c.breakers.Execute(opSet, func() (any, error) {
		return nil, c.remote.Set(ctx, key, data, remoteTTL)
	})
	if err != nil {
		c.absorb(err, key, "set")
		if c.cfg.StrictWrites {
			if breaker.IsOpen(err) {
				return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
			}
			return fmt.Errorf("remote set: %w", err)
		}
		return nil
	}

	c.kickIfParked()
	return nil
}

// Delete removes the key from both tiers. The local removal always
// happens; a remote failure is reported through the returned error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.counters.deletes.Inc()
	c.localT.Delete(key)

	_, err := c.breakers.Execute(opDelete, func() (any, error) {
		return nil, c.remote.Delete(ctx, key)
	})
	if err != nil {
		c.absorb(err, key, "delete")
		if breaker.IsOpen(err) {
			return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		return fmt.Errorf("remote delete: %w", err)
	}

	c.kickIfParked()
	return nil
}

// Flush drops every entry in the local tier. The remote tier is not
// touched.
func (c *Cache) Flush() {
	c.localT.Flush()
}

// Stats returns the current counters and hit rates.
func (c *Cache) Stats() Stats {
	s := Stats{
		L1Hits:       c.counters.l1Hits.Load(),
		L1Misses:     c.counters.l1Misses.Load(),
		RemoteHits:   c.counters.remoteHits.Load(),
		RemoteMisses: c.counters.remoteMisses.Load(),
		RemoteErrors: c.counters.remoteErrors.Load(),
		Fallbacks:    c.counters.fallbacks.Load(),
		Sets:         c.counters.sets.Load(),
		Deletes:      c.counters.deletes.Load(),
		L1Entries:    c.localT.Len(),
		Degraded:     c.degraded(),
	}
	s.L1HitRate = ratio(s.L1Hits, s.L1Hits+s.L1Misses)
	s.RemoteHitRate = ratio(s.RemoteHits, s.RemoteHits+s.RemoteMisses+s.RemoteErrors)
	s.HitRate = ratio(s.L1Hits+s.RemoteHits, s.L1Hits+s.L1Misses)
	return s
}

// Close stops the orchestrator's background tasks.
func (c *Cache) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Cache) exists(ctx context.Context, key string) (bool, error) {
	v, err := c.breakers.Execute(opGet, func() (any, error) {
		return c.remote.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// localTTL bounds the L1 lifetime: never above the remote TTL or the
// configured default, and clamped hard while the connection is unhealthy
// so stale data flushes out quickly once the remote tier recovers.
func (c *Cache) localTTL(remoteTTL time.Duration) time.Duration {
	ttl := c.cfg.DefaultTTL
	if remoteTTL > 0 && remoteTTL < ttl {
		ttl = remoteTTL
	}
	if c.degraded() && c.cfg.DegradedModeTTL > 0 && c.cfg.DegradedModeTTL < ttl {
		ttl = c.cfg.DegradedModeTTL
	}
	return ttl
}

func (c *Cache) degraded() bool {
	return c.conn.State() != connection.Connected
}

// kickIfParked re-arms the connection manager when a caller's own remote
// call succeeded while the manager had given up retrying.
func (c *Cache) kickIfParked() {
	if c.conn.State() == connection.Failed {
		c.conn.Kick()
	}
}

// absorb records a remote failure that degraded into a miss or a
// write-aside. Breaker rejections are routine while the backend is down,
// so they log at debug.
func (c *Cache) absorb(err error, key, op string) {
	c.counters.remoteErrors.Inc()
	if breaker.IsOpen(err) {
		c.logger.Debug("remote tier call rejected by breaker",
			zap.String("op", op), zap.String("key", key))
		return
	}
	c.logger.Warn("remote tier call failed",
		zap.String("op", op), zap.String("key", key), zap.Error(err))
}
