// Package health periodically aggregates connection, breaker and cache
// statistics into one report for external monitoring. It is strictly
// read-only with respect to the subsystems it observes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/breaker"
	"github.com/ftfuture/stratocache/internal/config"
	"github.com/ftfuture/stratocache/internal/connection"
	"github.com/ftfuture/stratocache/internal/multilevel"
)

// Status classifies the overall subsystem health.
type Status int32

const (
	Healthy Status = iota
	Degraded
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Hit-rate floor below which the subsystem counts as degraded, once
// enough requests have been seen to make the rate meaningful.
const (
	minSampleRequests = 100
	minHitRate        = 0.05
)

// Report is one aggregated snapshot.
type Report struct {
	Status Status
	Time   time.Time

	Connection      connection.State
	ConnectionStats connection.Stats
	Breakers        map[string]breaker.Snapshot
	Cache           multilevel.Stats
}

// Reporter samples the subsystems on a fixed interval, classifies health
// and notifies subscribers when the classification changes.
type Reporter struct {
	interval time.Duration
	grace    time.Duration
	conn     *connection.Manager
	cache    *multilevel.Cache
	breakers *breaker.Registry
	logger   *zap.Logger
	metrics  *metrics

	last *atomic.Int32

	mu   sync.Mutex
	subs []func(Status)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReporter builds a Reporter. reg may be nil, in which case the
// default prometheus registerer is used.
func NewReporter(cfg *config.Config, conn *connection.Manager, cache *multilevel.Cache, breakers *breaker.Registry, reg prometheus.Registerer) *Reporter {
	return &Reporter{
		interval: cfg.HealthReportInterval,
		grace:    cfg.HealthFailureGrace,
		conn:     conn,
		cache:    cache,
		breakers: breakers,
		logger:   cfg.Logger,
		metrics:  newMetrics(reg),
		last:     atomic.NewInt32(int32(Healthy)),
		done:     make(chan struct{}),
	}
}

// OnChange registers fn to be called whenever the health classification
// changes. Callbacks run on the reporter goroutine and must not block.
func (r *Reporter) OnChange(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Start launches the periodic sampling loop.
func (r *Reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sample()
			}
		}
	}()
}

// Close stops the sampling loop.
func (r *Reporter) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Status returns the most recent classification.
func (r *Reporter) Status() Status {
	return Status(r.last.Load())
}

// Snapshot assembles a report from the current subsystem state without
// waiting for the next tick.
func (r *Reporter) Snapshot() Report {
	report := Report{
		Time:            time.Now(),
		Connection:      r.conn.State(),
		ConnectionStats: r.conn.Stats(),
		Breakers:        r.breakers.Snapshots(),
		Cache:           r.cache.Stats(),
	}
	report.Status = r.classify(report)
	return report
}

func (r *Reporter) sample() {
	report := r.Snapshot()
	r.metrics.observe(report)

	prev := Status(r.last.Swap(int32(report.Status)))
	if prev == report.Status {
		return
	}
	r.logger.Info("health classification changed",
		zap.String("from", prev.String()),
		zap.String("to", report.Status.String()),
		zap.String("connection", report.Connection.String()))

	r.mu.Lock()
	subs := make([]func(Status), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(report.Status)
	}
}

// classify derives the overall health from the snapshot:
//
//   - Unhealthy: a breaker is open and the connection has been Failed for
//     longer than the grace period.
//   - Degraded: the connection is not Connected, a breaker is not closed,
//     or the combined hit rate fell through the floor.
//   - Healthy: everything else.
func (r *Reporter) classify(report Report) Status {
	anyOpen := false
	anyNotClosed := false
	for _, snap := range report.Breakers {
		switch snap.State {
		case gobreaker.StateOpen:
			anyOpen = true
			anyNotClosed = true
		case gobreaker.StateHalfOpen:
			anyNotClosed = true
		}
	}

	if anyOpen && report.Connection == connection.Failed {
		failedSince := r.conn.FailedSince()
		if !failedSince.IsZero() && time.Since(failedSince) >= r.grace {
			return Unhealthy
		}
	}

	if report.Connection != connection.Connected || anyNotClosed {
		return Degraded
	}

	requests := report.Cache.L1Hits + report.Cache.L1Misses
	if requests >= minSampleRequests && report.Cache.HitRate < minHitRate {
		return Degraded
	}

	return Healthy
}
