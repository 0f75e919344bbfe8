// Package breaker gates calls to the remote tier with one circuit breaker
// per operation class, so a failing write path cannot trip the read path.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/config"
)

// Snapshot is a point-in-time, read-only view of one breaker.
type Snapshot struct {
	Name           string
	State          gobreaker.State
	FailureCount   uint32
	SuccessCount   uint32
	LastTransition time.Time
}

// Registry owns the named breakers. Breakers are created lazily on first
// use and live for the registry's lifetime.
type Registry struct {
	cfg    config.BreakerConfig
	logger *zap.Logger

	mu          sync.RWMutex
	breakers    map[string]*gobreaker.CircuitBreaker
	transitions map[string]*atomic.Time
}

// NewRegistry builds a Registry applying cfg to every breaker it creates.
func NewRegistry(cfg config.BreakerConfig, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:         cfg,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		transitions: make(map[string]*atomic.Time),
	}
}

// Execute runs fn through the breaker for the given operation class.
// While the breaker is open the call fails in O(1) without invoking fn.
func (r *Registry) Execute(name string, fn func() (any, error)) (any, error) {
	return r.breaker(name).Execute(fn)
}

func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	transition := atomic.NewTime(time.Now())
	r.transitions[name] = transition

	threshold := r.cfg.FailureThreshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenSuccesses,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A not-found answer is the backend reporting absence, not an
		// infrastructure fault. It must not count toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, backend.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			transition.Store(time.Now())
			r.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	r.breakers[name] = cb
	return cb
}

// Snapshot returns the current view of one breaker without mutating it.
// Failure and success counts are the consecutive counts driving the
// state machine.
func (r *Registry) Snapshot(name string) Snapshot {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	transition := r.transitions[name]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{Name: name, State: gobreaker.StateClosed}
	}

	counts := cb.Counts()
	return Snapshot{
		Name:           name,
		State:          cb.State(),
		FailureCount:   counts.ConsecutiveFailures,
		SuccessCount:   counts.ConsecutiveSuccesses,
		LastTransition: transition.Load(),
	}
}

// Snapshots returns the view of every breaker created so far.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(names))
	for _, name := range names {
		out[name] = r.Snapshot(name)
	}
	return out
}

// IsOpen reports whether err is a breaker rejection rather than an error
// returned by the protected operation itself.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
