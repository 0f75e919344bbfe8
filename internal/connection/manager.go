// Package connection owns the lifecycle of the remote backend connection:
// connect, disconnect, the health-check loop and reconnection with
// exponential backoff.
package connection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/backoff"
)

// Stats are the lifetime connection counters. They accumulate for the
// process lifetime and are never reset by the manager itself.
type Stats struct {
	Attempts            int64
	Successes           int64
	Failures            int64
	Reconnects          int64
	ConsecutiveFailures int64
	LastSuccess         time.Time
	LastFailure         time.Time
}

// Manager drives the connection state machine over a backend client.
// All callers share the one underlying connection; the manager never
// hands it out exclusively.
type Manager struct {
	client         backend.Client
	policy         backoff.Policy
	maxAttempts    int
	healthInterval time.Duration
	logger         *zap.Logger

	state *atomic.Int32

	attempts    *atomic.Int64
	successes   *atomic.Int64
	failures    *atomic.Int64
	reconnects  *atomic.Int64
	consecutive *atomic.Int64
	lastSuccess *atomic.Time
	lastFailure *atomic.Time

	// enteredFailed is when the manager last transitioned into Failed;
	// zero while not Failed. The health reporter reads it for its grace
	// window.
	enteredFailed *atomic.Time

	reconnecting  *atomic.Bool
	healthStarted *atomic.Bool

	mu        sync.Mutex
	stateSubs []func(from, to State)
	errSubs   []func(error)
	ctx       context.Context
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewManager builds a Manager. The manager starts Disconnected; nothing
// touches the backend until Connect is called.
func NewManager(client backend.Client, policy backoff.Policy, maxAttempts int, healthInterval time.Duration, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:         client,
		policy:         policy,
		maxAttempts:    maxAttempts,
		healthInterval: healthInterval,
		logger:         logger,

		state: atomic.NewInt32(int32(Disconnected)),

		attempts:      atomic.NewInt64(0),
		successes:     atomic.NewInt64(0),
		failures:      atomic.NewInt64(0),
		reconnects:    atomic.NewInt64(0),
		consecutive:   atomic.NewInt64(0),
		lastSuccess:   atomic.NewTime(time.Time{}),
		lastFailure:   atomic.NewTime(time.Time{}),
		enteredFailed: atomic.NewTime(time.Time{}),

		reconnecting:  atomic.NewBool(false),
		healthStarted: atomic.NewBool(false),

		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Stats returns a snapshot of the lifetime counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Attempts:            m.attempts.Load(),
		Successes:           m.successes.Load(),
		Failures:            m.failures.Load(),
		Reconnects:          m.reconnects.Load(),
		ConsecutiveFailures: m.consecutive.Load(),
		LastSuccess:         m.lastSuccess.Load(),
		LastFailure:         m.lastFailure.Load(),
	}
}

// FailedSince returns when the manager entered Failed, or the zero time
// if it is not currently Failed.
func (m *Manager) FailedSince() time.Time {
	return m.enteredFailed.Load()
}

// OnStateChange registers fn to be called synchronously on every state
// transition. fn must not block for long; it runs on the transitioning
// goroutine.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateSubs = append(m.stateSubs, fn)
}

// OnError registers fn to be called synchronously with every connection
// or health-probe error.
func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errSubs = append(m.errSubs, fn)
}

// Connect attempts to establish the backend connection. On failure the
// manager schedules background reconnection (unless the consecutive
// failure budget is already spent) and returns the probe error.
// Connecting again after a Disconnect recreates the internal context so
// the health-check and reconnection tasks can run again.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel == nil {
		runCtx, cancel := context.WithCancel(context.Background())
		m.ctx = runCtx
		m.cancel = cancel
	}
	m.mu.Unlock()

	m.setState(Connecting)
	return m.attempt(ctx)
}

// Kick re-arms a manager that parked in Failed after exhausting its
// reconnection budget, typically because a caller saw the backend answer
// again. No-op in any other state.
func (m *Manager) Kick() {
	if !m.state.CompareAndSwap(int32(Failed), int32(Connecting)) {
		return
	}
	m.notifyState(Failed, Connecting)
	m.consecutive.Store(0)

	// The liveness check and the Add must be one atomic step: a
	// concurrent Disconnect could otherwise pass wg.Wait while this
	// goroutine is still being registered.
	m.mu.Lock()
	ctx := m.ctx
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		_ = m.attempt(ctx)
	}()
}

// Disconnect releases the connection and stops the health-check and
// reconnection tasks. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.healthStarted.Store(false)
	m.reconnecting.Store(false)
	m.setState(Disconnected)
}

func (m *Manager) runCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

func (m *Manager) attempt(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.attempts.Inc()

	if err := m.client.Ping(ctx); err != nil {
		m.recordFailure(err)
		return err
	}

	m.successes.Inc()
	m.consecutive.Store(0)
	m.lastSuccess.Store(time.Now())
	m.setState(Connected)
	m.startHealthLoop()
	return nil
}

// recordFailure is the single failure path shared by Connect, the
// reconnection task and the health-check loop.
func (m *Manager) recordFailure(err error) {
	m.failures.Inc()
	consecutive := m.consecutive.Inc()
	m.lastFailure.Store(time.Now())
	m.setState(Failed)
	m.notifyError(err)

	if m.maxAttempts > 0 && int(consecutive) > m.maxAttempts {
		m.logger.Error("reconnection attempts exhausted, staying failed until kicked",
			zap.Int64("consecutive_failures", consecutive),
			zap.Int("max_attempts", m.maxAttempts),
			zap.Error(err))
		return
	}
	m.scheduleReconnect(int(consecutive))
}

// scheduleReconnect waits the backoff delay for the given attempt number
// and retries. Only one reconnection task runs at a time.
func (m *Manager) scheduleReconnect(attempt int) {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx := m.runCtx()
	if ctx.Err() != nil {
		m.reconnecting.Store(false)
		return
	}

	delay := m.policy.Delay(attempt)
	m.reconnects.Inc()
	m.setState(Reconnecting)
	m.logger.Info("scheduling reconnection",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			m.reconnecting.Store(false)
			return
		case <-timer.C:
		}
		m.reconnecting.Store(false)
		_ = m.attempt(ctx)
	}()
}

// startHealthLoop launches the liveness probe loop once per manager
// lifetime. It probes only while Connected; a failed probe takes the
// same path as a failed connection attempt.
func (m *Manager) startHealthLoop() {
	if m.healthInterval <= 0 {
		return
	}
	if !m.healthStarted.CompareAndSwap(false, true) {
		return
	}
	ctx := m.runCtx()
	if ctx.Err() != nil {
		m.healthStarted.Store(false)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.State() != Connected {
					continue
				}
				if err := m.client.Ping(ctx); err != nil {
					m.logger.Warn("health probe failed", zap.Error(err))
					m.recordFailure(err)
				}
			}
		}
	}()
}

func (m *Manager) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	if to == Failed {
		m.enteredFailed.Store(time.Now())
	} else {
		m.enteredFailed.Store(time.Time{})
	}
	m.logger.Debug("connection state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	m.notifyState(from, to)
}

func (m *Manager) notifyState(from, to State) {
	m.mu.Lock()
	subs := make([]func(from, to State), len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(from, to)
	}
}

func (m *Manager) notifyError(err error) {
	m.mu.Lock()
	subs := make([]func(error), len(m.errSubs))
	copy(subs, m.errSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
