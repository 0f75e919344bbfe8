package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/backoff"
)

var errDown = errors.New("backend down")

func testPolicy(t *testing.T) backoff.Policy {
	t.Helper()
	p, err := backoff.NewPolicy(5*time.Millisecond, 20*time.Millisecond, 2.0, 0)
	require.NoError(t, err)
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectSuccess(t *testing.T) {
	fake := backend.NewFake()
	m := NewManager(fake, testPolicy(t), 3, 0, zap.NewNop())
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Connected, m.State())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(0), stats.ConsecutiveFailures)
	assert.False(t, stats.LastSuccess.IsZero())
}

func TestConnectFailureSchedulesReconnect(t *testing.T) {
	fake := backend.NewFake()
	fake.Fail(errDown)
	m := NewManager(fake, testPolicy(t), 5, 0, zap.NewNop())
	defer m.Disconnect()

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, errDown)

	// The background task retries; heal the backend and it reconnects.
	fake.Fail(nil)
	waitFor(t, time.Second, func() bool { return m.State() == Connected })

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.Reconnects, int64(1))
	assert.Equal(t, int64(0), stats.ConsecutiveFailures)
}

func TestReconnectExhaustionParksInFailed(t *testing.T) {
	fake := backend.NewFake()
	fake.Fail(errDown)
	m := NewManager(fake, testPolicy(t), 2, 0, zap.NewNop())
	defer m.Disconnect()

	_ = m.Connect(context.Background())

	waitFor(t, time.Second, func() bool {
		return m.Stats().ConsecutiveFailures > 2 && m.State() == Failed
	})
	assert.False(t, m.FailedSince().IsZero())

	// Give any stray retry a chance to fire; attempts must stay put.
	attempts := m.Stats().Attempts
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, attempts, m.Stats().Attempts, "no retries after the budget is spent")
}

func TestKickReArmsParkedManager(t *testing.T) {
	fake := backend.NewFake()
	fake.Fail(errDown)
	m := NewManager(fake, testPolicy(t), 1, 0, zap.NewNop())
	defer m.Disconnect()

	_ = m.Connect(context.Background())
	waitFor(t, time.Second, func() bool {
		return m.State() == Failed && m.Stats().ConsecutiveFailures > 1
	})

	fake.Fail(nil)
	m.Kick()
	waitFor(t, time.Second, func() bool { return m.State() == Connected })
	assert.True(t, m.FailedSince().IsZero())
}

func TestKickIgnoredUnlessFailed(t *testing.T) {
	fake := backend.NewFake()
	m := NewManager(fake, testPolicy(t), 3, 0, zap.NewNop())
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	pings := fake.Pings()
	m.Kick()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pings, fake.Pings(), "kick must be a no-op while connected")
}

func TestHealthLoopDetectsFailure(t *testing.T) {
	fake := backend.NewFake()
	m := NewManager(fake, testPolicy(t), 5, 10*time.Millisecond, zap.NewNop())
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))

	fake.Fail(errDown)
	waitFor(t, time.Second, func() bool { return m.State() != Connected })

	fake.Fail(nil)
	waitFor(t, time.Second, func() bool { return m.State() == Connected })
}

func TestSubscribersFireOnTransitions(t *testing.T) {
	fake := backend.NewFake()
	fake.Fail(errDown)
	m := NewManager(fake, testPolicy(t), 0, 0, zap.NewNop())
	defer m.Disconnect()

	var mu sync.Mutex
	var transitions []State
	var gotErrs []error
	m.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})
	m.OnError(func(err error) {
		mu.Lock()
		gotErrs = append(gotErrs, err)
		mu.Unlock()
	})

	_ = m.Connect(context.Background())

	mu.Lock()
	assert.Contains(t, transitions, Connecting)
	assert.Contains(t, transitions, Failed)
	require.NotEmpty(t, gotErrs)
	assert.ErrorIs(t, gotErrs[0], errDown)
	mu.Unlock()
}

func TestDisconnectIsIdempotentAndStopsTasks(t *testing.T) {
	fake := backend.NewFake()
	m := NewManager(fake, testPolicy(t), 3, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, Disconnected, m.State())

	// No probes may land after shutdown.
	pings := fake.Pings()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, pings, fake.Pings())
}

func TestKickRacingDisconnect(t *testing.T) {
	for i := 0; i < 25; i++ {
		fake := backend.NewFake()
		fake.Fail(errDown)
		m := NewManager(fake, testPolicy(t), 1, 0, zap.NewNop())

		_ = m.Connect(context.Background())
		waitFor(t, time.Second, func() bool {
			return m.State() == Failed && m.Stats().ConsecutiveFailures > 1
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Kick()
		}()
		go func() {
			defer wg.Done()
			m.Disconnect()
		}()
		wg.Wait()
		assert.Equal(t, Disconnected, m.State())
	}
}

func TestConnectAfterDisconnectRestartsTasks(t *testing.T) {
	fake := backend.NewFake()
	m := NewManager(fake, testPolicy(t), 5, 5*time.Millisecond, zap.NewNop())
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()

	// A fresh Connect must bring the reconnect scheduler back: fail the
	// first probe, then heal and watch the background retries land.
	fake.Fail(errDown)
	require.Error(t, m.Connect(context.Background()))
	fake.Fail(nil)
	waitFor(t, time.Second, func() bool { return m.State() == Connected })

	// And the health loop runs again too.
	pings := fake.Pings()
	waitFor(t, time.Second, func() bool { return fake.Pings() > pings })
}

func TestStateStringValues(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "failed", Failed.String())
}
