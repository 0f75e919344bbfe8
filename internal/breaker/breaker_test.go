package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/backend"
	"github.com/ftfuture/stratocache/internal/config"
)

var errBoom = errors.New("boom")

func newTestRegistry(threshold uint32, openTimeout time.Duration, halfOpen uint32) *Registry {
	return NewRegistry(config.BreakerConfig{
		FailureThreshold:  threshold,
		OpenTimeout:       openTimeout,
		HalfOpenSuccesses: halfOpen,
	}, zap.NewNop())
}

func failN(r *Registry, name string, n int) {
	for i := 0; i < n; i++ {
		_, _ = r.Execute(name, func() (any, error) { return nil, errBoom })
	}
}

func TestClosedPassesThrough(t *testing.T) {
	r := newTestRegistry(3, time.Second, 1)

	v, err := r.Execute("get", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(3, time.Minute, 1)

	failN(r, "get", 2)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)

	failN(r, "get", 1)
	assert.Equal(t, gobreaker.StateOpen, r.Snapshot("get").State)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := newTestRegistry(3, time.Minute, 1)

	failN(r, "get", 2)
	_, err := r.Execute("get", func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, uint32(0), r.Snapshot("get").FailureCount)

	// The earlier failures must not count toward the threshold anymore.
	failN(r, "get", 2)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)
}

func TestNotFoundDoesNotTrip(t *testing.T) {
	r := newTestRegistry(2, time.Minute, 1)

	// A healthy backend answering "no such key" over and over must not
	// open the breaker, however many misses come in consecutively.
	for i := 0; i < 10; i++ {
		_, err := r.Execute("get", func() (any, error) { return nil, backend.ErrNotFound })
		require.ErrorIs(t, err, backend.ErrNotFound, "not-found must still reach the caller")
	}
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)
	assert.Equal(t, uint32(0), r.Snapshot("get").FailureCount)

	// Real faults still count from a clean slate.
	failN(r, "get", 2)
	assert.Equal(t, gobreaker.StateOpen, r.Snapshot("get").State)
}

func TestNotFoundResetsConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(3, time.Minute, 1)

	failN(r, "get", 2)
	_, _ = r.Execute("get", func() (any, error) { return nil, backend.ErrNotFound })
	assert.Equal(t, uint32(0), r.Snapshot("get").FailureCount)

	failN(r, "get", 2)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	r := newTestRegistry(2, time.Minute, 1)
	failN(r, "get", 2)

	invoked := false
	_, err := r.Execute("get", func() (any, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.False(t, invoked, "operation must not run while the breaker is open")
}

func TestHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	r := newTestRegistry(2, 50*time.Millisecond, 2)
	failN(r, "get", 2)
	require.Equal(t, gobreaker.StateOpen, r.Snapshot("get").State)

	time.Sleep(80 * time.Millisecond)

	// First trial call runs in half-open.
	invoked := false
	_, err := r.Execute("get", func() (any, error) {
		invoked = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, gobreaker.StateHalfOpen, r.Snapshot("get").State)

	// Second consecutive success reaches the half-open threshold.
	_, err = r.Execute("get", func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := newTestRegistry(2, 50*time.Millisecond, 3)
	failN(r, "get", 2)

	time.Sleep(80 * time.Millisecond)

	_, err := r.Execute("get", func() (any, error) { return nil, errBoom })
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, r.Snapshot("get").State)
}

func TestScenarioOpenTimeoutWindow(t *testing.T) {
	// Two failing calls with threshold 2 open the breaker; a call inside
	// the open window is rejected without reaching the backend; a call
	// after the window is attempted.
	r := newTestRegistry(2, 200*time.Millisecond, 1)
	failN(r, "get", 2)

	time.Sleep(100 * time.Millisecond)
	invocations := 0
	_, err := r.Execute("get", func() (any, error) {
		invocations++
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, invocations)

	time.Sleep(150 * time.Millisecond)
	_, err = r.Execute("get", func() (any, error) {
		invocations++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
}

func TestOperationClassesAreIsolated(t *testing.T) {
	r := newTestRegistry(2, time.Minute, 1)
	failN(r, "set", 2)

	assert.Equal(t, gobreaker.StateOpen, r.Snapshot("set").State)
	assert.Equal(t, gobreaker.StateClosed, r.Snapshot("get").State)

	_, err := r.Execute("get", func() (any, error) { return "fine", nil })
	assert.NoError(t, err, "failures on one operation class must not gate another")
}

func TestSnapshotCounts(t *testing.T) {
	r := newTestRegistry(5, time.Minute, 2)

	before := time.Now()
	failN(r, "get", 2)

	snap := r.Snapshot("get")
	assert.Equal(t, "get", snap.Name)
	assert.Equal(t, uint32(2), snap.FailureCount)
	assert.Equal(t, uint32(0), snap.SuccessCount)
	assert.False(t, snap.LastTransition.Before(before.Add(-time.Second)))
}

func TestSnapshotUnknownBreaker(t *testing.T) {
	r := newTestRegistry(5, time.Minute, 2)

	snap := r.Snapshot("never-used")
	assert.Equal(t, gobreaker.StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
}

func TestSnapshots(t *testing.T) {
	r := newTestRegistry(2, time.Minute, 1)
	_, _ = r.Execute("get", func() (any, error) { return nil, nil })
	failN(r, "set", 2)

	all := r.Snapshots()
	require.Len(t, all, 2)
	assert.Equal(t, gobreaker.StateClosed, all["get"].State)
	assert.Equal(t, gobreaker.StateOpen, all["set"].State)
}
