package backend

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Client with scriptable failure injection. It backs
// the resilience tests: flip Fail and every operation returns the injected
// error until the flag is cleared.
type Fake struct {
	mu      sync.Mutex
	store   map[string]fakeEntry
	fail    error
	failOps map[string]error

	getCalls    int
	setCalls    int
	deleteCalls int
	pingCalls   int
}

type fakeEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewFake returns an empty, healthy Fake.
func NewFake() *Fake {
	return &Fake{
		store:   make(map[string]fakeEntry),
		failOps: make(map[string]error),
	}
}

// Fail makes every operation return err; nil restores normal behavior.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// FailOp injects err for one operation class ("get", "set", "delete",
// "exists", "ping"); nil clears it.
func (f *Fake) FailOp(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOps, op)
		return
	}
	f.failOps[op] = err
}

func (f *Fake) injected(op string) error {
	if f.fail != nil {
		return f.fail
	}
	return f.failOps[op]
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.injected("get"); err != nil {
		return nil, err
	}
	e, ok := f.store[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		delete(f.store, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (f *Fake) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if err := f.injected("set"); err != nil {
		return err
	}
	e := fakeEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	f.store[key] = e
	return nil
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if err := f.injected("delete"); err != nil {
		return err
	}
	delete(f.store, key)
	return nil
}

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("exists"); err != nil {
		return false, err
	}
	_, ok := f.store[key]
	return ok, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	return f.injected("ping")
}

func (f *Fake) Close() error { return nil }

// Gets reports how many Get calls landed on the fake.
func (f *Fake) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// Sets reports how many Set calls landed on the fake.
func (f *Fake) Sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

// Deletes reports how many Delete calls landed on the fake.
func (f *Fake) Deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

// Pings reports how many Ping calls landed on the fake.
func (f *Fake) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls
}

// Len reports the number of stored keys.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.store)
}
