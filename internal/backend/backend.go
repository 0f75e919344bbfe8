// Package backend adapts the remote key-value store behind a narrow
// single-key contract the cache tiers consume.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the key is absent from the remote store.
var ErrNotFound = errors.New("backend: key not found")

// Client is the contract the cache subsystem requires from the remote
// key-value store. Every call must respect the deadline on ctx.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
