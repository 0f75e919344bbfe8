// Package config holds the tuning surface for the cache subsystem.
package config

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/pkg/serialization"
)

var (
	ErrL1MaxEntriesZero     = errors.New("l1 max entries must be at least 1")
	ErrL1ShardsZero         = errors.New("l1 shard count must be at least 1")
	ErrBreakerThresholdZero = errors.New("breaker failure threshold must be at least 1")
	ErrHalfOpenZero         = errors.New("breaker half-open success threshold must be at least 1")
)

// BreakerConfig tunes one circuit breaker instance. One instance is created
// per protected operation class, so reads and writes trip independently.
type BreakerConfig struct {
	FailureThreshold  uint32
	OpenTimeout       time.Duration
	HalfOpenSuccesses uint32
}

// ReconnectConfig tunes the connection manager's retry schedule.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxAttempts    int
}

// NegativeFilterConfig tunes the bloom filter that short-circuits lookups
// for keys this instance has never stored.
type NegativeFilterConfig struct {
	Enabled           bool
	ExpectedItems     uint
	FalsePositiveRate float64
	RebuildInterval   time.Duration
}

// SerializationConfig selects the codec used by the public facade.
type SerializationConfig struct {
	Type    string
	Encoder serialization.EncoderFactory
	Decoder serialization.DecoderFactory
}

// Config is the assembled configuration for one cache subsystem instance.
type Config struct {
	L1MaxEntries int
	L1Shards     int

	// DefaultTTL bounds local entry lifetime; backfills from the remote
	// tier never exceed it. RemoteTTL is used for remote writes when the
	// caller passes no TTL. DegradedModeTTL replaces DefaultTTL for L1
	// inserts while the remote connection is not healthy.
	DefaultTTL      time.Duration
	RemoteTTL       time.Duration
	DegradedModeTTL time.Duration

	// StrictWrites makes Set surface remote-tier write failures instead of
	// degrading to a local-only write.
	StrictWrites bool

	// OperationTimeout bounds every single call to the remote backend.
	OperationTimeout time.Duration

	Breaker   BreakerConfig
	Reconnect ReconnectConfig

	HealthCheckInterval  time.Duration
	HealthReportInterval time.Duration
	HealthFailureGrace   time.Duration

	NegativeFilter NegativeFilterConfig
	Serialization  SerializationConfig

	Logger *zap.Logger
}

// New returns a Config with production defaults applied.
func New() (*Config, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	shards := runtime.NumCPU()
	if shards < 1 {
		shards = 1
	}

	return &Config{
		L1MaxEntries: 1000,
		L1Shards:     shards,

		DefaultTTL:      5 * time.Minute,
		RemoteTTL:       30 * time.Minute,
		DegradedModeTTL: 30 * time.Second,

		OperationTimeout: 3 * time.Second,

		Breaker: BreakerConfig{
			FailureThreshold:  5,
			OpenTimeout:       30 * time.Second,
			HalfOpenSuccesses: 3,
		},
		Reconnect: ReconnectConfig{
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			Jitter:         0,
			MaxAttempts:    10,
		},

		HealthCheckInterval:  15 * time.Second,
		HealthReportInterval: 30 * time.Second,
		HealthFailureGrace:   60 * time.Second,

		NegativeFilter: NegativeFilterConfig{
			Enabled:           true,
			ExpectedItems:     10000,
			FalsePositiveRate: 0.01,
			RebuildInterval:   1 * time.Hour,
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},

		Logger: logger,
	}, nil
}

// Validate checks the invariants the subsystem depends on.
func (c *Config) Validate() error {
	if c.L1MaxEntries < 1 {
		return ErrL1MaxEntriesZero
	}
	if c.L1Shards < 1 {
		return ErrL1ShardsZero
	}
	if c.Breaker.FailureThreshold < 1 {
		return ErrBreakerThresholdZero
	}
	if c.Breaker.HalfOpenSuccesses < 1 {
		return ErrHalfOpenZero
	}
	return nil
}
