package stratocache

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ftfuture/stratocache/internal/config"
	"github.com/ftfuture/stratocache/pkg/serialization"
)

// Option mutates the configuration during New.
type Option func(*config.Config) error

// WithLogger replaces the default production logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.Logger = logger
		return nil
	}
}

// WithConfigFile loads a YAML file (plus STRATOCACHE_* environment
// overrides) into the configuration. Options placed after this one still
// apply on top of the loaded values.
func WithConfigFile(path string) Option {
	return func(cfg *config.Config) error {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		logger := cfg.Logger
		*cfg = *loaded
		cfg.Logger = logger
		return nil
	}
}

// WithL1MaxEntries bounds the local tier's entry count.
func WithL1MaxEntries(n int) Option {
	return func(cfg *config.Config) error {
		if n < 1 {
			return errors.New("l1 max entries must be at least 1")
		}
		cfg.L1MaxEntries = n
		return nil
	}
}

// WithL1Shards sets the local tier's shard count. One shard gives
// whole-tier LRU ordering at the cost of serializing L1 access.
func WithL1Shards(n int) Option {
	return func(cfg *config.Config) error {
		if n < 1 {
			return errors.New("shard count must be at least 1")
		}
		cfg.L1Shards = n
		return nil
	}
}

// WithDefaultTTL caps the lifetime of local-tier entries.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.DefaultTTL = ttl
		return nil
	}
}

// WithRemoteTTL sets the remote-tier TTL used when the caller passes none.
func WithRemoteTTL(ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.RemoteTTL = ttl
		return nil
	}
}

// WithDegradedModeTTL caps local-tier inserts while the remote connection
// is unhealthy, so stale data flushes out quickly after recovery.
func WithDegradedModeTTL(ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.DegradedModeTTL = ttl
		return nil
	}
}

// WithStrictWrites makes Set surface remote write failures instead of
// degrading to a local-only write.
func WithStrictWrites(strict bool) Option {
	return func(cfg *config.Config) error {
		cfg.StrictWrites = strict
		return nil
	}
}

// WithOperationTimeout bounds each individual remote backend call.
func WithOperationTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.OperationTimeout = d
		return nil
	}
}

// WithBreaker tunes the per-operation circuit breakers.
func WithBreaker(failureThreshold uint32, openTimeout time.Duration, halfOpenSuccesses uint32) Option {
	return func(cfg *config.Config) error {
		cfg.Breaker = config.BreakerConfig{
			FailureThreshold:  failureThreshold,
			OpenTimeout:       openTimeout,
			HalfOpenSuccesses: halfOpenSuccesses,
		}
		return nil
	}
}

// WithReconnect tunes the connection manager's backoff schedule.
func WithReconnect(initial, max time.Duration, multiplier float64, maxAttempts int) Option {
	return func(cfg *config.Config) error {
		cfg.Reconnect.InitialBackoff = initial
		cfg.Reconnect.MaxBackoff = max
		cfg.Reconnect.Multiplier = multiplier
		cfg.Reconnect.MaxAttempts = maxAttempts
		return nil
	}
}

// WithHealthCheckInterval sets the liveness probe interval.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.HealthCheckInterval = d
		return nil
	}
}

// WithHealthReportInterval sets how often the health reporter samples.
func WithHealthReportInterval(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.HealthReportInterval = d
		return nil
	}
}

// WithNegativeFilter tunes or disables the bloom filter that
// short-circuits lookups for never-seen keys.
func WithNegativeFilter(enabled bool, expectedItems uint, falsePositiveRate float64) Option {
	return func(cfg *config.Config) error {
		cfg.NegativeFilter.Enabled = enabled
		if expectedItems > 0 {
			cfg.NegativeFilter.ExpectedItems = expectedItems
		}
		if falsePositiveRate > 0 {
			cfg.NegativeFilter.FalsePositiveRate = falsePositiveRate
		}
		return nil
	}
}

// WithSerialization selects the value codec ("json" or "gob").
func WithSerialization(codec string) Option {
	return func(cfg *config.Config) error {
		switch codec {
		case serialization.JSONType:
			cfg.Serialization = config.SerializationConfig{
				Type:    serialization.JSONType,
				Encoder: serialization.JSONEncoder,
				Decoder: serialization.JSONDecoder,
			}
		case serialization.GobType:
			cfg.Serialization = config.SerializationConfig{
				Type:    serialization.GobType,
				Encoder: serialization.GobEncoder,
				Decoder: serialization.GobDecoder,
			}
		default:
			return fmt.Errorf("unsupported serialization type: %s", codec)
		}
		return nil
	}
}
