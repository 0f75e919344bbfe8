package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ftfuture/stratocache/pkg/serialization"
)

// EnvPrefix namespaces the environment variables the loader reads.
const EnvPrefix = "STRATOCACHE_"

// fileConfig is the flat, duration-in-seconds shape accepted from YAML
// files and environment variables.
type fileConfig struct {
	L1MaxEntries                    int     `koanf:"l1MaxEntries"`
	L1Shards                        int     `koanf:"l1Shards"`
	L1DefaultTTLSeconds             float64 `koanf:"l1DefaultTTLSeconds"`
	RemoteDefaultTTLSeconds         float64 `koanf:"remoteDefaultTTLSeconds"`
	DegradedModeTTLSeconds          float64 `koanf:"degradedModeTTLSeconds"`
	StrictWrites                    bool    `koanf:"strictWrites"`
	OperationTimeoutSeconds         float64 `koanf:"operationTimeoutSeconds"`
	BreakerFailureThreshold         uint32  `koanf:"breakerFailureThreshold"`
	BreakerOpenTimeoutSeconds       float64 `koanf:"breakerOpenTimeoutSeconds"`
	BreakerHalfOpenSuccessThreshold uint32  `koanf:"breakerHalfOpenSuccessThreshold"`
	ConnectionInitialBackoffSeconds float64 `koanf:"connectionInitialBackoffSeconds"`
	ConnectionMaxBackoffSeconds     float64 `koanf:"connectionMaxBackoffSeconds"`
	ConnectionBackoffMultiplier     float64 `koanf:"connectionBackoffMultiplier"`
	ConnectionBackoffJitter         float64 `koanf:"connectionBackoffJitter"`
	MaxReconnectAttempts            int     `koanf:"maxReconnectAttempts"`
	HealthCheckIntervalSeconds      float64 `koanf:"healthCheckIntervalSeconds"`
	HealthReportIntervalSeconds     float64 `koanf:"healthReportIntervalSeconds"`
	HealthFailureGraceSeconds       float64 `koanf:"healthFailureGraceSeconds"`
	NegativeFilterEnabled           bool    `koanf:"negativeFilterEnabled"`
	NegativeFilterExpectedItems     uint    `koanf:"negativeFilterExpectedItems"`
	NegativeFilterFalsePositiveRate float64 `koanf:"negativeFilterFalsePositiveRate"`
	Serialization                   string  `koanf:"serialization"`
}

// canonicalKeys maps the lowercased names koanf derives from environment
// variables back to the camelCase keys used in files.
var canonicalKeys = map[string]string{
	"l1maxentries":                    "l1MaxEntries",
	"l1shards":                        "l1Shards",
	"l1defaultttlseconds":             "l1DefaultTTLSeconds",
	"remotedefaultttlseconds":         "remoteDefaultTTLSeconds",
	"degradedmodettlseconds":          "degradedModeTTLSeconds",
	"strictwrites":                    "strictWrites",
	"operationtimeoutseconds":         "operationTimeoutSeconds",
	"breakerfailurethreshold":         "breakerFailureThreshold",
	"breakeropentimeoutseconds":       "breakerOpenTimeoutSeconds",
	"breakerhalfopensuccessthreshold": "breakerHalfOpenSuccessThreshold",
	"connectioninitialbackoffseconds": "connectionInitialBackoffSeconds",
	"connectionmaxbackoffseconds":     "connectionMaxBackoffSeconds",
	"connectionbackoffmultiplier":     "connectionBackoffMultiplier",
	"connectionbackoffjitter":         "connectionBackoffJitter",
	"maxreconnectattempts":            "maxReconnectAttempts",
	"healthcheckintervalseconds":      "healthCheckIntervalSeconds",
	"healthreportintervalseconds":     "healthReportIntervalSeconds",
	"healthfailuregraceseconds":       "healthFailureGraceSeconds",
	"negativefilterenabled":           "negativeFilterEnabled",
	"negativefilterexpecteditems":     "negativeFilterExpectedItems",
	"negativefilterfalsepositiverate": "negativeFilterFalsePositiveRate",
	"serialization":                   "serialization",
}

// Load hydrates a Config with defaults < file < environment precedence.
// Path may be empty, in which case only defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg, err := New()
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultsMap(cfg), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: file %s not found", path)
			}
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if canonical, ok := canonicalKeys[key]; ok {
			return canonical
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var fc fileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultsMap(c *Config) map[string]any {
	return map[string]any{
		"l1MaxEntries":                    c.L1MaxEntries,
		"l1Shards":                        c.L1Shards,
		"l1DefaultTTLSeconds":             c.DefaultTTL.Seconds(),
		"remoteDefaultTTLSeconds":         c.RemoteTTL.Seconds(),
		"degradedModeTTLSeconds":          c.DegradedModeTTL.Seconds(),
		"strictWrites":                    c.StrictWrites,
		"operationTimeoutSeconds":         c.OperationTimeout.Seconds(),
		"breakerFailureThreshold":         c.Breaker.FailureThreshold,
		"breakerOpenTimeoutSeconds":       c.Breaker.OpenTimeout.Seconds(),
		"breakerHalfOpenSuccessThreshold": c.Breaker.HalfOpenSuccesses,
		"connectionInitialBackoffSeconds": c.Reconnect.InitialBackoff.Seconds(),
		"connectionMaxBackoffSeconds":     c.Reconnect.MaxBackoff.Seconds(),
		"connectionBackoffMultiplier":     c.Reconnect.Multiplier,
		"connectionBackoffJitter":         c.Reconnect.Jitter,
		"maxReconnectAttempts":            c.Reconnect.MaxAttempts,
		"healthCheckIntervalSeconds":      c.HealthCheckInterval.Seconds(),
		"healthReportIntervalSeconds":     c.HealthReportInterval.Seconds(),
		"healthFailureGraceSeconds":       c.HealthFailureGrace.Seconds(),
		"negativeFilterEnabled":           c.NegativeFilter.Enabled,
		"negativeFilterExpectedItems":     c.NegativeFilter.ExpectedItems,
		"negativeFilterFalsePositiveRate": c.NegativeFilter.FalsePositiveRate,
		"serialization":                   c.Serialization.Type,
	}
}

func (fc *fileConfig) apply(c *Config) error {
	c.L1MaxEntries = fc.L1MaxEntries
	c.L1Shards = fc.L1Shards
	c.DefaultTTL = seconds(fc.L1DefaultTTLSeconds)
	c.RemoteTTL = seconds(fc.RemoteDefaultTTLSeconds)
	c.DegradedModeTTL = seconds(fc.DegradedModeTTLSeconds)
	c.StrictWrites = fc.StrictWrites
	c.OperationTimeout = seconds(fc.OperationTimeoutSeconds)
	c.Breaker.FailureThreshold = fc.BreakerFailureThreshold
	c.Breaker.OpenTimeout = seconds(fc.BreakerOpenTimeoutSeconds)
	c.Breaker.HalfOpenSuccesses = fc.BreakerHalfOpenSuccessThreshold
	c.Reconnect.InitialBackoff = seconds(fc.ConnectionInitialBackoffSeconds)
	c.Reconnect.MaxBackoff = seconds(fc.ConnectionMaxBackoffSeconds)
	c.Reconnect.Multiplier = fc.ConnectionBackoffMultiplier
	c.Reconnect.Jitter = fc.ConnectionBackoffJitter
	c.Reconnect.MaxAttempts = fc.MaxReconnectAttempts
	c.HealthCheckInterval = seconds(fc.HealthCheckIntervalSeconds)
	c.HealthReportInterval = seconds(fc.HealthReportIntervalSeconds)
	c.HealthFailureGrace = seconds(fc.HealthFailureGraceSeconds)
	c.NegativeFilter.Enabled = fc.NegativeFilterEnabled
	c.NegativeFilter.ExpectedItems = fc.NegativeFilterExpectedItems
	c.NegativeFilter.FalsePositiveRate = fc.NegativeFilterFalsePositiveRate

	switch fc.Serialization {
	case serialization.JSONType:
		c.Serialization = SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		}
	case serialization.GobType:
		c.Serialization = SerializationConfig{
			Type:    serialization.GobType,
			Encoder: serialization.GobEncoder,
			Decoder: serialization.GobDecoder,
		}
	default:
		return fmt.Errorf("config: unsupported serialization type %q", fc.Serialization)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
