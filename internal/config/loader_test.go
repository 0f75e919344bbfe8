package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftfuture/stratocache/pkg/serialization"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratocache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.L1MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.RemoteTTL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
l1MaxEntries: 250
l1DefaultTTLSeconds: 120
breakerFailureThreshold: 7
breakerOpenTimeoutSeconds: 2.5
strictWrites: true
serialization: gob
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.L1MaxEntries)
	assert.Equal(t, 2*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, uint32(7), cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2500*time.Millisecond, cfg.Breaker.OpenTimeout)
	assert.True(t, cfg.StrictWrites)
	assert.Equal(t, serialization.GobType, cfg.Serialization.Type)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.DegradedModeTTL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "l1MaxEntries: 250\n")
	t.Setenv("STRATOCACHE_L1MAXENTRIES", "42")
	t.Setenv("STRATOCACHE_MAXRECONNECTATTEMPTS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.L1MaxEntries)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownSerialization(t *testing.T) {
	path := writeConfigFile(t, "serialization: msgpack\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "l1MaxEntries: 0\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrL1MaxEntriesZero)
}
