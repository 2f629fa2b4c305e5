package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ProviderSynthetic, cfg.Provider)
	assert.Equal(t, 2000, cfg.ProviderPageSize)
	assert.Equal(t, 150*time.Millisecond, cfg.ProviderThrottle)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5, cfg.ProviderMaxAttempts)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("PROVIDER", ProviderCryptoCompare)
	t.Setenv("PROVIDER_API_KEY", "secret")
	t.Setenv("PROVIDER_THROTTLE", "1s")
	t.Setenv("PROVIDER_MAX_ATTEMPTS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, ProviderCryptoCompare, cfg.Provider)
	assert.Equal(t, "secret", cfg.ProviderAPIKey)
	assert.Equal(t, time.Second, cfg.ProviderThrottle)
	assert.Equal(t, 2, cfg.ProviderMaxAttempts)
}
