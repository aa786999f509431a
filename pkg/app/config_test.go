package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBaseConfig(t *testing.T) {
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_address: \":9000\"\nshutdown_grace_period: 5s\n"), 0600))
	require.NoError(t, ReadConfigFile(path))

	config, err := LoadBaseConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", config.ListenAddress)
	assert.Equal(t, 5*time.Second, config.ShutdownGracePeriod)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "shield-server", config.AppName)
	assert.Empty(t, config.NewRelicLicenseKey)

	provider, err := NewMetricsProvider(config)
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestReadConfigFile_Missing(t *testing.T) {
	defer viper.Reset()

	require.NoError(t, ReadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))

	config, err := LoadBaseConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, config)
}
