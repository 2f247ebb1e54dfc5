package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/config"
)

// TestStartup_DefaultsWithoutConfigFile verifies that initConfig falls back
// to built-in defaults when the named config file does not exist.
func TestStartup_DefaultsWithoutConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })

	initConfig()

	defaults := config.Defaults()
	require.Equal(t, defaults.API.BaseURL, cfg.API.BaseURL)
	require.Equal(t, defaults.Signal.URL, cfg.Signal.URL)
	require.Equal(t, defaults.Signal.ConnectTimeout, cfg.Signal.ConnectTimeout)
	require.Equal(t, defaults.UserID, cfg.UserID)
	require.NotEmpty(t, cfg.ICEServers, "ICE servers should be backfilled from defaults")
}

// TestStartup_ConfigFileOverridesDefaults verifies that values from an
// explicit config file win over defaults while unset keys keep theirs.
func TestStartup_ConfigFileOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `api:
  base_url: http://staging:9000
signal:
  url: ws://staging:9000/ws
  connect_timeout: 5s
user_id: 42
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	initConfig()

	require.Equal(t, "http://staging:9000", cfg.API.BaseURL)
	require.Equal(t, "ws://staging:9000/ws", cfg.Signal.URL)
	require.Equal(t, 5*time.Second, cfg.Signal.ConnectTimeout)
	require.Equal(t, int64(42), cfg.UserID)

	// Keys the file does not mention keep their defaults.
	defaults := config.Defaults()
	require.Equal(t, defaults.Signal.ReconnectDelay, cfg.Signal.ReconnectDelay)
	require.Equal(t, defaults.Conference.SignalURL, cfg.Conference.SignalURL)
}

// TestStartup_InvalidConfigRejected verifies that startup surfaces a clear
// error for configs that cannot possibly work.
func TestStartup_InvalidConfigRejected(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		errContains string
	}{
		{
			name:        "empty api url",
			mutate:      func(c *config.Config) { c.API.BaseURL = "" },
			errContains: "api.base_url",
		},
		{
			name:        "signal url with http scheme",
			mutate:      func(c *config.Config) { c.Signal.URL = "http://localhost:8000/ws" },
			errContains: "scheme",
		},
		{
			name:        "conference url with http scheme",
			mutate:      func(c *config.Config) { c.Conference.SignalURL = "http://localhost:8000/conf" },
			errContains: "scheme",
		},
		{
			name:        "zero connect timeout",
			mutate:      func(c *config.Config) { c.Signal.ConnectTimeout = 0 },
			errContains: "connect_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Defaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errContains)
		})
	}
}
