package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with yaml tags for serialization.
// mapstructure tags (used by viper on read) don't drive yaml output.
type fileConfig struct {
	API struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
	Signal struct {
		URL            string `yaml:"url"`
		ConnectTimeout string `yaml:"connect_timeout"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	} `yaml:"signal"`
	ICEServers []struct {
		URL        string `yaml:"url"`
		Username   string `yaml:"username"`
		Credential string `yaml:"credential"`
	} `yaml:"ice_servers"`
	Conference struct {
		SignalURL   string `yaml:"signal_url"`
		TokenTTL    string `yaml:"token_ttl"`
		RejoinDelay string `yaml:"rejoin_delay"`
	} `yaml:"conference"`
	UserID int64 `yaml:"user_id"`
}

// WriteDefaultConfig writes the default configuration to the given path,
// creating parent directories as needed. Existing files are left alone.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaults := Defaults()
	var fc fileConfig
	fc.API.BaseURL = defaults.API.BaseURL
	fc.Signal.URL = defaults.Signal.URL
	fc.Signal.ConnectTimeout = defaults.Signal.ConnectTimeout.String()
	fc.Signal.ReconnectDelay = defaults.Signal.ReconnectDelay.String()
	for _, s := range defaults.ICEServers {
		fc.ICEServers = append(fc.ICEServers, struct {
			URL        string `yaml:"url"`
			Username   string `yaml:"username"`
			Credential string `yaml:"credential"`
		}{URL: s.URL, Username: s.Username, Credential: s.Credential})
	}
	fc.Conference.SignalURL = defaults.Conference.SignalURL
	fc.Conference.TokenTTL = defaults.Conference.TokenTTL.String()
	fc.Conference.RejoinDelay = defaults.Conference.RejoinDelay.String()
	fc.UserID = defaults.UserID

	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
