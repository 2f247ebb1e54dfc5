// Package config provides configuration types, defaults, and persistence for taskbridge.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration options for taskbridge.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Signal     SignalConfig     `mapstructure:"signal"`
	ICEServers []ICEServer      `mapstructure:"ice_servers"`
	Conference ConferenceConfig `mapstructure:"conference"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	UserID     int64            `mapstructure:"user_id"`
}

// APIConfig holds the REST backend location.
type APIConfig struct {
	// BaseURL is the root of the REST surface (lists, sessions, tokens).
	BaseURL string `mapstructure:"base_url"`
}

// SignalConfig holds the assistant signaling socket settings.
type SignalConfig struct {
	// URL is the signaling WebSocket endpoint.
	URL string `mapstructure:"url"`

	// ConnectTimeout bounds how long a negotiation may sit in the
	// connecting state before it is declared failed.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// ReconnectDelay is the pause between teardown and the next connect
	// attempt during a reconnect, letting native resources release.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// ICEServer holds relay server credentials for NAT traversal.
type ICEServer struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

// ConferenceConfig holds voice conference room settings.
type ConferenceConfig struct {
	// SignalURL is the base of the room-scoped signaling endpoint; the
	// room and user ids are appended as path segments.
	SignalURL string `mapstructure:"signal_url"`

	// TokenTTL is how long issued room tokens are cached.
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	// RejoinDelay is the pause before rejoining after a peer-left signal.
	RejoinDelay time.Duration `mapstructure:"rejoin_delay"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/taskbridge/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Defaults returns the built-in configuration, pointed at a local backend
// the way the development stack runs it.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Signal: SignalConfig{
			URL:            "ws://localhost:8000/ai/ws",
			ConnectTimeout: 20 * time.Second,
			ReconnectDelay: 1 * time.Second,
		},
		ICEServers: []ICEServer{
			{URL: "turn:127.0.0.1:3478", Username: "demo", Credential: "password"},
		},
		Conference: ConferenceConfig{
			SignalURL:   "ws://localhost:8000/conference/ws",
			TokenTTL:    10 * time.Minute,
			RejoinDelay: 100 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "file",
			SampleRate: 1.0,
		},
		UserID: 1,
	}
}

// Validate checks that endpoint URLs parse and use the expected schemes.
func (c Config) Validate() error {
	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if err := checkURL(c.Signal.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("signal.url: %w", err)
	}
	if err := checkURL(c.Conference.SignalURL, "ws", "wss"); err != nil {
		return fmt.Errorf("conference.signal_url: %w", err)
	}
	if c.Signal.ConnectTimeout <= 0 {
		return fmt.Errorf("signal.connect_timeout must be positive")
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("missing")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not allowed (want one of %v)", u.Scheme, schemes)
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/taskbridge/traces/traces.jsonl or empty string if home
// dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskbridge", "traces", "traces.jsonl")
}
