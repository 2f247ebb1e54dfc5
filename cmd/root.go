package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbridge/internal/chat"
	"taskbridge/internal/config"
	"taskbridge/internal/conn"
	"taskbridge/internal/log"
	"taskbridge/internal/paths"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/rest"
	"taskbridge/internal/sessions"
	"taskbridge/internal/store"
	"taskbridge/internal/todos"
	"taskbridge/internal/tracing"
	chatui "taskbridge/internal/ui/chat"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version   = "dev"
	cfgFile   string
	debugMode bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:     "taskbridge",
	Short:   "A terminal client for the assistant backend",
	Long:    `A terminal client that talks to the assistant backend over a WebRTC data channel, with session history and live todo-list updates.`,
	Version: version,
	RunE:    runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/taskbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"enable debug logging and the in-app log tail")
	rootCmd.Flags().String("api-url", "",
		"REST base URL of the backend")
	rootCmd.Flags().String("signal-url", "",
		"signaling WebSocket URL")

	_ = viper.BindPFlag("api.base_url", rootCmd.Flags().Lookup("api-url"))
	_ = viper.BindPFlag("signal.url", rootCmd.Flags().Lookup("signal-url"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("api.base_url", defaults.API.BaseURL)
	viper.SetDefault("signal.url", defaults.Signal.URL)
	viper.SetDefault("signal.connect_timeout", defaults.Signal.ConnectTimeout)
	viper.SetDefault("signal.reconnect_delay", defaults.Signal.ReconnectDelay)
	viper.SetDefault("conference.signal_url", defaults.Conference.SignalURL)
	viper.SetDefault("conference.token_ttl", defaults.Conference.TokenTTL)
	viper.SetDefault("conference.rejoin_delay", defaults.Conference.RejoinDelay)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("user_id", defaults.UserID)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .taskbridge/config.yaml (current directory)
		// 2. ~/.config/taskbridge/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".taskbridge", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".taskbridge", "config.yaml"))
		} else {
			viper.AddConfigPath(paths.ConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create one with defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := paths.ConfigFile()
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaults.ICEServers
	}
}

func runApp(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(paths.ConfigDir(), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	closeLog, err := log.Init(paths.LogFile())
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer closeLog()
	log.SetEnabled(debugMode || os.Getenv("TASKBRIDGE_DEBUG") != "")

	bus := pubsub.New()
	log.SetBus(bus)

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	st := store.New(paths.StateFile())
	client := rest.NewClient(cfg.API.BaseURL)

	manager := conn.NewManager(conn.Config{
		SignalURL:      cfg.Signal.URL,
		ICEServers:     cfg.ICEServers,
		ConnectTimeout: cfg.Signal.ConnectTimeout,
		ReconnectDelay: cfg.Signal.ReconnectDelay,
	}, bus, conn.WithTracer(provider.Tracer()))

	sessionDir := sessions.NewDirectory(client, st, bus, cfg.UserID)
	defer sessionDir.Close()
	todoDir := todos.NewDirectory(client, bus, manager)
	defer todoDir.Close()

	svc := chat.NewService(manager, sessionDir, bus)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reload session state when another process rewrites the state file.
	watcher, err := store.NewWatcher(store.DefaultWatcherConfig(paths.StateFile()))
	if err == nil {
		changes, startErr := watcher.Start()
		if startErr == nil {
			defer func() { _ = watcher.Stop() }()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case _, ok := <-changes:
						if !ok {
							return
						}
						if refreshErr := sessionDir.Refresh(ctx); refreshErr != nil {
							log.Warn(log.CatStore, "refresh after state file change failed", "error", refreshErr)
						}
					}
				}
			}()
		}
	}
	// App works fine without the watcher; errors are not fatal.

	if err := sessionDir.Refresh(ctx); err != nil {
		log.Warn(log.CatREST, "initial session fetch failed", "error", err)
	}
	if err := svc.LoadHistory(ctx); err != nil {
		log.Warn(log.CatChat, "initial history load failed", "error", err)
	}
	if err := todoDir.Refresh(ctx); err != nil {
		log.Warn(log.CatREST, "initial todo fetch failed", "error", err)
	}

	manager.Connect()
	defer manager.Disconnect()

	var opts []chatui.Option
	if debugMode {
		opts = append(opts, chatui.WithDebugLog(ctx, pubsub.Channel(ctx, bus, pubsub.TopicLog)))
	}
	model := chatui.New(svc, opts...)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
