// Package config provides Viper-based configuration loading for the relay
// and the client library.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RelayConfig holds settings for the relay process.
type RelayConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReaperInterval is how often the inactivity reaper sweeps.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	// IdleTimeout is the inactivity threshold after which a player is evicted.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ClientBuffer is the per-connection outbound event buffer size.
	ClientBuffer int `mapstructure:"client_buffer"`
	// PollWait is how long a long-poll GET is held open waiting for events.
	PollWait time.Duration `mapstructure:"poll_wait"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ClientConfig holds settings for the client connection controller.
type ClientConfig struct {
	// RelayURL is the base URL of the relay, e.g. "http://localhost:7101".
	RelayURL string `mapstructure:"relay_url"`
	// StartDelay is the settle time before the first dial attempt.
	StartDelay time.Duration `mapstructure:"start_delay"`
	// BackoffBase is the first reconnect delay; doubles each attempt.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffCap is the maximum reconnect delay.
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
	// MaxAttempts is the reconnect attempt count after which the client
	// gives up active retrying and degrades to offline mode.
	MaxAttempts int `mapstructure:"max_attempts"`
	// ProbeInterval is the background reconnection probe period in offline mode.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// QuickSyncInterval is the host's position/velocity broadcast cadence.
	QuickSyncInterval time.Duration `mapstructure:"quick_sync_interval"`
	// FullSyncInterval is the host's comprehensive snapshot cadence.
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval"`
	// SnapThreshold is the position delta above which a replica snaps an
	// entity into place instead of interpolating.
	SnapThreshold float64 `mapstructure:"snap_threshold"`
	// Transports is the ordered transport preference list.
	Transports []string `mapstructure:"transports"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("relay.port must be 1-65535, got %d", r.Port))
	}
	if r.ReaperInterval <= 0 {
		errs = append(errs, "relay.reaper_interval must be positive")
	}
	if r.IdleTimeout <= 0 {
		errs = append(errs, "relay.idle_timeout must be positive")
	}
	if r.ClientBuffer < 1 {
		errs = append(errs, fmt.Sprintf("relay.client_buffer must be >= 1, got %d", r.ClientBuffer))
	}
	if r.PollWait <= 0 {
		errs = append(errs, "relay.poll_wait must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	if c.RelayURL == "" {
		errs = append(errs, "client.relay_url must not be empty")
	}
	if c.StartDelay < 0 {
		errs = append(errs, "client.start_delay must not be negative")
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, "client.backoff_base must be positive")
	}
	if c.BackoffCap < c.BackoffBase {
		errs = append(errs, "client.backoff_cap must not be less than client.backoff_base")
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("client.max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, "client.probe_interval must be positive")
	}
	if c.QuickSyncInterval <= 0 {
		errs = append(errs, "client.quick_sync_interval must be positive")
	}
	if c.FullSyncInterval < c.QuickSyncInterval {
		errs = append(errs, "client.full_sync_interval must not be less than client.quick_sync_interval")
	}
	if c.SnapThreshold <= 0 {
		errs = append(errs, "client.snap_threshold must be positive")
	}
	validTransports := map[string]bool{"websocket": true, "longpoll": true}
	if len(c.Transports) == 0 {
		errs = append(errs, "client.transports must name at least one transport")
	}
	for _, tr := range c.Transports {
		if !validTransports[tr] {
			errs = append(errs, fmt.Sprintf("client.transports entries must be one of [websocket, longpoll], got %q", tr))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with NETPLAY_ prefix
	v.SetEnvPrefix("NETPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the built-in default configuration without reading a file.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are statically valid; Unmarshal cannot fail on them.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 7101)
	v.SetDefault("relay.reaper_interval", "60s")
	v.SetDefault("relay.idle_timeout", "5m")
	v.SetDefault("relay.client_buffer", 64)
	v.SetDefault("relay.poll_wait", "25s")

	v.SetDefault("client.relay_url", "http://localhost:7101")
	v.SetDefault("client.start_delay", "250ms")
	v.SetDefault("client.backoff_base", "1s")
	v.SetDefault("client.backoff_cap", "30s")
	v.SetDefault("client.max_attempts", 15)
	v.SetDefault("client.probe_interval", "30s")
	v.SetDefault("client.quick_sync_interval", "500ms")
	v.SetDefault("client.full_sync_interval", "5s")
	v.SetDefault("client.snap_threshold", 96.0)
	v.SetDefault("client.transports", []string{"websocket", "longpoll"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
