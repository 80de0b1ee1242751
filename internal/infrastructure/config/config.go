package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Host    HostConfig
	Harness HarnessConfig
	Quit    QuitConfig
	Cache   CacheConfig
	Channel ChannelConfig
	Fetch   FetchConfig
	Logging LogConfig
}

// ServerConfig holds the control HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8787"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`

	// Per-client limit on control requests; the channel has its own.
	RequestsPerSecond int `envconfig:"HTTP_RPS" default:"20"`
	Burst             int `envconfig:"HTTP_BURST" default:"40"`
}

// HostConfig selects and configures the browser host.
type HostConfig struct {
	Driver     string `envconfig:"HOST_DRIVER" default:"cdp"` // "cdp" or "sim"
	ChromePath string `envconfig:"CHROME_PATH"`
	RemoteURL  string `envconfig:"CDP_URL"` // attach to a running browser instead of launching one
	Headless   bool   `envconfig:"HEADLESS" default:"true"`
}

// HarnessConfig holds test rotation settings.
type HarnessConfig struct {
	// SubjectKind is "tab" or "window".
	SubjectKind string `envconfig:"HARNESS_SUBJECT" default:"tab"`
}

// QuitConfig holds quit sequence settings.
type QuitConfig struct {
	SoonDelay       time.Duration `envconfig:"QUIT_SOON_DELAY" default:"4s"`
	LeakSettleDelay time.Duration `envconfig:"LEAK_SETTLE_DELAY" default:"4s"`
	PressureRounds  int           `envconfig:"LEAK_PRESSURE_ROUNDS" default:"10"`
	BaselineFile    string        `envconfig:"LEAK_BASELINE_FILE"`
}

// CacheConfig holds large-object cache settings.
type CacheConfig struct {
	Wait              time.Duration `envconfig:"CACHE_WAIT" default:"10s"`
	CompressThreshold int           `envconfig:"CACHE_COMPRESS_THRESHOLD" default:"65536"`
}

// ChannelConfig limits inbound page messages per connection.
type ChannelConfig struct {
	MessagesPerSecond int `envconfig:"CHANNEL_RPS" default:"1000"`
	Burst             int `envconfig:"CHANNEL_BURST" default:"2000"`
}

// FetchConfig holds fuzzer script fetching settings.
type FetchConfig struct {
	Timeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries int           `envconfig:"FETCH_RETRIES" default:"2"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Host.Driver {
	case "cdp", "sim":
	default:
		return fmt.Errorf("invalid HOST_DRIVER %q: want cdp or sim", c.Host.Driver)
	}
	switch c.Harness.SubjectKind {
	case "tab", "window":
	default:
		return fmt.Errorf("invalid HARNESS_SUBJECT %q: want tab or window", c.Harness.SubjectKind)
	}
	if c.Cache.Wait < 0 {
		return fmt.Errorf("CACHE_WAIT must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8787",
			Host:              "127.0.0.1",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Host: HostConfig{
			Driver:   "cdp",
			Headless: true,
		},
		Harness: HarnessConfig{
			SubjectKind: "tab",
		},
		Quit: QuitConfig{
			SoonDelay:       4 * time.Second,
			LeakSettleDelay: 4 * time.Second,
			PressureRounds:  10,
		},
		Cache: CacheConfig{
			Wait:              10 * time.Second,
			CompressThreshold: 64 * 1024,
		},
		Channel: ChannelConfig{
			MessagesPerSecond: 1000,
			Burst:             2000,
		},
		Fetch: FetchConfig{
			Timeout: 30 * time.Second,
			Retries: 2,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
