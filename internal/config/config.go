package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"Respondr/internal/emergency"
)

const (
	BackendHTTP = "http"
	BackendSDK  = "sdk"

	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
)

// Config holds application configuration
type Config struct {
	Backend        string `toml:"backend"`
	Model          string `toml:"model"`
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout_secs"`

	Storage StorageConfig `toml:"storage"`
	Timings TimingConfig  `toml:"timings"`

	LogDir    string `toml:"log_dir"`
	Debug     bool   `toml:"debug"`
	Telemetry bool   `toml:"telemetry"`
	Greeting  bool   `toml:"greeting"`

	// Credential seeds the API key when the store holds none. Only read from the
	// environment, never from the config file.
	Credential string `toml:"-"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite3 | mysql | postgres | redis | memory
	DSN    string `toml:"dsn"`
}

// TimingConfig holds choreography delays in milliseconds
type TimingConfig struct {
	ReplyDelayMs      int `toml:"reply_delay_ms"`
	GreetingDelayMs   int `toml:"greeting_delay_ms"`
	ConnectMs         int `toml:"connect_ms"`
	OpenerDelayMs     int `toml:"opener_delay_ms"`
	TypingMs          int `toml:"typing_ms"`
	DispatcherReplyMs int `toml:"dispatcher_reply_ms"`
	EndDelayMs        int `toml:"end_delay_ms"`
	ConfirmDelayMs    int `toml:"confirm_delay_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	t := emergency.DefaultTimings()
	return Config{
		Backend:        BackendHTTP,
		Model:          DefaultModel,
		BaseURL:        DefaultBaseURL,
		RequestTimeout: 60,
		Storage:        StorageConfig{Driver: "sqlite3"},
		Timings: TimingConfig{
			ReplyDelayMs:      300,
			GreetingDelayMs:   1000,
			ConnectMs:         int(t.Connect / time.Millisecond),
			OpenerDelayMs:     int(t.OpenerDelay / time.Millisecond),
			TypingMs:          int(t.Typing / time.Millisecond),
			DispatcherReplyMs: int(t.DispatcherReply / time.Millisecond),
			EndDelayMs:        int(t.EndDelay / time.Millisecond),
			ConfirmDelayMs:    int(t.ConfirmDelay / time.Millisecond),
		},
		LogDir:    "logs",
		Telemetry: true,
		Greeting:  true,
	}
}

// DefaultPath returns ~/.respondr/config.toml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".respondr", "config.toml")
}

// Load builds the configuration from defaults, the TOML file at path, a .env file in the
// working directory and the process environment. A missing file at the default path is
// not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !(errors.Is(err, os.ErrNotExist) && !explicit) {
			return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Credential = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESPONDR_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("RESPONDR_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("RESPONDR_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("RESPONDR_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("RESPONDR_LOG_DIR"); v != "" {
		c.LogDir = v
	}
}

// Validate checks the configuration for values the application cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHTTP, BackendSDK:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.Model == "" {
		return errors.New("model must be configured")
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "sqlite3", "mysql", "postgres", "postgresql", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout_secs must be positive")
	}
	t := c.Timings
	for name, v := range map[string]int{
		"reply_delay_ms":      t.ReplyDelayMs,
		"greeting_delay_ms":   t.GreetingDelayMs,
		"connect_ms":          t.ConnectMs,
		"opener_delay_ms":     t.OpenerDelayMs,
		"typing_ms":           t.TypingMs,
		"dispatcher_reply_ms": t.DispatcherReplyMs,
		"end_delay_ms":        t.EndDelayMs,
		"confirm_delay_ms":    t.ConfirmDelayMs,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Timeout returns the backend request timeout
func (c Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// EmergencyTimings converts the configured delays for the call choreography.
func (c Config) EmergencyTimings() emergency.Timings {
	t := c.Timings
	return emergency.Timings{
		Connect:         ms(t.ConnectMs),
		OpenerDelay:     ms(t.OpenerDelayMs),
		Typing:          ms(t.TypingMs),
		DispatcherReply: ms(t.DispatcherReplyMs),
		EndDelay:        ms(t.EndDelayMs),
		ConfirmDelay:    ms(t.ConfirmDelayMs),
	}
}

// ReplyDelay is the pause before a backend reply is shown
func (c Config) ReplyDelay() time.Duration { return ms(c.Timings.ReplyDelayMs) }

// GreetingDelay is the pause before a fresh chat is greeted
func (c Config) GreetingDelay() time.Duration { return ms(c.Timings.GreetingDelayMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
