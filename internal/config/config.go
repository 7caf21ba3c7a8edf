// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is absent from the file.
const (
	DefaultBaseURL        = "http://127.0.0.1:8080"
	DefaultFlushInterval  = 120 * time.Millisecond
	DefaultRequestTimeout = 5 * time.Minute
	DefaultDedupeTTL      = 5 * time.Second
	DefaultDedupeMaxSize  = 1000
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Streaming StreamingConfig `yaml:"streaming" toml:"streaming"`
	History   HistoryConfig   `yaml:"history" toml:"history"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
}

// ServerConfig locates the chat backend
type ServerConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// AuthConfig holds the bearer token, inline or in a file.
// An inline token wins over the file.
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// StreamingConfig controls turn streaming
type StreamingConfig struct {
	FlushInterval  time.Duration `yaml:"-" toml:"-"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	ThinkMode      bool          `yaml:"think_mode" toml:"think_mode"`
	SearchMode     bool          `yaml:"search_mode" toml:"search_mode"`

	// Raw string values for unmarshaling
	FlushIntervalRaw  string `yaml:"flush_interval" toml:"flush_interval"`
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// HistoryConfig holds local history configuration
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DedupeConfig sizes the duplicate-submission cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file is missing.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ResolvePath returns the config file location.
// Order: COVEN_CHAT_CONFIG, $XDG_CONFIG_HOME/coven/chat.yaml, ~/.config/coven/chat.yaml.
func ResolvePath() string {
	if p := os.Getenv("COVEN_CHAT_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "chat.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.yaml"
	}
	return filepath.Join(home, ".config", "coven", "chat.yaml")
}

// DefaultHistoryPath is where chat history lives when history.path is unset.
func DefaultHistoryPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "chat.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	return filepath.Join(home, ".local", "share", "coven", "chat.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = DefaultBaseURL
	}
	if cfg.Streaming.FlushInterval == 0 {
		cfg.Streaming.FlushInterval = DefaultFlushInterval
	}
	if cfg.Streaming.RequestTimeout == 0 {
		cfg.Streaming.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxSize == 0 {
		cfg.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q must be an absolute URL", c.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url scheme must be http or https, got %q", u.Scheme)
	}

	if c.Streaming.FlushInterval < 0 {
		return fmt.Errorf("streaming.flush_interval must be positive")
	}
	if c.Streaming.RequestTimeout < 0 {
		return fmt.Errorf("streaming.request_timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must be positive")
	}
	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Streaming.FlushIntervalRaw != "" {
		cfg.Streaming.FlushInterval, err = time.ParseDuration(cfg.Streaming.FlushIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing flush_interval %q: %w", cfg.Streaming.FlushIntervalRaw, err)
		}
	}

	if cfg.Streaming.RequestTimeoutRaw != "" {
		cfg.Streaming.RequestTimeout, err = time.ParseDuration(cfg.Streaming.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Streaming.RequestTimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
