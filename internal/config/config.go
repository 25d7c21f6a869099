// ABOUTME: Configuration loading and parsing for strand-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for deployment-tunable session settings.
const (
	DefaultReplayBuffer  = 1024
	DefaultOutboundQueue = 64
	DefaultIdleTimeout   = 15 * time.Minute
	DefaultGracePeriod   = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Config represents the complete strand-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Producer ProducerConfig `yaml:"producer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds principal database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// SessionsConfig holds session lifecycle and backpressure tuning.
// Idle eviction operates on a minutes scale; the outbound queue bounds
// slow-consumer disconnects on a seconds scale. The two are independent.
type SessionsConfig struct {
	// ReplayBuffer is the number of envelopes retained per session for
	// reconnecting clients.
	ReplayBuffer int `yaml:"replay_buffer"`

	// OutboundQueue is the per-connection outbound envelope queue depth.
	// A connection whose queue fills is dropped; the data stays buffered.
	OutboundQueue int `yaml:"outbound_queue"`

	IdleTimeout   time.Duration `yaml:"-"`
	GracePeriod   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	GracePeriodRaw   string `yaml:"grace_period"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ProducerConfig holds configuration for the query execution handle.
// The relay assumes the environment hosting the command is already
// provisioned and reachable.
type ProducerConfig struct {
	// Command is the argv spawned per query. It receives a JSON request on
	// stdin and must emit newline-delimited {"type","data"} JSON on stdout.
	Command []string `yaml:"command"`

	// WorkingDir is the working directory for the spawned command.
	WorkingDir string `yaml:"working_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for unset tunables.
func (c *Config) applyDefaults() {
	if c.Sessions.ReplayBuffer == 0 {
		c.Sessions.ReplayBuffer = DefaultReplayBuffer
	}
	if c.Sessions.OutboundQueue == 0 {
		c.Sessions.OutboundQueue = DefaultOutboundQueue
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.GracePeriod == 0 {
		c.Sessions.GracePeriod = DefaultGracePeriod
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Sessions.ReplayBuffer < 1 {
		return fmt.Errorf("sessions.replay_buffer must be positive")
	}

	if c.Sessions.OutboundQueue < 1 {
		return fmt.Errorf("sessions.outbound_queue must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.IdleTimeoutRaw != "" {
		cfg.Sessions.IdleTimeout, err = time.ParseDuration(cfg.Sessions.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Sessions.IdleTimeoutRaw, err)
		}
	}

	if cfg.Sessions.GracePeriodRaw != "" {
		cfg.Sessions.GracePeriod, err = time.ParseDuration(cfg.Sessions.GracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing grace_period %q: %w", cfg.Sessions.GracePeriodRaw, err)
		}
	}

	if cfg.Sessions.SweepIntervalRaw != "" {
		cfg.Sessions.SweepInterval, err = time.ParseDuration(cfg.Sessions.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Sessions.SweepIntervalRaw, err)
		}
	}

	return nil
}
