// ABOUTME: Configuration loading and parsing for coven-swarm
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted during loading.
const (
	EnvConfigPath = "COVEN_SWARM_CONFIG"
	EnvDBPath     = "COVEN_SWARM_DB_PATH"
)

// Hub overflow policies accepted in hub.overflow.
const (
	OverflowDisconnect = "disconnect"
	OverflowDropOldest = "drop_oldest"
)

// Config represents the complete coven-swarm configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Mission   MissionConfig   `yaml:"mission" toml:"mission"`
	Queue     QueueConfig     `yaml:"queue" toml:"queue"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy" toml:"policy"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// LLMConfig holds reasoning client configuration
type LLMConfig struct {
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	DefaultModel      string        `yaml:"default_model" toml:"default_model"`
	RequestsPerMinute int           `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// MissionConfig holds mission sizing and pacing
type MissionConfig struct {
	DefaultAgents int           `yaml:"default_agents" toml:"default_agents"`
	MaxAgents     int           `yaml:"max_agents" toml:"max_agents"`
	MaxIterations int           `yaml:"max_iterations" toml:"max_iterations"`
	BaseDelay     time.Duration `yaml:"-" toml:"-"`
	PollInterval  time.Duration `yaml:"-" toml:"-"`
	MaxDuration   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	BaseDelayRaw    string `yaml:"base_delay" toml:"base_delay"`
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	MaxDurationRaw  string `yaml:"max_duration" toml:"max_duration"`
}

// QueueConfig holds shared instruction queue limits
type QueueConfig struct {
	MaxPending      int           `yaml:"max_pending" toml:"max_pending"`
	HistorySize     int           `yaml:"history_size" toml:"history_size"`
	RecentCompleted int           `yaml:"recent_completed" toml:"recent_completed"`
	ClaimTimeout    time.Duration `yaml:"-" toml:"-"`
	SweepInterval   time.Duration `yaml:"-" toml:"-"`

	ClaimTimeoutRaw  string `yaml:"claim_timeout" toml:"claim_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// HubConfig holds observer buffering configuration
type HubConfig struct {
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
	Overflow   string `yaml:"overflow" toml:"overflow"`
}

// TelemetryConfig holds resource sampling configuration
type TelemetryConfig struct {
	Interval        time.Duration `yaml:"-" toml:"-"`
	HistorySize     int           `yaml:"history_size" toml:"history_size"`
	SyntheticAgents bool          `yaml:"synthetic_agents" toml:"synthetic_agents"`
	DiskPath        string        `yaml:"disk_path" toml:"disk_path"`

	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// PolicyConfig holds optional operator rules
type PolicyConfig struct {
	RulesFile string `yaml:"rules_file" toml:"rules_file"`
}

// AgentsConfig holds agent registry configuration
type AgentsConfig struct {
	MessageRetention int `yaml:"message_retention" toml:"message_retention"`
}

// RedisConfig holds the optional event mirror
type RedisConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	Channel string `yaml:"channel" toml:"channel"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:8080"},
		Database: DatabaseConfig{Path: "./coven-swarm.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			APIKey:            "${OPENROUTER_API_KEY}",
			BaseURL:           "https://openrouter.ai/api/v1",
			DefaultModel:      "anthropic/claude-3.5-sonnet",
			RequestsPerMinute: 30,
			TimeoutRaw:        "60s",
		},
		Mission: MissionConfig{
			DefaultAgents:   3,
			MaxAgents:       10,
			MaxIterations:   5,
			BaseDelayRaw:    "2s",
			PollIntervalRaw: "500ms",
		},
		Queue: QueueConfig{
			MaxPending:       50,
			HistorySize:      25,
			RecentCompleted:  8,
			ClaimTimeoutRaw:  "5m",
			SweepIntervalRaw: "30s",
		},
		Hub: HubConfig{BufferSize: 64, Overflow: OverflowDisconnect},
		Telemetry: TelemetryConfig{
			IntervalRaw:     "5s",
			HistorySize:     60,
			SyntheticAgents: true,
			DiskPath:        "/",
		},
		Agents: AgentsConfig{MessageRetention: 200},
		Redis:  RedisConfig{Channel: "coven-swarm.events"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, unset fields
// keep their defaults, and duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finalize(cfg)
}

// LoadOrDefault behaves like Load but falls back to the defaults when path
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	return finalize(Default())
}

func finalize(cfg *Config) (*Config, error) {
	// Defaults carry an unexpanded key reference.
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)

	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath returns the config path to use: the explicit path if given,
// then COVEN_SWARM_CONFIG, then ./config.yaml, then the user config dir.
// The returned path may not exist.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coven-swarm", "config.yaml")
	}
	return "config.yaml"
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
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

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if c.Mission.MaxAgents < 1 || c.Mission.MaxAgents > 10 {
		return fmt.Errorf("mission.max_agents must be between 1 and 10 (got %d)", c.Mission.MaxAgents)
	}
	if c.Mission.DefaultAgents < 1 || c.Mission.DefaultAgents > c.Mission.MaxAgents {
		return fmt.Errorf("mission.default_agents must be between 1 and mission.max_agents (got %d)", c.Mission.DefaultAgents)
	}
	if c.Mission.MaxIterations < 1 {
		return fmt.Errorf("mission.max_iterations must be positive")
	}

	if c.Queue.MaxPending < 1 || c.Queue.HistorySize < 1 || c.Queue.RecentCompleted < 1 {
		return fmt.Errorf("queue sizes must be positive")
	}

	if c.Hub.BufferSize < 1 {
		return fmt.Errorf("hub.buffer_size must be positive")
	}
	if c.Hub.Overflow != OverflowDisconnect && c.Hub.Overflow != OverflowDropOldest {
		return fmt.Errorf("hub.overflow must be %q or %q (got %q)", OverflowDisconnect, OverflowDropOldest, c.Hub.Overflow)
	}

	if c.Telemetry.HistorySize < 1 {
		return fmt.Errorf("telemetry.history_size must be positive")
	}
	if c.Agents.MessageRetention < 1 {
		return fmt.Errorf("agents.message_retention must be positive")
	}
	if c.LLM.RequestsPerMinute < 1 {
		return fmt.Errorf("llm.requests_per_minute must be positive")
	}

	if c.Policy.RulesFile != "" {
		if _, err := os.Stat(c.Policy.RulesFile); err != nil {
			return fmt.Errorf("policy.rules_file: %w", err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"mission.base_delay", cfg.Mission.BaseDelayRaw, &cfg.Mission.BaseDelay},
		{"mission.poll_interval", cfg.Mission.PollIntervalRaw, &cfg.Mission.PollInterval},
		{"mission.max_duration", cfg.Mission.MaxDurationRaw, &cfg.Mission.MaxDuration},
		{"queue.claim_timeout", cfg.Queue.ClaimTimeoutRaw, &cfg.Queue.ClaimTimeout},
		{"queue.sweep_interval", cfg.Queue.SweepIntervalRaw, &cfg.Queue.SweepInterval},
		{"telemetry.interval", cfg.Telemetry.IntervalRaw, &cfg.Telemetry.Interval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative (got %q)", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
