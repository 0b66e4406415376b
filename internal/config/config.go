// ABOUTME: Configuration loading and parsing for coven-combat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-combat/internal/combat"
	"github.com/2389/coven-combat/internal/stream"
)

// PathEnvVar overrides the default config file location.
const PathEnvVar = "COVEN_COMBAT_CONFIG"

// Defaults applied when a field is left empty.
const (
	DefaultRequestTimeout = 5 * time.Minute
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config represents the complete coven-combat configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Combat    CombatConfig    `yaml:"combat" toml:"combat"`
	Left      SlotConfig      `yaml:"left" toml:"left"`
	Right     SlotConfig      `yaml:"right" toml:"right"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// BackendConfig locates the agent backend
type BackendConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	StreamPath string `yaml:"stream_path" toml:"stream_path"`
}

// AuthConfig holds bearer token configuration.
// Token takes precedence; otherwise the token is read from COVEN_TOKEN or TokenFile.
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// TransportConfig holds request timing
type TransportConfig struct {
	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// CombatConfig holds turn engine settings
type CombatConfig struct {
	MaxRounds      int    `yaml:"max_rounds" toml:"max_rounds"`
	StartingSide   string `yaml:"starting_side" toml:"starting_side"`
	OpeningMessage string `yaml:"opening_message" toml:"opening_message"`

	PacingDelay    time.Duration `yaml:"-" toml:"-"`
	PacingDelayRaw string        `yaml:"pacing_delay" toml:"pacing_delay"`
}

// SlotConfig selects the agent behind one side
type SlotConfig struct {
	BotID     string `yaml:"bot_id" toml:"bot_id"`
	ModelName string `yaml:"model_name" toml:"model_name"`
}

// Slot converts the config into the engine's participant identity.
func (s SlotConfig) Slot() combat.SlotConfig {
	return combat.SlotConfig{BotID: s.BotID, ModelName: s.ModelName}
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
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

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: $COVEN_COMBAT_CONFIG if set,
// otherwise combat.yaml under $XDG_CONFIG_HOME/coven or ~/.config/coven.
func DefaultPath() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "combat.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "combat.yaml")
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

// ApplyDefaults fills empty fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Backend.StreamPath == "" {
		c.Backend.StreamPath = stream.DefaultStreamPath
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = DefaultRequestTimeout
	}
	if c.Combat.MaxRounds == 0 {
		c.Combat.MaxRounds = combat.DefaultMaxRounds
	}
	if c.Combat.PacingDelayRaw == "" && c.Combat.PacingDelay == 0 {
		c.Combat.PacingDelay = combat.DefaultPacingDelay
	}
	if c.Combat.StartingSide == "" {
		c.Combat.StartingSide = combat.Left.String()
	}
	if c.Combat.OpeningMessage == "" {
		c.Combat.OpeningMessage = combat.DefaultOpeningMessage
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", u.Scheme)
	}

	if c.Left.BotID == "" {
		return fmt.Errorf("left.bot_id is required")
	}
	if c.Right.BotID == "" {
		return fmt.Errorf("right.bot_id is required")
	}

	if c.Combat.MaxRounds < 0 {
		return fmt.Errorf("combat.max_rounds must not be negative, got %d", c.Combat.MaxRounds)
	}
	if c.Combat.PacingDelay < 0 {
		return fmt.Errorf("combat.pacing_delay must not be negative")
	}
	if _, err := combat.ParseSide(c.Combat.StartingSide); err != nil {
		return fmt.Errorf("combat.starting_side: %w", err)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// StartingSide returns the parsed combat.starting_side.
func (c *Config) StartingSide() combat.Side {
	side, err := combat.ParseSide(c.Combat.StartingSide)
	if err != nil {
		return combat.Left
	}
	return side
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Transport.RequestTimeoutRaw != "" {
		cfg.Transport.RequestTimeout, err = time.ParseDuration(cfg.Transport.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Transport.RequestTimeoutRaw, err)
		}
	}

	if cfg.Combat.PacingDelayRaw != "" {
		cfg.Combat.PacingDelay, err = time.ParseDuration(cfg.Combat.PacingDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing pacing_delay %q: %w", cfg.Combat.PacingDelayRaw, err)
		}
	}

	return nil
}
