package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shou/vigilare/internal/power"
)

const (
	defaultResetInterval  = 60 * time.Second
	defaultJitterInterval = 5 * time.Second
	defaultRetryDelay     = 5 * time.Second
	maxResetInterval      = 10 * time.Minute
)

// Duration is a time.Duration written as a string ("90s", "5m") in yaml.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Mode           string   `yaml:"mode"`
	ResetInterval  Duration `yaml:"reset_interval"`
	JitterInterval Duration `yaml:"jitter_interval"`
	StatusAddr     string   `yaml:"status_addr"`
	LogLevel       string   `yaml:"log_level"`
	RetryDelay     Duration `yaml:"retry_delay"`
}

// Flags holds command-line values. Empty fields are unset.
type Flags struct {
	ConfigPath string
	Mode       string
	StatusAddr string
	LogLevel   string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Mode:           string(power.ModeAuto),
		ResetInterval:  Duration(defaultResetInterval),
		JitterInterval: Duration(defaultJitterInterval),
		LogLevel:       "info",
		RetryDelay:     Duration(defaultRetryDelay),
	}
}

// Load resolves configuration from flags > env > config file > defaults.
func Load(flags Flags) (*Config, error) {
	cfg := Default()

	// 1. Config file as base
	path := flags.ConfigPath
	explicit := path != ""
	if !explicit {
		path = configFilePath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 2. Environment variables override config file
	if v := os.Getenv("VIGILARE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("VIGILARE_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := os.Getenv("VIGILARE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// 3. CLI flags override everything
	if flags.Mode != "" {
		cfg.Mode = flags.Mode
	}
	if flags.StatusAddr != "" {
		cfg.StatusAddr = flags.StatusAddr
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := power.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.ResetInterval <= 0 || c.ResetInterval.Std() > maxResetInterval {
		return fmt.Errorf("reset_interval must be in (0, %s], got %s", maxResetInterval, c.ResetInterval.Std())
	}
	if c.JitterInterval <= 0 {
		return fmt.Errorf("jitter_interval must be positive, got %s", c.JitterInterval.Std())
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive, got %s", c.RetryDelay.Std())
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// InhibitMode returns the validated mode.
func (c *Config) InhibitMode() power.Mode {
	return power.Mode(c.Mode)
}

// PowerOptions returns the inhibitor options derived from c.
func (c *Config) PowerOptions(log *slog.Logger) power.Options {
	return power.Options{
		ResetInterval:  c.ResetInterval.Std(),
		JitterInterval: c.JitterInterval.Std(),
		Logger:         log,
	}
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func configFilePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "vigilare", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vigilare", "config.yaml")
}
