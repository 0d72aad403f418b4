// Package config handles configuration loading and validation for aimon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/policy"
)

// Store backends.
const (
	BackendEncrypted = "encrypted"
	BackendSQLite    = "sqlite"
	BackendFile      = "file"
	BackendRedis     = "redis"
)

const (
	// DefaultDataDir holds the store, key, log and socket.
	DefaultDataDir = "~/.aimon"
	// DefaultConfigName is the config file name inside the data dir.
	DefaultConfigName = "config.yaml"
	// DefaultHostName is the native messaging host name registered with the browser.
	DefaultHostName = "com.aimon.host"
)

// Config is the file configuration of the host and the CLI.
type Config struct {
	Policy          domain.PolicyConfig  `yaml:"policy" toml:"policy" json:"policy"`
	Rules           domain.RuleOverrides `yaml:"rules" toml:"rules" json:"rules"`
	Keywords        policy.Keywords      `yaml:"keywords" toml:"keywords" json:"keywords"`
	GradingKeywords []string             `yaml:"grading_keywords" toml:"grading_keywords" json:"grading_keywords"`
	Store           StoreConfig          `yaml:"store" toml:"store" json:"store"`
	Host            HostConfig           `yaml:"host" toml:"host" json:"host"`
	Log             LogConfig            `yaml:"log" toml:"log" json:"log"`
}

// StoreConfig selects and configures the state store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend" json:"backend"`
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	// Path overrides the database or JSON file location inside DataDir.
	Path          string `yaml:"path" toml:"path" json:"path"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" toml:"redis_prefix" json:"redis_prefix"`
}

// HostConfig configures the native messaging host and its control socket.
type HostConfig struct {
	Name           string   `yaml:"name" toml:"name" json:"name"`
	SocketPath     string   `yaml:"socket_path" toml:"socket_path" json:"socket_path"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig configures the host log file.
type LogConfig struct {
	Path  string `yaml:"path" toml:"path" json:"path"`
	Level string `yaml:"level" toml:"level" json:"level"`
}

// DefaultConfig returns the built-in configuration. Rules and keywords are
// left empty so the built-in lists apply.
func DefaultConfig() *Config {
	return &Config{
		Policy: domain.DefaultPolicyConfig(),
		Store: StoreConfig{
			Backend:     BackendEncrypted,
			DataDir:     DefaultDataDir,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "aimon:",
		},
		Host: HostConfig{
			Name: DefaultHostName,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// TemplateConfig returns the defaults with the built-in rules and keywords
// spelled out, for writing a starter config file.
func TemplateConfig() *Config {
	cfg := DefaultConfig()
	cfg.Rules = policy.BuiltinRules()
	cfg.Keywords = policy.DefaultKeywords()
	cfg.GradingKeywords = policy.DefaultGradingKeywords()
	return cfg
}

// DefaultPath returns the config file path inside the default data dir.
func DefaultPath() string {
	return filepath.Join(ExpandHome(DefaultDataDir), DefaultConfigName)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Backend {
	case BackendEncrypted, BackendSQLite, BackendFile:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required"))
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if err := validateRules(domain.CategoryAIWebsite, c.Rules.AIWebsites); err != nil {
		errs = append(errs, err)
	}
	if err := validateRules(domain.CategoryAcademicPlatform, c.Rules.AcademicPlatforms); err != nil {
		errs = append(errs, err)
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validateRules(cat domain.Category, rules []domain.Rule) error {
	for i, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("rules.%s[%d]: name is required", cat, i)
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("rules.%s[%d] (%s): pattern is required", cat, i, r.Name)
		}
	}
	return nil
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return ExpandHome(c.Store.DataDir)
}

// StorePath returns the database or JSON file path for file based backends.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return ExpandHome(c.Store.Path)
	}
	switch c.Store.Backend {
	case BackendFile:
		return filepath.Join(c.DataDir(), "state.json")
	case BackendSQLite:
		return filepath.Join(c.DataDir(), "state.sqlite")
	default:
		return filepath.Join(c.DataDir(), "state.db")
	}
}

// SocketPath returns the control socket path.
func (c *Config) SocketPath() string {
	if c.Host.SocketPath != "" {
		return ExpandHome(c.Host.SocketPath)
	}
	return filepath.Join(c.DataDir(), "aimon.sock")
}

// LogPath returns the host log file path.
func (c *Config) LogPath() string {
	if c.Log.Path != "" {
		return ExpandHome(c.Log.Path)
	}
	return filepath.Join(c.DataDir(), "host.log")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
