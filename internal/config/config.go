package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// CurrentVersion is the only configuration schema version accepted by Load.
const CurrentVersion = "1.0"

// Config is the complete texbuilder configuration for the daemon and the one-shot CLI.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Build     BuildConfig     `yaml:"build"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	History   HistoryConfig   `yaml:"history"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents the HTTP listener and request limits.
type ServerConfig struct {
	Bind           string        `yaml:"bind"`
	Port           int           `yaml:"port"`
	AuthToken      string        `yaml:"auth_token"`      // Bearer token; empty disables auth
	MaxRequestMB   int           `yaml:"max_request_mb"`  // Request body cap in megabytes
	MaxConnections int           `yaml:"max_connections"` // Concurrent connection limit; 0 is unlimited
	CORSOrigin     string        `yaml:"cors_origin"`     // Access-Control-Allow-Origin value
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// BuildConfig controls engine selection, pass deadlines and the worker pool.
type BuildConfig struct {
	DefaultEngine    string        `yaml:"default_engine"`
	Engines          []string      `yaml:"engines"`         // Supported engine names
	EngineFallback   bool          `yaml:"engine_fallback"` // Substitute the default for unknown engines
	BibCommand       string        `yaml:"bib_command"`     // Bibliography processor
	PassTimeout      time.Duration `yaml:"pass_timeout"`    // Per engine pass
	BibTimeout       time.Duration `yaml:"bib_timeout"`
	MaxTimeout       time.Duration `yaml:"max_timeout"` // Upper bound for per-request overrides
	LogTailBytes     int           `yaml:"log_tail_bytes"`
	ConcurrentBuilds int           `yaml:"concurrent_builds"`
	QueueSize        int           `yaml:"queue_size"`
	HistorySize      int           `yaml:"history_size"` // Finished jobs kept for /api/builds
}

// ToolchainConfig holds extra process settings passed to every toolchain invocation.
type ToolchainConfig struct {
	ExtraArgs []string          `yaml:"extra_args"`
	Env       map[string]string `yaml:"env"`
}

// WorkspaceConfig locates project workspaces and the optional eviction policy.
type WorkspaceConfig struct {
	Root          string        `yaml:"root"`
	ScratchDir    string        `yaml:"scratch_dir"` // Empty uses the OS temp directory
	MaxIdle       time.Duration `yaml:"max_idle"`    // 0 disables the janitor
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HistoryConfig configures the SQLite build event store.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Disabled  bool          `yaml:"disabled"`
	Retention time.Duration `yaml:"retention"` // Events older than this are pruned by the janitor; 0 keeps all
}

// NotifyConfig configures NATS build notifications.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load loads a configuration file, applies .env files, environment overrides and defaults,
// and validates the result.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).
				WithContext("path", configPath).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}
	return Parse(data)
}

// Parse decodes YAML configuration with ${ENV} expansion and completes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Version != CurrentVersion {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)).Build()
	}
	if err := finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built only from defaults and the process environment.
// It is used when no configuration file exists.
func Default() (*Config, error) {
	loadEnvFiles()
	cfg := &Config{Version: CurrentVersion}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finalize(cfg *Config) error {
	if err := ApplyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return err
	}
	if err := NewDefaultApplier().ApplyDefaults(cfg); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to apply defaults").Build()
	}
	return ValidateConfig(cfg)
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ValidationError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Port:         8765,
			AuthToken:    "${AUTH_TOKEN}",
			MaxRequestMB: 50,
			CORSOrigin:   "*",
		},
		Build: BuildConfig{
			DefaultEngine: "pdflatex",
			Engines:       []string{"pdflatex", "xelatex", "lualatex"},
			BibCommand:    "bibtex",
			PassTimeout:   300 * time.Second,
			BibTimeout:    60 * time.Second,
			LogTailBytes:  5000,
			QueueSize:     32,
		},
		Toolchain: ToolchainConfig{
			Env: map[string]string{"TEXMFVAR": "/tmp/texmf-var"},
		},
		Workspace: WorkspaceConfig{
			Root:          "./workspaces",
			SweepInterval: time.Hour,
		},
		History: HistoryConfig{Path: "./texbuilder-history.db"},
		Notify:  NotifyConfig{Subject: "texbuilder.builds"},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}

// MaxRequestBytes returns the request body limit in bytes.
func (c *Config) MaxRequestBytes() int64 {
	return int64(c.Server.MaxRequestMB) * 1024 * 1024
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
