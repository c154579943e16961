package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&ServerDefaultApplier{},
			&BuildDefaultApplier{},
			&ToolchainDefaultApplier{},
			&WorkspaceDefaultApplier{},
			&HistoryDefaultApplier{},
			&NotifyDefaultApplier{},
			&LoggingDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// ServerDefaultApplier handles HTTP server defaults.
type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Server.MaxRequestMB <= 0 {
		cfg.Server.MaxRequestMB = 50
	}
	if cfg.Server.MaxConnections < 0 {
		cfg.Server.MaxConnections = 0
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Server.ShutdownGrace <= 0 {
		cfg.Server.ShutdownGrace = 30 * time.Second
	}
	return nil
}

// BuildDefaultApplier handles build pipeline and pool defaults.
type BuildDefaultApplier struct{}

func (b *BuildDefaultApplier) Domain() string { return "build" }

func (b *BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	if len(cfg.Build.Engines) == 0 {
		cfg.Build.Engines = []string{"pdflatex", "xelatex", "lualatex"}
	}
	for i, e := range cfg.Build.Engines {
		cfg.Build.Engines[i] = strings.ToLower(strings.TrimSpace(e))
	}
	cfg.Build.DefaultEngine = strings.ToLower(strings.TrimSpace(cfg.Build.DefaultEngine))
	if cfg.Build.DefaultEngine == "" {
		cfg.Build.DefaultEngine = cfg.Build.Engines[0]
	}
	if cfg.Build.BibCommand == "" {
		cfg.Build.BibCommand = "bibtex"
	}
	if cfg.Build.PassTimeout <= 0 {
		cfg.Build.PassTimeout = 300 * time.Second
	}
	if cfg.Build.BibTimeout <= 0 {
		cfg.Build.BibTimeout = 60 * time.Second
	}
	if cfg.Build.MaxTimeout <= 0 {
		cfg.Build.MaxTimeout = 2 * cfg.Build.PassTimeout
	}
	if cfg.Build.LogTailBytes <= 0 {
		cfg.Build.LogTailBytes = 5000
	}
	if cfg.Build.ConcurrentBuilds <= 0 {
		cfg.Build.ConcurrentBuilds = max(1, runtime.NumCPU()/2)
	}
	if cfg.Build.QueueSize <= 0 {
		cfg.Build.QueueSize = 32
	}
	if cfg.Build.HistorySize <= 0 {
		cfg.Build.HistorySize = 50
	}
	return nil
}

// ToolchainDefaultApplier fills the subprocess environment used by MiKTeX and TeX Live.
type ToolchainDefaultApplier struct{}

func (t *ToolchainDefaultApplier) Domain() string { return "toolchain" }

func (t *ToolchainDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Toolchain.Env == nil {
		cfg.Toolchain.Env = map[string]string{}
	}
	if _, ok := cfg.Toolchain.Env["MIKTEX_ENABLEINSTALLER"]; !ok {
		cfg.Toolchain.Env["MIKTEX_ENABLEINSTALLER"] = "t"
	}
	return nil
}

// WorkspaceDefaultApplier handles workspace storage defaults.
type WorkspaceDefaultApplier struct{}

func (w *WorkspaceDefaultApplier) Domain() string { return "workspace" }

func (w *WorkspaceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "./workspaces"
	}
	abs, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	cfg.Workspace.Root = abs
	if cfg.Workspace.MaxIdle < 0 {
		cfg.Workspace.MaxIdle = 0
	}
	if cfg.Workspace.SweepInterval <= 0 {
		cfg.Workspace.SweepInterval = time.Hour
	}
	return nil
}

// HistoryDefaultApplier places the event store next to the workspace root unless configured.
type HistoryDefaultApplier struct{}

func (h *HistoryDefaultApplier) Domain() string { return "history" }

func (h *HistoryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(filepath.Dir(cfg.Workspace.Root), "texbuilder-history.db")
	}
	return nil
}

type NotifyDefaultApplier struct{}

func (n *NotifyDefaultApplier) Domain() string { return "notify" }

func (n *NotifyDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "texbuilder.builds"
	}
	return nil
}

type LoggingDefaultApplier struct{}

func (l *LoggingDefaultApplier) Domain() string { return "logging" }

func (l *LoggingDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	return nil
}
