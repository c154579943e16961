package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/toolchain"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "texbuilder.yaml"

// Global is passed to every subcommand.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer

	// Runner and Locator replace the real TeX toolchain when set.
	Runner  toolchain.Runner
	Locator toolchain.Locator
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"texbuilder.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the LaTeX compile server"`
	Compile CompileCmd `cmd:"" help:"Compile a local project directory once"`
	Engines EnginesCmd `cmd:"" help:"List configured engines and whether they are installed"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing and installs a bootstrap logger until the
// configuration is loaded.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// LoadConfig loads the configuration file. A missing file falls back to
// defaults plus environment overrides, and the returned path is empty so no
// watcher is started for it.
func (c *CLI) LoadConfig(g *Global) (*config.Config, string, error) {
	if _, err := os.Stat(c.Config); err != nil && os.IsNotExist(err) {
		cfg, err := config.Default()
		if err != nil {
			return nil, "", err
		}
		c.installLogger(g, cfg)
		g.Logger.Debug("No configuration file, using defaults", logfields.Path(c.Config))
		return cfg, "", nil
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, "", err
	}
	c.installLogger(g, cfg)
	return cfg, c.Config, nil
}

func (c *CLI) installLogger(g *Global, cfg *config.Config) {
	g.Logger = cfg.Logging.NewLogger(os.Stderr, c.Verbose)
	slog.SetDefault(g.Logger)
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}
