package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/texbuilder/internal/daemon"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Port int    `short:"p" help:"Override server.port"`
	Bind string `help:"Override server.bind"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, configPath, err := root.LoadConfig(g)
	if err != nil {
		return err
	}
	if s.Port > 0 {
		cfg.Server.Port = s.Port
	}
	if s.Bind != "" {
		cfg.Server.Bind = s.Bind
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []daemon.Option{daemon.WithLogger(g.Logger)}
	if g.Runner != nil || g.Locator != nil {
		opts = append(opts, daemon.WithToolchain(g.Runner, g.Locator))
	}
	d, err := daemon.New(cfg, configPath, opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	return d.Run(ctx)
}
