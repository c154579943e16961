package commands

import (
	"fmt"

	"github.com/fatih/color"

	"git.home.luguber.info/inful/texbuilder/internal/toolchain"
)

// EnginesCmd implements the 'engines' command.
type EnginesCmd struct{}

func (e *EnginesCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.LoadConfig(g)
	if err != nil {
		return err
	}
	var locator toolchain.Locator = toolchain.PathLocator{}
	if g.Locator != nil {
		locator = g.Locator
	}

	out := g.out()
	tools := append(append([]string(nil), cfg.Build.Engines...), cfg.Build.BibCommand)
	for _, name := range tools {
		marker := ""
		if name == cfg.Build.DefaultEngine {
			marker = " (default)"
		}
		path, err := locator.LookPath(name)
		if err != nil {
			_, _ = fmt.Fprintf(out, "%-10s %s%s\n", name, color.RedString("missing"), marker)
			continue
		}
		_, _ = fmt.Fprintf(out, "%-10s %s %s%s\n", name, color.GreenString("available"), path, marker)
	}
	return nil
}
