package commands

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/compiler"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/daemon"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// CompileCmd implements the 'compile' command.
type CompileCmd struct {
	Dir     string        `arg:"" optional:"" default:"." type:"existingdir" help:"Project directory"`
	Main    string        `short:"m" help:"Main .tex file relative to the project directory"`
	Engine  string        `short:"e" help:"LaTeX engine (pdflatex, xelatex, lualatex)"`
	Output  string        `short:"o" help:"Output PDF path (default: next to the main file)"`
	Project string        `short:"p" help:"Project id; reuses its cached workspace between runs"`
	Timeout time.Duration `help:"Per-pass timeout override"`
	LogFile string        `name:"log-file" help:"Write the full build log to this file"`
}

func (c *CompileCmd) Run(g *Global, root *CLI) error {
	cfg, _, err := root.LoadConfig(g)
	if err != nil {
		return err
	}
	return RunCompile(context.Background(), g, cfg, c)
}

// RunCompile compiles c.Dir once on a single-worker pool.
func RunCompile(ctx context.Context, g *Global, cfg *config.Config, c *CompileCmd) error {
	if g.Logger == nil {
		g.Logger = slog.Default()
	}
	files, err := collectProject(c.Dir, 4*cfg.MaxRequestBytes())
	if err != nil {
		return err
	}
	g.Logger.Debug("Project collected", logfields.Path(c.Dir), slog.Int("files", files.Len()))

	core, err := daemon.NewCore(cfg, daemon.CoreOptions{
		Logger:  g.Logger,
		Runner:  g.Runner,
		Locator: g.Locator,
		Workers: 1,
	})
	if err != nil {
		return err
	}
	core.Pool.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		core.Pool.Stop(stopCtx)
	}()

	outcome, compileErr := core.Service.Compile(ctx, compiler.Request{
		ProjectID:   c.Project,
		Archive:     files,
		MainFile:    c.Main,
		Engine:      c.Engine,
		Mode:        compiler.ModeFull,
		PassTimeout: c.Timeout,
		Source:      queue.SourceCLI,
	})
	defer outcome.Close()

	if outcome != nil && outcome.Result != nil && c.LogFile != "" {
		if err := os.WriteFile(c.LogFile, []byte(outcome.Log()), 0o600); err != nil {
			g.Logger.Warn("Failed to write build log", logfields.File(c.LogFile), logfields.Error(err))
		}
	}

	out := g.out()
	if compileErr != nil {
		_, _ = fmt.Fprintf(out, "%s %s\n", color.RedString("FAILED"), c.Dir)
		if outcome != nil && outcome.Result != nil {
			if tail := strings.TrimSpace(outcome.Tail()); tail != "" {
				_, _ = fmt.Fprintf(out, "%s\n", tail)
			}
		}
		return compileErr
	}

	target := c.Output
	if target == "" {
		target = filepath.Join(c.Dir, filepath.Dir(filepath.FromSlash(outcome.MainFile)), outcome.ArtifactName())
	}
	if err := copyArtifact(outcome, target); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s %s (%s, %d passes, %s) build %s\n",
		color.GreenString("OK"),
		target,
		color.CyanString(outcome.Engine),
		outcome.EnginePasses(),
		outcome.Duration.Round(time.Millisecond),
		outcome.BuildID)
	return nil
}

// collectProject reads every regular file below dir into a raw FileDelta.
// Dot directories (.git, .latexmk caches) are skipped.
func collectProject(dir string, limit int64) (workspace.FileDelta, error) {
	var delta workspace.FileDelta
	var total int64
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		total += int64(len(data))
		if limit > 0 && total > limit {
			return errors.TooLargeError("project directory exceeds the size limit").
				WithContext("limit", limit).
				Build()
		}
		delta.Upserts = append(delta.Upserts, workspace.SourceFile{
			Path:     filepath.ToSlash(rel),
			Content:  string(data),
			Encoding: workspace.EncodingRaw,
		})
		return nil
	})
	if err != nil {
		if _, ok := errors.AsClassified(err); ok {
			return workspace.FileDelta{}, err
		}
		return workspace.FileDelta{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to read project directory").
			WithContext("path", dir).
			Build()
	}
	if delta.IsEmpty() {
		return workspace.FileDelta{}, errors.ValidationError("project directory is empty").
			WithContext("path", dir).
			Build()
	}
	return delta, nil
}

func copyArtifact(outcome *compiler.Outcome, target string) error {
	src, err := outcome.OpenArtifact()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(target)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create output file").
			WithContext("path", target).
			Build()
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write output file").
			WithContext("path", target).
			Build()
	}
	return dst.Close()
}
