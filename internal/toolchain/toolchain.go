// Package toolchain discovers and runs the external typesetting executables.
//
// Every invocation runs in its own process group under a hard deadline. When the
// deadline expires the whole group is killed, so helper processes spawned by an
// engine (mktexpk, kpsewhich, font installers) do not outlive the build.
package toolchain

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
)

// ErrLaunch marks an executable that could not be started at all.
var ErrLaunch = stdErrors.New("toolchain: launch failed")

// waitDelay bounds how long Wait keeps reading output after the group was killed.
const waitDelay = 2 * time.Second

// Invocation describes one subprocess run.
type Invocation struct {
	Tool    string   // executable name or path
	Args    []string
	Dir     string
	Env     []string // KEY=VALUE pairs appended to the process environment
	Timeout time.Duration
}

// Execution is the observable result of an invocation.
type Execution struct {
	ExitCode int
	Output   []byte // combined stdout and stderr
	Duration time.Duration
	TimedOut bool
}

// Runner executes toolchain invocations. Run returns an error only when the
// process could not be launched (wrapping ErrLaunch) or ctx was canceled by the
// caller; non-zero exits and deadline expiry are reported in Execution.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Execution, error)
}

// Locator resolves executables by name.
type Locator interface {
	LookPath(name string) (string, error)
}

// PathLocator resolves executables through PATH.
type PathLocator struct{}

func (PathLocator) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Available returns the subset of names that loc can resolve, in input order.
func Available(loc Locator, names []string) []string {
	var out []string
	for _, n := range names {
		if _, err := loc.LookPath(n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// ExecRunner runs invocations with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns a runner. A nil logger uses slog.Default.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Execution, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Tool, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug("Running toolchain command",
		logfields.Tool(inv.Tool),
		logfields.Path(inv.Dir),
		slog.Any("args", inv.Args))

	start := time.Now()
	err := cmd.Run()
	exe := Execution{
		ExitCode: -1,
		Output:   out.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		exe.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return exe, errors.WrapError(ctx.Err(), errors.CategoryRuntime, "toolchain invocation canceled").
			WithContext("tool", inv.Tool).
			Build()
	}
	if runCtx.Err() != nil {
		exe.TimedOut = true
		r.logger.Warn("Toolchain command timed out",
			logfields.Tool(inv.Tool),
			slog.Duration("timeout", inv.Timeout))
		return exe, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if stdErrors.As(err, &exitErr) {
			return exe, nil
		}
		if cmd.ProcessState == nil {
			return exe, errors.WrapError(stdErrors.Join(ErrLaunch, err), errors.CategoryConfig, "failed to start toolchain command").
				WithContext("tool", inv.Tool).
				Build()
		}
		// exec.ErrWaitDelay and similar: the process exited, its output may be truncated.
		r.logger.Debug("Toolchain command finished with wait error", logfields.Tool(inv.Tool), logfields.Error(err))
	}
	return exe, nil
}
