// Package toolchaintest provides scripted Runner and Locator fakes so build
// logic can be tested without a TeX installation.
package toolchaintest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/toolchain"
)

// Step scripts the behaviour of one invocation. It may write files into inv.Dir
// (for example the .aux or .pdf a real engine would produce).
type Step func(inv toolchain.Invocation) (toolchain.Execution, error)

// Runner records invocations and replays a Script keyed by tool base name.
type Runner struct {
	mu     sync.Mutex
	calls  []toolchain.Invocation
	script map[string][]Step
	// Default handles tools without a scripted step; nil returns exit code 0.
	Default Step
	// Delay is slept (honouring ctx) before every step, to exercise concurrency.
	Delay time.Duration
}

// NewRunner returns an empty scripted runner.
func NewRunner() *Runner {
	return &Runner{script: make(map[string][]Step)}
}

// On appends steps for a tool. Each call to the tool consumes one step; the last
// step is repeated once the queue is exhausted.
func (r *Runner) On(tool string, steps ...Step) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script[tool] = append(r.script[tool], steps...)
	return r
}

func (r *Runner) Run(ctx context.Context, inv toolchain.Invocation) (toolchain.Execution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	name := filepath.Base(inv.Tool)
	var step Step
	if steps := r.script[name]; len(steps) > 0 {
		step = steps[0]
		if len(steps) > 1 {
			r.script[name] = steps[1:]
		}
	}
	if step == nil {
		step = r.Default
	}
	delay := r.Delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return toolchain.Execution{}, ctx.Err()
		}
	}
	if step == nil {
		return toolchain.Execution{}, nil
	}
	return step(inv)
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []toolchain.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolchain.Invocation(nil), r.calls...)
}

// Tools returns the base names of the invoked tools in call order.
func (r *Runner) Tools() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = filepath.Base(c.Tool)
	}
	return out
}

// Output returns a step that prints output with the given exit code.
func Output(exitCode int, output string) Step {
	return func(toolchain.Invocation) (toolchain.Execution, error) {
		return toolchain.Execution{ExitCode: exitCode, Output: []byte(output)}, nil
	}
}

// Produce returns a step that writes files (relative to the invocation dir,
// "{base}" replaced by the job name) and prints output.
func Produce(exitCode int, output string, files map[string]string) Step {
	return func(inv toolchain.Invocation) (toolchain.Execution, error) {
		base := JobName(inv)
		for name, body := range files {
			p := filepath.Join(inv.Dir, strings.ReplaceAll(name, "{base}", base))
			if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
				return toolchain.Execution{}, err
			}
		}
		return toolchain.Execution{ExitCode: exitCode, Output: []byte(output)}, nil
	}
}

// TimeOut returns a step reporting an expired deadline.
func TimeOut(output string) Step {
	return func(toolchain.Invocation) (toolchain.Execution, error) {
		return toolchain.Execution{ExitCode: -1, Output: []byte(output), TimedOut: true}, nil
	}
}

// LaunchFailure returns a step whose process never started.
func LaunchFailure() Step {
	return func(inv toolchain.Invocation) (toolchain.Execution, error) {
		return toolchain.Execution{ExitCode: -1}, fmt.Errorf("%w: %s", toolchain.ErrLaunch, inv.Tool)
	}
}

// JobName returns the document base name passed as last argument.
func JobName(inv toolchain.Invocation) string {
	if len(inv.Args) == 0 {
		return ""
	}
	return strings.TrimSuffix(inv.Args[len(inv.Args)-1], ".tex")
}

// Locator resolves only the configured tool names.
type Locator struct {
	mu    sync.Mutex
	tools map[string]bool
}

// NewLocator returns a locator that knows tools.
func NewLocator(tools ...string) *Locator {
	l := &Locator{tools: make(map[string]bool)}
	for _, t := range tools {
		l.tools[t] = true
	}
	return l
}

func (l *Locator) LookPath(name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tools[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Remove forgets a tool.
func (l *Locator) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tools, name)
}
