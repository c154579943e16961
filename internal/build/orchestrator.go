package build

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/toolchain"
)

// engineArgs precede any configured extra arguments and the document name.
var engineArgs = []string{"-interaction=nonstopmode", "-file-line-error"}

// Request is one build of an already materialized workspace.
type Request struct {
	BuildID     string        // generated when empty
	Root        string        // workspace root
	MainFile    string        // entry document relative to Root
	Engine      string        // empty selects the default
	PassTimeout time.Duration // per-pass override, bounded by Settings.MaxTimeout
}

// Orchestrator runs the multi-pass pipeline.
type Orchestrator struct {
	settings atomic.Pointer[Settings]
	runner   toolchain.Runner
	locator  toolchain.Locator
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = metrics.OrNoop(r) }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator returns an orchestrator using runner for subprocesses and
// locator for executable discovery.
func NewOrchestrator(settings Settings, runner toolchain.Runner, locator toolchain.Locator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:   runner,
		locator:  locator,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	o.settings.Store(&settings)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.Load()
}

// UpdateSettings replaces the settings used by builds started afterwards.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.settings.Store(&s)
}

// AvailableEngines lists the supported engines whose executables resolve.
func (o *Orchestrator) AvailableEngines() []string {
	return toolchain.Available(o.locator, o.Settings().Engines)
}

// run holds the state of one pipeline execution.
type run struct {
	o        *Orchestrator
	settings Settings
	result   *Result
	log      logBuilder
	dir      string // directory of the main file
	docName  string // main file base name
	jobName  string // main file base name without extension
	timeout  time.Duration
	env      []string
	logger   *slog.Logger
}

// Run executes the pipeline. Once the first toolchain step is reached the returned
// Result is non-nil even when err is set, so callers can inspect the log of a
// failed or timed out build.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	settings := o.Settings()
	started := time.Now()

	buildID := req.BuildID
	if buildID == "" {
		buildID = uuid.NewString()
	}

	engine, err := settings.SelectEngine(req.Engine)
	if err != nil {
		return nil, err
	}
	enginePath, err := o.locator.LookPath(engine)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, fmt.Sprintf("engine %s is not installed", engine)).
			WithContext("engine", engine).
			Build()
	}

	mainRel := path.Clean(filepath.ToSlash(req.MainFile))
	mainAbs := filepath.Join(req.Root, filepath.FromSlash(mainRel))
	if info, err := os.Stat(mainAbs); err != nil || !info.Mode().IsRegular() {
		return nil, errors.NotFoundError(fmt.Sprintf("main file %s not found", mainRel)).
			WithContext("main_file", mainRel).
			Build()
	}

	docName := filepath.Base(mainAbs)
	r := &run{
		o:        o,
		settings: settings,
		result: &Result{
			BuildID:   buildID,
			Engine:    engine,
			MainFile:  mainRel,
			StartedAt: started,
			tailBytes: settings.LogTailBytes,
		},
		dir:     filepath.Dir(mainAbs),
		docName: docName,
		jobName: strings.TrimSuffix(docName, filepath.Ext(docName)),
		timeout: settings.passTimeout(req.PassTimeout),
		env:     settings.environ(),
		logger: o.logger.With(
			logfields.BuildID(buildID),
			logfields.Engine(engine),
			logfields.MainFile(mainRel)),
	}

	res, err := r.execute(ctx, enginePath)
	res.Duration = time.Since(started)
	o.recorder.ObserveBuildDuration(engine, res.Duration)
	return res, err
}

func (r *run) artifactPath() string {
	return filepath.Join(r.dir, r.jobName+".pdf")
}

func (r *run) execute(ctx context.Context, enginePath string) (*Result, error) {
	if err := os.Remove(r.artifactPath()); err != nil && !os.IsNotExist(err) {
		return r.finish(errors.WrapError(err, errors.CategoryInternal, "failed to remove stale artifact").Build())
	}

	out, err := r.enginePass(ctx, PassPrimary, enginePath)
	if err != nil {
		return r.finish(err)
	}
	rerun := NeedsRerun(out)

	ran, err := r.bibliography(ctx)
	if err != nil {
		return r.finish(err)
	}
	rerun = rerun || ran

	if rerun {
		out, err = r.enginePass(ctx, PassSecond, enginePath)
		if err != nil {
			return r.finish(err)
		}
		if NeedsRerun(out) {
			if _, err = r.enginePass(ctx, PassThird, enginePath); err != nil {
				return r.finish(err)
			}
		}
	}

	info, statErr := os.Stat(r.artifactPath())
	if statErr != nil || !info.Mode().IsRegular() {
		r.log.note("no artifact %s.pdf was produced", r.jobName)
		return r.finish(errors.CompilationError("compilation failed: no PDF produced").Build())
	}
	r.result.Success = true
	r.result.artifactPath = r.artifactPath()
	return r.finish(nil)
}

// finish seals the log into the result and decorates pipeline errors with the tail.
func (r *run) finish(err error) (*Result, error) {
	r.result.log = r.log.String()
	if err == nil {
		r.logger.Info("Build succeeded", slog.Int("passes", r.result.EnginePasses()))
		return r.result, nil
	}
	if c, ok := errors.AsClassified(err); ok && (c.IsCategory(errors.CategoryCompilation) || c.IsCategory(errors.CategoryTimeout)) {
		err = c.WithContext("build_id", r.result.BuildID).WithContext("log", r.result.Tail())
	}
	r.logger.Warn("Build failed", logfields.Error(err))
	return r.result, err
}

// enginePass runs one engine pass and returns its decoded output.
func (r *run) enginePass(ctx context.Context, label, enginePath string) (string, error) {
	args := make([]string, 0, len(engineArgs)+len(r.settings.ExtraArgs)+1)
	args = append(args, engineArgs...)
	args = append(args, r.settings.ExtraArgs...)
	args = append(args, r.docName)

	exe, err := r.invoke(ctx, label, r.result.Engine, toolchain.Invocation{
		Tool:    enginePath,
		Args:    args,
		Dir:     r.dir,
		Env:     r.env,
		Timeout: r.timeout,
	})
	if err != nil {
		if stdErrors.Is(err, toolchain.ErrLaunch) {
			return "", errors.WrapError(err, errors.CategoryConfig, fmt.Sprintf("engine %s could not be started", r.result.Engine)).
				WithContext("engine", r.result.Engine).
				Build()
		}
		return "", err
	}
	if exe.TimedOut {
		r.log.note("%s exceeded the %s deadline; process group killed", label, r.timeout)
		return "", errors.TimeoutError(fmt.Sprintf("%s timed out after %s", label, r.timeout)).
			WithContext("pass", label).
			Build()
	}
	return decodeOutput(exe.Output), nil
}

// bibliography runs the bibliography processor when the aux file cites anything.
// It reports whether the processor was invoked; its failures never fail the build.
func (r *run) bibliography(ctx context.Context) (bool, error) {
	aux, err := os.ReadFile(filepath.Join(r.dir, r.jobName+".aux"))
	if err != nil || !HasCitations(aux) {
		return false, nil
	}

	tool := r.settings.BibCommand
	bibPath, err := r.o.locator.LookPath(tool)
	if err != nil {
		r.log.note("bibliography processor %s not found; skipping", tool)
		r.logger.Warn("Bibliography processor not found", logfields.Tool(tool))
		return false, nil
	}

	exe, err := r.invoke(ctx, PassBibliography, tool, toolchain.Invocation{
		Tool:    bibPath,
		Args:    []string{r.jobName},
		Dir:     r.dir,
		Env:     r.env,
		Timeout: r.settings.BibTimeout,
	})
	switch {
	case err != nil && stdErrors.Is(err, toolchain.ErrLaunch):
		r.log.note("bibliography processor %s could not be started: %v", tool, err)
	case err != nil:
		return false, err
	case exe.TimedOut:
		r.log.note("bibliography processor exceeded the %s deadline; continuing", r.settings.BibTimeout)
	case exe.ExitCode != 0:
		r.log.note("bibliography processor exited with %d; continuing", exe.ExitCode)
	}
	return true, nil
}

// invoke runs one toolchain step and records it in the log, result and metrics.
func (r *run) invoke(ctx context.Context, label, tool string, inv toolchain.Invocation) (toolchain.Execution, error) {
	exe, err := r.o.runner.Run(ctx, inv)
	launched := err == nil || !stdErrors.Is(err, toolchain.ErrLaunch)
	if err != nil && launched {
		// caller canceled: nothing meaningful to record
		return exe, err
	}

	r.result.Passes = append(r.result.Passes, PassRecord{
		Name:     label,
		Tool:     tool,
		ExitCode: exe.ExitCode,
		Duration: exe.Duration,
		TimedOut: exe.TimedOut,
		Launched: launched,
	})
	r.log.pass(label, tool, exe.ExitCode, exe.Output)

	result := metrics.ResultSuccess
	switch {
	case !launched:
		result = metrics.ResultFailed
	case exe.TimedOut:
		result = metrics.ResultTimeout
	case exe.ExitCode != 0:
		result = metrics.ResultWarning
	}
	r.o.recorder.ObservePassDuration(label, exe.Duration)
	r.o.recorder.IncPassResult(label, result)
	r.logger.Debug("Toolchain pass finished",
		logfields.Pass(label),
		logfields.Tool(tool),
		logfields.ExitCode(exe.ExitCode),
		logfields.DurationMS(float64(exe.Duration.Milliseconds())))
	return exe, err
}
