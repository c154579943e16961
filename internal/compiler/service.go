// Package compiler is the entry point of the compile engine. A Service takes a
// request through project locking, delta application, main file resolution and
// the build pipeline, all on the shared worker pool.
package compiler

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/build"
	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/resolver"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Mode selects how a request's fileset relates to the existing workspace.
type Mode string

const (
	// ModeFull writes the fileset into the workspace, creating it when missing.
	ModeFull Mode = "full"
	// ModeDelta updates an existing workspace and fails with a cache miss otherwise.
	ModeDelta Mode = "delta"
)

var modeNormalizer = normalization.NewNormalizer(map[string]Mode{
	string(ModeFull):  ModeFull,
	string(ModeDelta): ModeDelta,
}, ModeFull)

// ParseMode maps a request value onto a Mode, ignoring case. Empty selects ModeFull.
func ParseMode(s string) (Mode, error) {
	if strings.TrimSpace(s) == "" {
		return ModeFull, nil
	}
	mode, ok := modeNormalizer.Lookup(s)
	if !ok {
		return "", errors.ValidationError("unknown mode").
			WithContext("mode", s).
			WithContext("supported", modeNormalizer.ValidKeys()).
			Build()
	}
	return mode, nil
}

// Request is one compile request.
type Request struct {
	ProjectID   string            // empty builds in a scratch directory
	Files       map[string]string // relative path -> UTF-8 text
	BinaryFiles map[string]string // relative path -> base64 (optionally a data URL)
	Deleted     []string          // delta mode only
	Archive     workspace.FileDelta
	MainFile    string
	Engine      string
	Mode        Mode
	PassTimeout time.Duration
	Source      queue.Source
}

// Delta returns the request's fileset as a FileDelta, text files first, each group
// sorted by path, followed by any archive entries.
func (r Request) Delta() workspace.FileDelta {
	var d workspace.FileDelta
	for _, p := range slices.Sorted(maps.Keys(r.Files)) {
		d.Upserts = append(d.Upserts, workspace.TextFile(p, r.Files[p]))
	}
	for _, p := range slices.Sorted(maps.Keys(r.BinaryFiles)) {
		d.Upserts = append(d.Upserts, workspace.BinaryFile(p, r.BinaryFiles[p]))
	}
	d.Deletions = append(d.Deletions, r.Deleted...)
	return d.Merge(r.Archive)
}

// Outcome is a finished build. For a successful build the project lock (or the
// scratch directory) is held until Close, so the artifact can be streamed safely.
type Outcome struct {
	*build.Result

	// Rule is the resolver rule that selected the main file.
	Rule resolver.Rule

	once    sync.Once
	release func()
}

// Close releases the project lock and removes the scratch directory. It is safe
// to call more than once.
func (o *Outcome) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		if o.release != nil {
			o.release()
		}
	})
}

// Service compiles requests.
type Service struct {
	cache        *workspace.Cache
	resolver     *resolver.Resolver
	orchestrator *build.Orchestrator
	pool         *queue.Pool
	logger       *slog.Logger
}

// New returns a Service. The pool must be started by the caller.
func New(cache *workspace.Cache, res *resolver.Resolver, orch *build.Orchestrator, pool *queue.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:        cache,
		resolver:     res,
		orchestrator: orch,
		pool:         pool,
		logger:       logger,
	}
}

// Orchestrator returns the build orchestrator.
func (s *Service) Orchestrator() *build.Orchestrator {
	return s.orchestrator
}

// Pool returns the worker pool.
func (s *Service) Pool() *queue.Pool {
	return s.pool
}

// Cache returns the workspace cache.
func (s *Service) Cache() *workspace.Cache {
	return s.cache
}

// Compile runs a request on the pool. On success the caller must Close the outcome
// after consuming the artifact. On failure every resource is already released; the
// outcome is still returned when the pipeline ran, so its log can be inspected.
func (s *Service) Compile(ctx context.Context, req Request) (*Outcome, error) {
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	spec := queue.Spec{
		ProjectID: req.ProjectID,
		Engine:    req.Engine,
		Mode:      string(req.Mode),
		Source:    req.Source,
	}

	// The project lock is taken before queueing so that waiters for a busy
	// project do not occupy workers other projects could use.
	var unlock func()
	if req.ProjectID != "" {
		u, err := s.cache.Locks().Lock(ctx, workspace.Key(req.ProjectID))
		if err != nil {
			return nil, withStage(err, "workspace")
		}
		unlock = u
	}

	var outcome *Outcome
	claimed := false
	res, err := s.pool.Do(ctx, spec, func(ctx context.Context, buildID string) (*build.Result, error) {
		claimed = true
		o, err := s.run(ctx, buildID, req, unlock)
		outcome = o
		if o == nil {
			return nil, err
		}
		return o.Result, err
	})
	// Do returns without running the task only when the job was rejected or
	// dropped while queued; the task then never runs, so the lock is still ours.
	if !claimed && unlock != nil {
		unlock()
	}
	if outcome == nil && res != nil {
		outcome = &Outcome{Result: res}
	}
	return outcome, err
}

func validate(req Request) error {
	switch req.Mode {
	case ModeFull:
		if len(req.Deleted) > 0 {
			return errors.ValidationError("deleted files require delta mode").Build()
		}
		if len(req.Files) == 0 && len(req.BinaryFiles) == 0 && req.Archive.IsEmpty() {
			return errors.ValidationError("no files received").Build()
		}
	case ModeDelta:
		if req.ProjectID == "" {
			return errors.ValidationError("delta mode requires a project id").Build()
		}
	default:
		_, err := ParseMode(string(req.Mode))
		return err
	}
	return nil
}

// run executes on a worker. Resources acquired here are released on every error
// path and handed to the Outcome otherwise; a panic unwinds through the deferred
// release before the pool recovers it.
func (s *Service) run(ctx context.Context, buildID string, req Request, unlock func()) (*Outcome, error) {
	logger := s.logger.With(logfields.BuildID(buildID))
	var releases []func()
	if unlock != nil {
		releases = append(releases, unlock)
	}
	handedOff := false
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	defer func() {
		if !handedOff {
			release()
		}
	}()

	root, err := s.workspaceFor(req, logger, &releases)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.ApplyDelta(root, req.Delta()); err != nil {
		return nil, withStage(err, "workspace")
	}

	resolution, err := s.resolver.ResolveDetailed(root, req.MainFile)
	if err != nil {
		return nil, withStage(err, "resolve")
	}

	result, err := s.orchestrator.Run(ctx, build.Request{
		BuildID:     buildID,
		Root:        root,
		MainFile:    resolution.Path,
		Engine:      req.Engine,
		PassTimeout: req.PassTimeout,
	})
	if result == nil {
		return nil, withStage(err, "compile")
	}
	if err != nil {
		return &Outcome{Result: result, Rule: resolution.Rule}, withStage(err, "compile")
	}
	handedOff = true
	return &Outcome{Result: result, Rule: resolution.Rule, release: release}, nil
}

// workspaceFor returns the project workspace, whose lock the caller already
// holds, or creates a scratch directory for stateless requests. Cleanup
// functions are appended to releases.
func (s *Service) workspaceFor(req Request, logger *slog.Logger, releases *[]func()) (string, error) {
	if req.ProjectID == "" {
		scratch, err := s.cache.Scratch()
		if err != nil {
			return "", withStage(err, "workspace")
		}
		*releases = append(*releases, func() {
			if err := scratch.Cleanup(); err != nil {
				logger.Warn("Scratch cleanup failed", logfields.Error(err))
			}
		})
		return scratch.Path(), nil
	}

	var (
		root string
		err  error
	)
	if req.Mode == ModeDelta {
		root, err = s.cache.RequireExisting(req.ProjectID)
	} else {
		root, err = s.cache.Acquire(req.ProjectID)
	}
	if err != nil {
		return "", withStage(err, "workspace")
	}
	logger.Debug("Workspace ready", logfields.ProjectID(req.ProjectID), logfields.Workspace(workspace.Key(req.ProjectID)))
	return root, nil
}

func withStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	c, ok := errors.AsClassified(err)
	if !ok {
		return errors.WrapError(err, errors.CategoryInternal, "build failed").WithContext("stage", stage).Build()
	}
	if _, set := c.Context().GetString("stage"); set {
		return err
	}
	return c.WithContext("stage", stage)
}
