package workspace

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
)

// keyLength is the number of hex characters of the BLAKE3 digest used as directory name.
const keyLength = 16

// Key derives the workspace directory name for a project identifier.
func Key(projectID string) string {
	sum := blake3.Sum256([]byte(projectID))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// IsKey reports whether name has the shape of a workspace key.
func IsKey(name string) bool {
	if len(name) != keyLength {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

// Cache owns the persistent per-project workspaces below a root directory.
type Cache struct {
	root       string
	scratchDir string
	locks      *Locks
	recorder   metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	lastUse map[string]time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRecorder reports cache misses and lock contention to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Cache) { c.recorder = metrics.OrNoop(r) }
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScratchDir sets the parent directory for scratch workspaces.
func WithScratchDir(dir string) Option {
	return func(c *Cache) { c.scratchDir = dir }
}

// WithClock replaces time.Now for last-use bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates the root directory if needed and returns a cache over it.
func NewCache(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, errors.ConfigError("workspace root must not be empty").Build()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid workspace root").
			WithContext("path", root).
			Build()
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to create workspace root").
			WithContext("path", abs).
			Build()
	}

	c := &Cache{
		root:     abs,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		lastUse:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.locks = NewLocks(c.recorder.IncLockContention)
	return c, nil
}

// Root returns the absolute cache root.
func (c *Cache) Root() string { return c.root }

// Locks returns the per-project lock table.
func (c *Cache) Locks() *Locks { return c.locks }

// PathFor returns the workspace directory for a project without touching disk.
func (c *Cache) PathFor(projectID string) string {
	return filepath.Join(c.root, Key(projectID))
}

// Acquire returns the project's workspace root, creating it if missing.
func (c *Cache) Acquire(projectID string) (string, error) {
	if projectID == "" {
		return "", errors.ValidationError("project id must not be empty").Build()
	}
	key := Key(projectID)
	dir := filepath.Join(c.root, key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "failed to create workspace").
			WithContext("workspace", key).
			Build()
	}
	c.touch(key)
	return dir, nil
}

// RequireExisting returns the project's workspace root, or a cache-miss error if it
// was never created (or has been evicted). It never creates anything.
func (c *Cache) RequireExisting(projectID string) (string, error) {
	if projectID == "" {
		return "", errors.ValidationError("project id must not be empty").Build()
	}
	key := Key(projectID)
	dir := filepath.Join(c.root, key)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		c.recorder.IncCacheMiss()
		return "", errors.CacheMissError("CACHE_MISS").
			WithContext("project_id", projectID).
			WithContext("hint", "resend the complete fileset").
			Build()
	}
	c.touch(key)
	return dir, nil
}

// ApplyDelta validates the whole delta, then applies deletions followed by upserts
// below root. It returns the number of applied entries. root may be a project
// workspace or a scratch directory.
func (c *Cache) ApplyDelta(root string, delta FileDelta) (int, error) {
	prepared, err := prepare(delta)
	if err != nil {
		return 0, err
	}
	applied, err := prepared.apply(root)
	if key, ok := c.keyOf(root); ok {
		c.touch(key)
	}
	c.recorder.ObserveDeltaEntries(applied)
	if err != nil {
		return applied, err
	}
	c.logger.Debug("Applied file delta", logfields.Path(root), logfields.Applied(applied))
	return applied, nil
}

// Scratch creates an ephemeral workspace; callers defer its Cleanup.
func (c *Cache) Scratch() (*Scratch, error) {
	return newScratch(c.scratchDir, c.logger)
}

// Idle returns the keys of workspaces unused for longer than maxIdle, sorted.
// Workspaces not seen by this process fall back to their directory mtime.
func (c *Cache) Idle(maxIdle time.Duration) ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "failed to list workspaces").Build()
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	var idle []string
	for _, e := range entries {
		if !e.IsDir() || !IsKey(e.Name()) {
			continue
		}
		last, ok := c.lastUse[e.Name()]
		if !ok {
			info, err := e.Info()
			if err != nil {
				continue
			}
			last = info.ModTime()
		}
		if now.Sub(last) > maxIdle {
			idle = append(idle, e.Name())
		}
	}
	slices.Sort(idle)
	return idle, nil
}

// LastUsed returns the recorded last-use time of a workspace key.
func (c *Cache) LastUsed(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastUse[key]
	return t, ok
}

// Evict removes a workspace by key. The caller must hold the key's lock.
func (c *Cache) Evict(key string) error {
	if !IsKey(key) {
		return errors.ValidationError(fmt.Sprintf("invalid workspace key %q", key)).Build()
	}
	if err := os.RemoveAll(filepath.Join(c.root, key)); err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to evict workspace").
			WithContext("workspace", key).
			Build()
	}
	c.mu.Lock()
	delete(c.lastUse, key)
	c.mu.Unlock()
	c.recorder.IncWorkspaceEvicted()
	c.logger.Info("Evicted workspace", logfields.Workspace(key))
	return nil
}

func (c *Cache) touch(key string) {
	c.mu.Lock()
	c.lastUse[key] = c.now()
	c.mu.Unlock()
}

func (c *Cache) keyOf(dir string) (string, bool) {
	if filepath.Dir(filepath.Clean(dir)) != c.root {
		return "", false
	}
	key := filepath.Base(dir)
	return key, IsKey(key)
}
