package workspace

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := NewCache(filepath.Join(t.TempDir(), "ws"), opts...)
	require.NoError(t, err)
	return c
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestKey(t *testing.T) {
	k := Key("my thesis/../../etc")
	assert.Len(t, k, 16)
	assert.True(t, IsKey(k))
	assert.Equal(t, k, Key("my thesis/../../etc"), "key must be deterministic")
	assert.NotEqual(t, k, Key("other"))
	assert.False(t, IsKey("../../etc/passwd"))
	assert.False(t, IsKey("zzzzzzzzzzzzzzzz"))
}

func TestAcquireIsIdempotent(t *testing.T) {
	c := newTestCache(t)

	root1, err := c.Acquire("project-1")
	require.NoError(t, err)
	root2, err := c.Acquire("project-1")
	require.NoError(t, err)

	assert.Equal(t, root1, root2)
	assert.Equal(t, c.PathFor("project-1"), root1)
	assert.Equal(t, c.Root(), filepath.Dir(root1))
	assert.DirExists(t, root1)

	_, err = c.Acquire("")
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestRequireExistingCacheMiss(t *testing.T) {
	c := newTestCache(t)

	_, err := c.RequireExisting("never-seen")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryCacheMiss))
	assert.NoDirExists(t, c.PathFor("never-seen"), "RequireExisting must not create")

	root, err := c.Acquire("never-seen")
	require.NoError(t, err)
	got, err := c.RequireExisting("never-seen")
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestApplyDeltaWritesFiles(t *testing.T) {
	c := newTestCache(t)
	root, err := c.Acquire("p")
	require.NoError(t, err)

	png := []byte{0x89, 'P', 'N', 'G'}
	n, err := c.ApplyDelta(root, FileDelta{Upserts: []SourceFile{
		TextFile("main.tex", `\documentclass{article}`),
		TextFile("chapters/one.tex", "one"),
		BinaryFile("figs/logo.png", "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png)),
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, `\documentclass{article}`, readFile(t, root, "main.tex"))
	assert.Equal(t, "one", readFile(t, root, "chapters/one.tex"))
	assert.Equal(t, string(png), readFile(t, root, "figs/logo.png"))
}

func TestApplyDeltaRejectsWithoutMutation(t *testing.T) {
	c := newTestCache(t)
	root, err := c.Acquire("p")
	require.NoError(t, err)
	_, err = c.ApplyDelta(root, FileDelta{Upserts: []SourceFile{TextFile("keep.tex", "v1")}})
	require.NoError(t, err)

	bad := []FileDelta{
		{Upserts: []SourceFile{TextFile("ok.tex", "x"), TextFile("../escape.tex", "x")}},
		{Upserts: []SourceFile{TextFile("ok.tex", "x"), TextFile("/abs.tex", "x")}},
		{Upserts: []SourceFile{TextFile("ok.tex", "x"), BinaryFile("img.png", "!!!")}},
		{Deletions: []string{"keep.tex", "../../etc"}, Upserts: []SourceFile{TextFile("ok.tex", "x")}},
	}
	for i, d := range bad {
		n, err := c.ApplyDelta(root, d)
		require.Error(t, err, "delta %d", i)
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		assert.Zero(t, n)
		assert.NoFileExists(t, filepath.Join(root, "ok.tex"))
		assert.Equal(t, "v1", readFile(t, root, "keep.tex"))
	}
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.tex"))
}

func TestApplyDeltaDeletesBeforeUpserts(t *testing.T) {
	c := newTestCache(t)
	root, err := c.Acquire("p")
	require.NoError(t, err)

	_, err = c.ApplyDelta(root, FileDelta{Upserts: []SourceFile{
		TextFile("a.tex", "old"),
		TextFile("sections/x.tex", "x"),
		TextFile("sections/y.tex", "y"),
	}})
	require.NoError(t, err)

	n, err := c.ApplyDelta(root, FileDelta{
		Deletions: []string{"a.tex", "sections", "missing.tex"},
		Upserts:   []SourceFile{TextFile("a.tex", "new"), TextFile("sections/z.tex", "z")},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, "new", readFile(t, root, "a.tex"))
	assert.Equal(t, "z", readFile(t, root, "sections/z.tex"))
	assert.NoFileExists(t, filepath.Join(root, "sections", "x.tex"))
	assert.NoFileExists(t, filepath.Join(root, "sections", "y.tex"))
}

func TestIdleAndEvict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTestCache(t, WithClock(clock))

	oldRoot, err := c.Acquire("old")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = c.Acquire("fresh")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(c.Root(), "not-a-key"), 0o750))

	idle, err := c.Idle(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{Key("old")}, idle)

	require.NoError(t, c.Evict(Key("old")))
	assert.NoDirExists(t, oldRoot)
	_, ok := c.LastUsed(Key("old"))
	assert.False(t, ok)

	_, err = c.RequireExisting("old")
	assert.True(t, errors.HasCategory(err, errors.CategoryCacheMiss))

	assert.Error(t, c.Evict("../../tmp"))
}

func TestIdleFallsBackToModTime(t *testing.T) {
	c := newTestCache(t)
	dir := filepath.Join(c.Root(), Key("previous-run"))
	require.NoError(t, os.MkdirAll(dir, 0o750))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(dir, past, past))

	idle, err := c.Idle(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{Key("previous-run")}, idle)
}

func TestScratchCleanup(t *testing.T) {
	base := t.TempDir()
	c := newTestCache(t, WithScratchDir(base))

	s, err := c.Scratch()
	require.NoError(t, err)
	dir := s.Path()
	assert.DirExists(t, dir)
	assert.Equal(t, base, filepath.Dir(dir))
	assert.Contains(t, filepath.Base(dir), "texbuilder-")

	_, err = c.ApplyDelta(dir, FileDelta{Upserts: []SourceFile{TextFile("main.tex", "x")}})
	require.NoError(t, err)

	require.NoError(t, s.Cleanup())
	assert.NoDirExists(t, dir)
	require.NoError(t, s.Cleanup(), "second cleanup is a no-op")
}
