package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/config"
)

type recordingReloader struct {
	mu      sync.Mutex
	current *config.Config
	reloads []*config.Config
}

func (r *recordingReloader) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *recordingReloader) ReloadConfig(cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = cfg
	r.reloads = append(r.reloads, cfg)
	return nil
}

func (r *recordingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reloads)
}

func writeConfig(t *testing.T, path, engine string) {
	t.Helper()
	doc := "version: \"1.0\"\n" +
		"build:\n  default_engine: " + engine + "\n" +
		"workspace:\n  root: " + filepath.Join(filepath.Dir(path), "ws") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	for _, k := range []string{"LATEX_ENGINE", "PORT", "PERSISTENT_STORAGE"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "texbuilder.yaml")
	writeConfig(t, path, "pdflatex")
	initial, err := config.Load(path)
	require.NoError(t, err)

	target := &recordingReloader{current: initial}
	cw, err := NewConfigWatcher(path, target, nil)
	require.NoError(t, err)
	cw.debounceTime = 50 * time.Millisecond
	require.NoError(t, cw.Start(t.Context()))
	t.Cleanup(func() { _ = cw.Stop() })

	writeConfig(t, path, "lualatex")

	require.Eventually(t, func() bool {
		cfg := target.Config()
		return cfg != nil && cfg.Build.DefaultEngine == "lualatex"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcherIgnoresOtherFilesAndBadConfig(t *testing.T) {
	for _, k := range []string{"LATEX_ENGINE", "PORT", "PERSISTENT_STORAGE"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "texbuilder.yaml")
	writeConfig(t, path, "pdflatex")

	target := &recordingReloader{}
	cw, err := NewConfigWatcher(path, target, nil)
	require.NoError(t, err)
	cw.debounceTime = 20 * time.Millisecond
	require.NoError(t, cw.Start(t.Context()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("build:\n  default_engine: troff\n"), 0o600))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, target.count(), "invalid configuration must not be applied")

	require.NoError(t, cw.Stop())
	require.NoError(t, cw.Stop())
}
