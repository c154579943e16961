package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
)

// Scratch is an ephemeral request-scoped build directory.
type Scratch struct {
	path   string
	logger *slog.Logger
}

// newScratch creates a timestamped directory below baseDir (the OS temp dir when empty).
func newScratch(baseDir string, logger *slog.Logger) (*Scratch, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "failed to create scratch base directory").
			WithContext("path", baseDir).
			Build()
	}
	pattern := fmt.Sprintf("texbuilder-%s-*", time.Now().Format("20060102-150405"))
	dir, err := os.MkdirTemp(baseDir, pattern)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "failed to create scratch directory").
			WithContext("path", baseDir).
			Build()
	}
	logger.Debug("Created scratch workspace", logfields.Path(dir))
	return &Scratch{path: dir, logger: logger}, nil
}

// Path returns the scratch directory.
func (s *Scratch) Path() string {
	return s.path
}

// Cleanup removes the scratch directory. Calling it again is a no-op.
func (s *Scratch) Cleanup() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to cleanup scratch workspace: %w", err)
	}
	s.logger.Debug("Cleaned up scratch workspace", logfields.Path(s.path))
	s.path = ""
	return nil
}
