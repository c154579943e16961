// Package resolver locates the entry document of a LaTeX project.
package resolver

import (
	"bytes"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

const (
	// DocumentExt is the extension of candidate entry documents.
	DocumentExt = ".tex"
	mainName    = "main.tex"

	defaultScanBytes = 1 << 20
)

var documentClass = []byte(`\documentclass`)

// Rule names the resolution step that produced a result.
type Rule string

const (
	RuleHint          Rule = "hint"
	RuleRootMain      Rule = "root_main"
	RuleNestedMain    Rule = "nested_main"
	RuleDocumentClass Rule = "documentclass"
	RuleFirst         Rule = "first_candidate"
)

// Resolution is the resolved entry document.
type Resolution struct {
	Path string // slash-separated, relative to the workspace root
	Rule Rule
}

// Resolver finds entry documents deterministically: identical trees and hints
// always resolve to the same file.
type Resolver struct {
	logger    *slog.Logger
	scanBytes int64
}

// New returns a Resolver. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, scanBytes: defaultScanBytes}
}

// Resolve returns the relative path of the entry document below root.
//
// Order: the hint if it names an existing regular file, main.tex at the root,
// main.tex anywhere, the first candidate containing \documentclass, the first
// candidate. Candidates are .tex files sorted lexicographically.
func (r *Resolver) Resolve(root, hint string) (string, error) {
	res, err := r.ResolveDetailed(root, hint)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// ResolveDetailed is Resolve that also reports which rule matched.
func (r *Resolver) ResolveDetailed(root, hint string) (Resolution, error) {
	if hint != "" {
		if rel, ok := r.hinted(root, hint); ok {
			return r.found(rel, RuleHint), nil
		}
		r.logger.Debug("Ignoring main file hint", logfields.MainFile(hint))
	}

	candidates, err := Candidates(root)
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) == 0 {
		return Resolution{}, errors.NotFoundError("no .tex file found in project").
			WithContext("hint", hint).
			Build()
	}

	for _, c := range candidates {
		if !strings.Contains(c, "/") && strings.EqualFold(c, mainName) {
			return r.found(c, RuleRootMain), nil
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(path.Base(c), mainName) {
			return r.found(c, RuleNestedMain), nil
		}
	}
	for _, c := range candidates {
		if r.hasDocumentClass(filepath.Join(root, filepath.FromSlash(c))) {
			return r.found(c, RuleDocumentClass), nil
		}
	}
	return r.found(candidates[0], RuleFirst), nil
}

func (r *Resolver) found(rel string, rule Rule) Resolution {
	r.logger.Debug("Resolved main file", logfields.MainFile(rel), slog.String("rule", string(rule)))
	return Resolution{Path: rel, Rule: rule}
}

func (r *Resolver) hinted(root, hint string) (string, bool) {
	rel, err := workspace.ValidatePath(hint)
	if err != nil {
		return "", false
	}
	info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return rel, true
}

func (r *Resolver) hasDocumentClass(file string) bool {
	f, err := os.Open(file)
	if err != nil {
		return false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, r.scanBytes))
	if err != nil {
		return false
	}
	return bytes.Contains(data, documentClass)
}

// Candidates lists the regular .tex files below root as sorted slash-separated
// relative paths.
func Candidates(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || filepath.Ext(d.Name()) != DocumentExt {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("project directory does not exist").
				WithContext("path", root).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryInternal, "failed to scan project").
			WithContext("path", root).
			Build()
	}
	slices.Sort(out)
	return out, nil
}
