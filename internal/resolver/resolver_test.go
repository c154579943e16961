package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	return root
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		hint  string
		want  string
		rule  Rule
	}{
		{
			name:  "root main wins over nested main",
			files: map[string]string{"main.tex": "root", "chapter/main.tex": "nested"},
			want:  "main.tex",
			rule:  RuleRootMain,
		},
		{
			name:  "root main compared case-insensitively",
			files: map[string]string{"Main.TEX.bak": "", "MAIN.tex": "x", "a.tex": `\documentclass{article}`},
			want:  "MAIN.tex",
			rule:  RuleRootMain,
		},
		{
			name:  "hint beats main",
			files: map[string]string{"main.tex": "", "thesis.tex": ""},
			hint:  "thesis.tex",
			want:  "thesis.tex",
			rule:  RuleHint,
		},
		{
			name:  "missing hint falls through",
			files: map[string]string{"main.tex": ""},
			hint:  "gone.tex",
			want:  "main.tex",
			rule:  RuleRootMain,
		},
		{
			name:  "traversal hint ignored",
			files: map[string]string{"doc.tex": ""},
			hint:  "../../etc/passwd",
			want:  "doc.tex",
			rule:  RuleFirst,
		},
		{
			name:  "directory hint ignored",
			files: map[string]string{"sub/x.tex": "", "z.tex": ""},
			hint:  "sub",
			want:  "sub/x.tex",
			rule:  RuleFirst,
		},
		{
			name:  "nested main lexicographically first",
			files: map[string]string{"b/main.tex": "", "a/main.tex": "", "0.tex": ""},
			want:  "a/main.tex",
			rule:  RuleNestedMain,
		},
		{
			name:  "documentclass candidate",
			files: map[string]string{"a.tex": `\section{x}`, "b.tex": `\documentclass{book}`, "c.tex": `\documentclass{article}`},
			want:  "b.tex",
			rule:  RuleDocumentClass,
		},
		{
			name:  "first candidate fallback",
			files: map[string]string{"zeta.tex": "", "alpha.tex": "", "notes.txt": `\documentclass{x}`},
			want:  "alpha.tex",
			rule:  RuleFirst,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeTree(t, tt.files)
			res, err := New(nil).ResolveDetailed(root, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Path)
			assert.Equal(t, tt.rule, res.Rule)
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	root := writeTree(t, map[string]string{"c.tex": "", "a/b.tex": "", "b.tex": ""})
	r := New(nil)
	first, err := r.Resolve(root, "")
	require.NoError(t, err)
	for range 5 {
		again, err := r.Resolve(root, "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a/b.tex", first)
}

func TestResolveNotFound(t *testing.T) {
	root := writeTree(t, map[string]string{"readme.md": "", "refs.bib": ""})
	_, err := New(nil).Resolve(root, "")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	_, err = New(nil).Resolve(filepath.Join(root, "missing"), "")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestCandidatesSkipsSymlinks(t *testing.T) {
	root := writeTree(t, map[string]string{"real.tex": ""})
	require.NoError(t, os.Symlink(filepath.Join(root, "real.tex"), filepath.Join(root, "link.tex")))

	got, err := Candidates(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.tex"}, got)
}
