package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine string

const (
	enginePDF engine = "pdflatex"
	engineXe  engine = "xelatex"
	engineLua engine = "lualatex"
)

func engines() *Normalizer[engine] {
	return NewNormalizer(map[string]engine{
		"pdflatex": enginePDF,
		"XeLaTeX":  engineXe,
		"lualatex": engineLua,
	}, enginePDF)
}

func TestNormalize(t *testing.T) {
	n := engines()
	tests := []struct {
		name     string
		input    string
		expected engine
	}{
		{"exact match", "xelatex", engineXe},
		{"case insensitive", "LuaLaTeX", engineLua},
		{"with spaces", "  pdflatex\t", enginePDF},
		{"unknown falls back to default", "troff", enginePDF},
		{"empty falls back to default", "", enginePDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Normalize(tt.input))
		})
	}
}

func TestLookupAndError(t *testing.T) {
	n := engines()

	v, ok := n.Lookup(" XELATEX ")
	assert.True(t, ok)
	assert.Equal(t, engineXe, v)

	_, ok = n.Lookup("context")
	assert.False(t, ok)

	_, err := n.NormalizeWithError("context")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"context"`)
	assert.Contains(t, err.Error(), "[lualatex pdflatex xelatex]")
}

func TestValidKeysIsSortedCopy(t *testing.T) {
	n := engines()
	keys := n.ValidKeys()
	assert.Equal(t, []string{"lualatex", "pdflatex", "xelatex"}, keys)

	keys[0] = "mutated"
	assert.Equal(t, "lualatex", n.ValidKeys()[0])
}
