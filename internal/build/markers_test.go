package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsRerun(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"clean", "Output written on main.pdf (1 page).", false},
		{"cross references", "LaTeX Warning: Label(s) may have changed. Rerun to get cross-references right.", true},
		{"citations", "Package natbib Warning: Rerun to get citations correct.", true},
		{"undefined refs", "LaTeX Warning: There were undefined references.", true},
		{"undefined citations", "Package biblatex Warning: Please rerun LaTeX. There were undefined citations.", true},
		{"wrapped at 79 columns", "LaTeX Warning: Label(s) may have changed. Rerun to get cross-references righ\nt.", true},
		{"wrapped with CRLF", "Rerun to get citations cor\r\nrect", true},
		{"unrelated warning", "Overfull \\hbox (badness 10000)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRerun(tt.output))
		})
	}
}

func TestHasCitations(t *testing.T) {
	assert.True(t, HasCitations([]byte("\\relax\n\\citation{lamport94}\n")))
	assert.True(t, HasCitations([]byte("\\bibdata{refs}\n")))
	assert.False(t, HasCitations([]byte("\\relax\n\\newlabel{sec:intro}{{1}{1}}\n")))
	assert.False(t, HasCitations(nil))
}

func TestDecodeOutput(t *testing.T) {
	assert.Equal(t, "plain ascii", decodeOutput([]byte("plain ascii")))
	assert.Equal(t, "naïve", decodeOutput([]byte("naïve")))
	assert.Equal(t, "caf\u00e9", decodeOutput([]byte{'c', 'a', 'f', 0xe9}))
}
