package build

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// logBuilder accumulates the combined build log.
type logBuilder struct {
	sb strings.Builder
}

// pass appends a boundary line followed by the pass output.
func (l *logBuilder) pass(label, tool string, exitCode int, output []byte) {
	fmt.Fprintf(&l.sb, "=== %s (%s) exit=%d ===\n", label, tool, exitCode)
	text := decodeOutput(output)
	l.sb.WriteString(text)
	if text != "" && !strings.HasSuffix(text, "\n") {
		l.sb.WriteByte('\n')
	}
}

// note appends a texbuilder diagnostic line.
func (l *logBuilder) note(format string, args ...any) {
	l.sb.WriteString("% texbuilder: ")
	fmt.Fprintf(&l.sb, format, args...)
	l.sb.WriteByte('\n')
}

func (l *logBuilder) String() string {
	return l.sb.String()
}

// decodeOutput returns output as UTF-8. Engines running with 8-bit terminal
// encodings emit Latin-1; such output is decoded as ISO-8859-1.
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(decoded)
}

// tail returns at most n trailing bytes of s without splitting a UTF-8 sequence.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
