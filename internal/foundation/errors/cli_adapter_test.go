package errors

import (
	"log/slog"
	"strings"
	"testing"
)

type customError struct {
	msg string
}

func (e *customError) Error() string { return e.msg }

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "validation", err: ValidationError("invalid input").Build(), expected: 2},
		{name: "cache miss", err: CacheMissError("no workspace").Build(), expected: 3},
		{name: "timeout", err: TimeoutError("deadline").Build(), expected: 4},
		{name: "auth", err: AuthError("unauthorized").Build(), expected: 5},
		{name: "config", err: ConfigError("pdflatex missing").Build(), expected: 7},
		{name: "compilation", err: CompilationError("no pdf").Build(), expected: 11},
		{name: "runtime", err: RuntimeError("queue full").Build(), expected: 12},
		{name: "internal", err: InternalError("boom").Build(), expected: 10},
		{name: "unclassified error", err: &customError{msg: "unknown error"}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		err      error
		contains string
	}{
		{"nil", false, nil, ""},
		{"compilation message", false, CompilationError("no PDF produced").Build(), "Error: no PDF produced"},
		{"internal hidden", false, InternalError("nil map").Build(), "use -v for details"},
		{"verbose shows category", true, InternalError("nil map").Build(), "[internal:fatal] nil map"},
		{"unclassified", false, &customError{msg: "weird"}, "Error: weird"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewCLIErrorAdapter(tt.verbose, slog.Default())
			got := adapter.FormatError(tt.err)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("FormatError() = %q, want substring %q", got, tt.contains)
			}
		})
	}
}
