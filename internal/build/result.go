package build

import (
	"os"
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Pass labels used in logs, records and metrics.
const (
	PassPrimary      = "pass1"
	PassBibliography = "bibliography"
	PassSecond       = "pass2"
	PassThird        = "pass3"
)

// PassRecord describes one executed toolchain invocation.
type PassRecord struct {
	Name     string        `json:"name"`
	Tool     string        `json:"tool"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Launched bool          `json:"launched"`
}

// IsEngine reports whether the record is an engine pass.
func (p PassRecord) IsEngine() bool {
	return p.Name != PassBibliography
}

// Result is the outcome of one build. It is not modified after Run returns.
type Result struct {
	BuildID   string
	Success   bool
	Engine    string
	MainFile  string // relative to the workspace root, slash separated
	Passes    []PassRecord
	StartedAt time.Time
	Duration  time.Duration

	log          string
	artifactPath string
	tailBytes    int
}

// Log returns the full combined log.
func (r *Result) Log() string {
	return r.log
}

// LogTail returns at most n trailing bytes of the log.
func (r *Result) LogTail(n int) string {
	return tail(r.log, n)
}

// Tail returns the log tail sized by the build configuration.
func (r *Result) Tail() string {
	return tail(r.log, r.tailBytes)
}

// EnginePasses counts executed engine passes (bibliography excluded).
func (r *Result) EnginePasses() int {
	n := 0
	for _, p := range r.Passes {
		if p.IsEngine() {
			n++
		}
	}
	return n
}

// ArtifactName is the conventional download name, <main base>.pdf.
func (r *Result) ArtifactName() string {
	base := path.Base(r.MainFile)
	return strings.TrimSuffix(base, path.Ext(base)) + ".pdf"
}

// ArtifactPath returns the PDF location, or "" when the build failed.
func (r *Result) ArtifactPath() string {
	if !r.Success {
		return ""
	}
	return r.artifactPath
}

// OpenArtifact opens the produced PDF. It fails for unsuccessful builds.
func (r *Result) OpenArtifact() (*os.File, error) {
	if !r.Success {
		return nil, errors.NotFoundError("build produced no artifact").
			WithContext("build_id", r.BuildID).
			Build()
	}
	f, err := os.Open(r.artifactPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "failed to open artifact").
			WithContext("build_id", r.BuildID).
			Build()
	}
	return f, nil
}
