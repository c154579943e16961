package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProjectID   = "project_id"
	KeyWorkspace   = "workspace"
	KeyBuildID     = "build_id"
	KeyJobStatus   = "job_status"
	KeyEngine      = "engine"
	KeyPass        = "pass"
	KeyTool        = "tool"
	KeyExitCode    = "exit_code"
	KeyMainFile    = "main_file"
	KeyMode        = "mode"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeyScheduleID  = "schedule_id"
	KeySchedule    = "schedule_name"
	KeyError       = "error"
	KeyPath        = "path"
	KeyFile        = "file"
	KeyWorker      = "worker"
	KeyMethod      = "method"
	KeyStatus      = "status"
	KeyUserAgent   = "user_agent"
	KeyRemoteAddr  = "remote_addr"
	KeyRequestID   = "request_id"
	KeyResponseSz  = "response_size"
	KeyContentLen  = "content_length"
	KeyApplied     = "applied"
	KeyName        = "name"
	KeyURL         = "url"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func ProjectID(id string) slog.Attr     { return slog.String(KeyProjectID, id) }
func Workspace(key string) slog.Attr    { return slog.String(KeyWorkspace, key) }
func BuildID(id string) slog.Attr       { return slog.String(KeyBuildID, id) }
func JobStatus(s string) slog.Attr      { return slog.String(KeyJobStatus, s) }
func Engine(name string) slog.Attr      { return slog.String(KeyEngine, name) }
func Pass(label string) slog.Attr       { return slog.String(KeyPass, label) }
func Tool(name string) slog.Attr        { return slog.String(KeyTool, name) }
func ExitCode(code int) slog.Attr       { return slog.Int(KeyExitCode, code) }
func MainFile(rel string) slog.Attr     { return slog.String(KeyMainFile, rel) }
func Mode(m string) slog.Attr           { return slog.String(KeyMode, m) }
func Stage(name string) slog.Attr       { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func ScheduleID(id string) slog.Attr    { return slog.String(KeyScheduleID, id) }
func ScheduleName(n string) slog.Attr   { return slog.String(KeySchedule, n) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func File(f string) slog.Attr           { return slog.String(KeyFile, f) }
func Worker(id string) slog.Attr        { return slog.String(KeyWorker, id) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr     { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(a string) slog.Attr     { return slog.String(KeyRemoteAddr, a) }
func RequestID(id string) slog.Attr     { return slog.String(KeyRequestID, id) }
func ResponseSize(n int) slog.Attr      { return slog.Int(KeyResponseSz, n) }
func ContentLength(n int64) slog.Attr   { return slog.Int64(KeyContentLen, n) }
func Applied(n int) slog.Attr           { return slog.Int(KeyApplied, n) }
func Name(n string) slog.Attr           { return slog.String(KeyName, n) }
func URL(u string) slog.Attr            { return slog.String(KeyURL, u) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
