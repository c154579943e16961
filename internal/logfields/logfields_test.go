package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"ProjectID", KeyProjectID, "thesis", ProjectID("thesis")},
		{"Workspace", KeyWorkspace, "af1349b9f5f9a1a6", Workspace("af1349b9f5f9a1a6")},
		{"BuildID", KeyBuildID, "b-1", BuildID("b-1")},
		{"JobStatus", KeyJobStatus, "queued", JobStatus("queued")},
		{"Engine", KeyEngine, "xelatex", Engine("xelatex")},
		{"Pass", KeyPass, "pass2", Pass("pass2")},
		{"Tool", KeyTool, "bibtex", Tool("bibtex")},
		{"MainFile", KeyMainFile, "chapters/main.tex", MainFile("chapters/main.tex")},
		{"Mode", KeyMode, "delta", Mode("delta")},
		{"ScheduleName", KeySchedule, "workspace-sweep", ScheduleName("workspace-sweep")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"File", KeyFile, "refs.bib", File("refs.bib")},
		{"Worker", KeyWorker, "w1", Worker("w1")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"UserAgent", KeyUserAgent, "ua", UserAgent("ua")},
		{"RemoteAddr", KeyRemoteAddr, "1.2.3.4", RemoteAddr("1.2.3.4")},
		{"RequestID", KeyRequestID, "rid", RequestID("rid")},
		{"Name", KeyName, "n", Name("n")},
		{"URL", KeyURL, "nats://localhost:4222", URL("nats://localhost:4222")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := ExitCode(1); v.Key != KeyExitCode {
		t.Fatalf("ExitCode key mismatch: %s", v.Key)
	}
	if v := Status(200); v.Key != KeyStatus {
		t.Fatalf("Status key mismatch: %s", v.Key)
	}
	if v := ResponseSize(42); v.Key != KeyResponseSz {
		t.Fatalf("ResponseSize key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
	if v := ContentLength(1234); v.Key != KeyContentLen {
		t.Fatalf("ContentLength key mismatch: %s", v.Key)
	}
	if v := Applied(3); v.Key != KeyApplied || v.Value.Int64() != 3 {
		t.Fatalf("Applied mismatch: %v", v)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
