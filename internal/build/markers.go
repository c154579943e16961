package build

import (
	"bytes"
	"strings"
)

// rerunMarkers are engine messages that mean another pass can change the output.
var rerunMarkers = []string{
	"Rerun to get cross-references right",
	"Rerun to get citations correct",
	"Label(s) may have changed",
	"There were undefined references",
	"undefined citations",
}

// auxCitationMarkers in a .aux file mean the bibliography processor has work to do.
var auxCitationMarkers = [][]byte{
	[]byte(`\citation`),
	[]byte(`\bibdata`),
}

// NeedsRerun reports whether engine output asks for another pass. Terminal output
// is hard-wrapped by the engine (max_print_line), so markers are also searched with
// line breaks removed.
func NeedsRerun(output string) bool {
	if containsMarker(output) {
		return true
	}
	unwrapped := strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(output)
	return containsMarker(unwrapped)
}

func containsMarker(s string) bool {
	for _, m := range rerunMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// HasCitations reports whether aux content references citations or a bibliography database.
func HasCitations(aux []byte) bool {
	for _, m := range auxCitationMarkers {
		if bytes.Contains(aux, m) {
			return true
		}
	}
	return false
}
