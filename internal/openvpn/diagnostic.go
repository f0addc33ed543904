package openvpn

import (
	"fmt"
	"strconv"
	"strings"
)

// Diagnostic describes a row or field that a lenient parser skipped or
// replaced with a default value.
type Diagnostic struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// String formats the diagnostic for log output
func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line, d.Reason)
}

// diagnostics collects advisory messages while a file is scanned
type diagnostics []Diagnostic

func (d *diagnostics) add(line int, format string, args ...interface{}) {
	*d = append(*d, Diagnostic{Line: line, Reason: fmt.Sprintf(format, args...)})
}

// parseCounter parses a byte counter. Anything that is not a non-negative
// base-10 integer yields zero and ok == false.
func parseCounter(s string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
