package report

import (
	"fmt"
	"strconv"
	"strings"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with two decimals, dividing by 1024 until
// the value drops below 1024. Anything past TB is expressed in PB.
func FormatBytes(n uint64) string {
	v := float64(n)
	for _, unit := range byteUnits {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f PB", v)
}

// FormatInt is FormatBytes for signed input; negative counts render as "0 B"
func FormatInt(n int64) string {
	if n < 0 {
		return "0 B"
	}
	return FormatBytes(uint64(n))
}

// FormatString formats a textual byte count. Non-numeric or negative input
// renders as "0 B".
func FormatString(s string) string {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "0 B"
	}
	return FormatInt(n)
}
