// Package stats renders transfer throughput in the short form tpad prints
// after every completed transfer, e.g. "(3MB) [2s] {1.500MB/s}".
package stats

import (
	"fmt"
	"strings"
	"time"
)

// Format uses decimal units. Durations are truncated to whole minutes or
// seconds; anything up to a second is shown in microseconds.
func Format(bytes int64, d time.Duration) string {
	var b strings.Builder
	switch {
	case bytes > 1_000_000:
		fmt.Fprintf(&b, "(%dMB)", bytes/1_000_000)
	case bytes > 1_000:
		fmt.Fprintf(&b, "(%dKB)", bytes/1_000)
	default:
		fmt.Fprintf(&b, "(%dB)", bytes)
	}

	usec := d.Microseconds()
	if usec <= 0 {
		return b.String()
	}
	switch {
	case d > time.Minute:
		fmt.Fprintf(&b, " [%dm]", usec/60_000_000)
	case d > time.Second:
		fmt.Fprintf(&b, " [%ds]", usec/1_000_000)
	default:
		fmt.Fprintf(&b, " [%du]", usec)
	}
	// bytes per microsecond is MB/s
	fmt.Fprintf(&b, " {%3.3fMB/s}", float64(bytes)/float64(usec))
	return b.String()
}
