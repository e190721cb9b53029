package u

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatSize formats a number in a human-readable form e.g. 1.2 kB
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// FormatCount formats n with thousands separators e.g. 100,000
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration formats duration in a more human friendly way
// than time.Duration.String()
func FormatDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "µs") {
		// for µs we don't want fractions
		parts := strings.Split(s, ".")
		if len(parts) > 1 {
			return parts[0] + " µs"
		}
		return strings.ReplaceAll(s, "µs", " µs")
	}
	if strings.HasSuffix(s, "ms") {
		// for ms we only want 2 digit fractions
		parts := strings.Split(s, ".")
		if len(parts) > 1 && len(parts[1]) > 4 {
			return parts[0] + "." + parts[1][:2] + " ms"
		}
		return strings.ReplaceAll(s, "ms", " ms")
	}
	return s
}
