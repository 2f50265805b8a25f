// Package stringutil provides small string helpers shared across the CLI
// and telemetry code.
package stringutil

import "unicode/utf8"

// Ellipsis shortens s to at most max runes, replacing the tail with "..."
// when truncation happens. A max below 4 returns the bare truncation
// without the suffix.
func Ellipsis(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max < 4 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
