package utils

import "strings"

// CollapseWhitespace trims the string and collapses runs of whitespace
// (including newlines and tabs) into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns s cut to at most n runes, with "..." appended when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
