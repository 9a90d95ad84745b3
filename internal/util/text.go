package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// RuneLen counts characters the way the platform does for the length limit.
func RuneLen(s string) int { return len([]rune(s)) }

// TruncateRunes cuts s to at most n characters, appending an ellipsis when cut.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

// EqualFold reports case-insensitive username equality.
func EqualFold(a, b string) bool { return strings.EqualFold(a, b) }
