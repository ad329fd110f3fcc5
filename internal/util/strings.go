// Package util provides string helpers shared by the CLI tables and the
// dashboard.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks text that was cut.
const Ellipsis = "…"

// Truncate flattens s onto one line and cuts it to maxLen runes, ending in
// Ellipsis when cut. It does not account for ANSI escape codes or wide
// characters; use TruncateANSI for styled output.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + Ellipsis
}

// TruncateANSI cuts s to maxWidth terminal columns, keeping escape
// sequences intact and ending in Ellipsis when cut.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// ShortID returns the first eight characters of a task id, enough to tell
// tasks apart in a table.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
