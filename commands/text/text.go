// Package text formats command help text.
package text

import (
	"strings"
)

// Indentation is the indentation of example lines in help output.
const Indentation = `  `

// LongDesc trims the surrounding whitespace of a long description written as an indented raw
// string, and dedents its lines.
func LongDesc(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	return strings.Join(lines, "\n")
}

// Examples trims an examples block and indents every line by Indentation.
func Examples(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = Indentation + strings.TrimSpace(line)
	}

	return strings.Join(lines, "\n")
}
