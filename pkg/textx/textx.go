// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var spacesAroundNewline = regexp.MustCompile(`[ \t]*\n[ \t]*`)

// Normalize canonicalizes prompt text for fingerprinting: CRLF and lone CR
// become LF, outer whitespace is trimmed, and spaces adjacent to newlines are
// collapsed. Two prompts that differ only in line-ending or edge whitespace
// normalize to the same bytes.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spacesAroundNewline.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
