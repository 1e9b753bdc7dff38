// Package textx holds small text helpers shared across the gateway.
package textx

import "strings"

// SanitizeText drops control characters, keeping tabs and line breaks, and
// trims surrounding whitespace. Statement text and driver errors pass
// through here before being stored for prompt building.
func SanitizeText(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return r
		case r < 32 || r == 127:
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(cleaned)
}
