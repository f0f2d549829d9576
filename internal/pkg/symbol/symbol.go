// Package symbol normalizes equity tickers as they appear in filings and at
// the venue.
package symbol

import (
	"strings"
)

// placeholders are values filers put in the ticker column when the asset has none.
var placeholders = map[string]struct{}{
	"--": {}, "-": {}, "N/A": {}, "NA": {}, "NONE": {}, "NULL": {},
}

// Normalize uppercases s, drops a leading "$", inner whitespace and any
// ":EXCHANGE" suffix. Placeholders normalize to "".
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "$")
	s = strings.Join(strings.Fields(s), "")
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if _, ok := placeholders[s]; ok {
		return ""
	}
	return s
}

// IsValid reports whether s normalizes to a plausible listed ticker: letters,
// digits, "." or "/" class separators, at most 10 characters.
func IsValid(s string) bool {
	norm := Normalize(s)
	if norm == "" || len(norm) > 10 {
		return false
	}
	for _, r := range norm {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '/', r == '-':
		default:
			return false
		}
	}
	return true
}
