package identity

import (
	"regexp"
	"strings"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether a normalized username is acceptable:
// 3 to 32 characters of [a-z0-9_.-], starting with a letter or digit.
func ValidUsername(norm string) bool {
	return usernameRe.MatchString(norm)
}
