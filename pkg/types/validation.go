package types

import (
	"regexp"
)

// Compiled once; these run on every inbound frame.
var (
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	joinCodeRegex  = regexp.MustCompile(`^[0-9A-F]{12}$`)
)

// HighlightPalette is the fixed set of colors a highlight may use.
var HighlightPalette = []string{"yellow", "green", "blue", "red"}

// IsValidSessionID checks the session id format: 1-64 characters,
// alphanumeric plus underscore and hyphen (covers uuids).
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(id)
}

// IsValidUserID applies the same format rule to user ids carried in credentials.
func IsValidUserID(id string) bool {
	return IsValidSessionID(id)
}

// IsValidJoinCode checks the 12 upper-case hex character join code format.
func IsValidJoinCode(code string) bool {
	return joinCodeRegex.MatchString(code)
}

// IsPaletteColor reports whether color is in HighlightPalette.
func IsPaletteColor(color string) bool {
	for _, c := range HighlightPalette {
		if c == color {
			return true
		}
	}
	return false
}
