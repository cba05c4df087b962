package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@\-]{0,127}$`)
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// MaxCommentLength bounds free-text fields such as ledger comments and rejection reasons
const MaxCommentLength = 2000

// ValidateUserID checks an actor id taken from a token subject
func ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id: %q", id)
	}
	return nil
}

// SanitizeString removes control characters (keeping tab and newlines), trims surrounding
// whitespace and truncates to MaxCommentLength runes
func SanitizeString(s string) string {
	s = strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
	if runes := []rune(s); len(runes) > MaxCommentLength {
		s = string(runes[:MaxCommentLength])
	}
	return s
}
