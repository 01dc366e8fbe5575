package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codePattern    = regexp.MustCompile(`^[a-z][a-z0-9_\-]{0,63}$`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateCode validates a business type or template code: lower case,
// starting with a letter, at most 64 characters
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("invalid code format: %q", code)
	}
	return nil
}

// SanitizeString removes control characters other than tab and newlines and trims space
func SanitizeString(s string) string {
	return strings.TrimSpace(controlPattern.ReplaceAllString(s, ""))
}
