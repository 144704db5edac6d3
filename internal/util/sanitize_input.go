package util

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports markup or template fragments in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "}}", "script", "onerror", "onload", "javascript:"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// CollapseSpaces trims and folds runs of whitespace into one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
