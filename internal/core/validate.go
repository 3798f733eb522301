package core

import "regexp"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether s is a legal room name or nickname.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}
