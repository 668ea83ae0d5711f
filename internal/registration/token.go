// Package registration onboards unknown phones through single-use invite
// codes issued by a tenant administrator.
package registration

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Invite codes avoid 0/O and 1/I so they survive being read aloud.
var tokenPattern = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}$`)

// MaxNameLength bounds the display name accepted during registration.
const MaxNameLength = 60

var (
	ErrNameBlank   = errors.New("registration: name is blank")
	ErrNameTooLong = errors.New("registration: name is too long")
)

// IsToken reports whether text has the shape of an invite code.
func IsToken(text string) bool {
	return tokenPattern.MatchString(NormalizeToken(text))
}

// NormalizeToken upper-cases and trims a candidate code.
func NormalizeToken(text string) string {
	return strings.ToUpper(strings.TrimSpace(text))
}

// CleanName collapses whitespace and checks the length of a display name.
func CleanName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", ErrNameBlank
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}
