// Package command recognises slash directives embedded in tracker
// comments, such as "/internal".
package command

import (
	"regexp"
	"strings"
	"unicode"
)

// Command is a recognised directive name without the leading slash.
type Command string

// Internal marks a comment as a note that must never reach the
// external correspondents.
const Internal Command = "internal"

var known = map[Command]bool{
	Internal: true,
}

// Set is the set of directives found in a body.
type Set map[Command]struct{}

// Has reports whether c is in the set.
func (s Set) Has(c Command) bool {
	_, ok := s[c]
	return ok
}

// wordPattern is a single directive token.
var wordPattern = regexp.MustCompile(`^/[A-Za-z][A-Za-z0-9_-]*$`)

// space is the regexp class of the runes unicode.IsSpace accepts.
const space = `[\t\n\v\f\r\x{85}\p{Z}]`

// tokenPattern matches a directive token with the whitespace that
// follows it. The leading group keeps the preceding whitespace.
var tokenPattern = regexp.MustCompile(`(^|` + space + `)/[A-Za-z][A-Za-z0-9_-]*(` + space + `+|$)`)

// FindCommands returns the recognised directives in body. A token only
// counts when it stands alone, so "/internalfoo" is not "/internal".
func FindCommands(body string) Set {
	found := make(Set)
	for _, field := range strings.FieldsFunc(body, unicode.IsSpace) {
		if !wordPattern.MatchString(field) {
			continue
		}
		c := Command(strings.ToLower(field[1:]))
		if known[c] {
			found[c] = struct{}{}
		}
	}
	return found
}

// StripCommands removes every directive token, recognised or not, along
// with the whitespace that follows it.
func StripCommands(body string) string {
	for {
		next := tokenPattern.ReplaceAllString(body, "$1")
		if next == body {
			return body
		}
		body = next
	}
}
