package usecase

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// AckMessage is the fixed acknowledgment returned when a reply carries no
// usable text for the customer.
const AckMessage = "We have received your request. A reply will follow shortly."

const minReplyLength = 20

var (
	// A fragment runs from an opening brace to the nearest closing brace;
	// nested objects are not understood and leave their tail behind.
	fragmentPattern   = regexp.MustCompile(`\{[^}]*\}`)
	pureObjectPattern = regexp.MustCompile(`^\{[^}]*\}$`)
	blankRunPattern   = regexp.MustCompile(`\n[ \t]*\n+`)
	trailingWSPattern = regexp.MustCompile(`[ \t]+\n`)
)

// Sanitize strips stray structured-data fragments from an assistant reply.
// An input that is purely a single brace-delimited object, or whose cleaned
// text is shorter than 20 characters, becomes AckMessage instead. Sanitize is
// a pure function and idempotent on its own output.
//
// Known limitation: a fragment ends at the nearest closing brace, so objects
// with nested braces are stripped only up to that point and the remainder of
// the object survives.
func Sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if pureObjectPattern.MatchString(trimmed) {
		return AckMessage
	}

	cleaned := fragmentPattern.ReplaceAllString(trimmed, "")
	cleaned = trailingWSPattern.ReplaceAllString(cleaned, "\n")
	cleaned = blankRunPattern.ReplaceAllString(cleaned, "\n")
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) < minReplyLength {
		return AckMessage
	}
	return cleaned
}
