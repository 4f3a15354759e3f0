package message

import (
	"strings"
	"unicode"
)

// Normalize collapses every run of whitespace, line breaks included, into a
// single space and trims the result. Normalize is idempotent.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
