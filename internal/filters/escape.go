package filters

import (
	"strings"
	"unicode/utf8"
)

// htmlReplacer encodes the five HTML special characters, both quote styles
// included.
var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes s for inclusion in HTML text or attribute values.
// Invalid UTF-8 sequences are replaced with U+FFFD.
func EscapeHTML(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return htmlReplacer.Replace(s)
}
