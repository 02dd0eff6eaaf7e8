//go:build property
// +build property

package filters

import (
	"html"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEscapeProperties checks the HTML escaper over generated strings.
func TestEscapeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: escaped output never contains a raw special character
	properties.Property("no raw specials", prop.ForAll(
		func(s string) bool {
			return !strings.ContainsAny(EscapeHTML(s), `<>"'`)
		},
		gen.AnyString(),
	))

	// Property: every ampersand in the output starts an entity
	properties.Property("ampersands start entities", prop.ForAll(
		func(s string) bool {
			out := EscapeHTML(s)
			for i := strings.IndexByte(out, '&'); i >= 0; i = strings.IndexByte(out, '&') {
				end := strings.IndexByte(out[i:], ';')
				if end < 0 {
					return false
				}
				out = out[i+end+1:]
			}
			return true
		},
		gen.AnyString(),
	))

	// Property: unescaping restores valid UTF-8 input
	properties.Property("round trip", prop.ForAll(
		func(s string) bool {
			if !utf8.ValidString(s) {
				return true
			}
			return html.UnescapeString(EscapeHTML(s)) == s
		},
		gen.AnyString(),
	))

	// Property: the escape filter agrees with the default print escaping
	properties.Property("escape filter", prop.ForAll(
		func(s string) bool {
			f, ok := Default().Lookup("escape")
			if !ok {
				return false
			}
			out, err := f.Fn(s)
			return err == nil && out == EscapeHTML(s)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
