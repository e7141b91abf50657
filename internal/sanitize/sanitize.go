// Package sanitize strips markup and control characters from free text
// before it is interpolated into prompts, used as a cache key, or echoed
// back to the client.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// maxPasses bounds the fixpoint loop; each pass strips one layer of entity
// encoding, so legitimate input converges in one or two.
const maxPasses = 8

// Text returns s with all markup tags and attributes removed, HTML entities
// decoded, control characters dropped, and runs of whitespace collapsed to
// single spaces. Total function: malformed markup is removed, never rejected.
//
// Sanitizing and unescaping run to a fixpoint: a single pass would let
// entity-encoded markup slip through the policy as inert text and then
// re-materialize as live tags when unescaped.
func Text(s string) string {
	for i := 0; ; i++ {
		clean := policy.Sanitize(s)
		if i == maxPasses {
			// Exhausted on adversarial nesting: keep the escaped form so no
			// live markup can appear in the output.
			s = clean
			break
		}
		next := html.UnescapeString(clean)
		if next == s {
			break
		}
		s = next
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
