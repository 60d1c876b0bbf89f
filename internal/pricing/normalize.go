package pricing

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a collection or model name into the key form shared by the
// upstream filters and the local snapshot: NFKD decomposition, combining marks
// and apostrophes dropped, everything outside [a-z0-9] removed, lower-cased.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(foldChain(), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// transformers carry state, so each call gets its own chain
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
}

const imageBase = "https://storage.googleapis.com/portals-market/gifts"

// ImageURL builds the model artwork link for a collection/model pair, or "" if either is empty.
func ImageURL(collection, model string) string {
	c, m := Normalize(collection), Normalize(model)
	if c == "" || m == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/models/png/%s.png", imageBase, c, m)
}
