package social

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// textNormalizer turns provider post bodies into plain text for classification.
type textNormalizer struct {
	policy *bluemonday.Policy
}

func newTextNormalizer() *textNormalizer {
	return &textNormalizer{policy: bluemonday.StrictPolicy()}
}

// Normalize strips markup, decodes entities and collapses whitespace.
func (n *textNormalizer) Normalize(text string) string {
	plain := html.UnescapeString(n.policy.Sanitize(text))
	return strings.Join(strings.Fields(plain), " ")
}
