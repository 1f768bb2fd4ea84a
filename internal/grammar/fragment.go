package grammar

import (
	"regexp"
	"strings"
)

// SerializeRegexFragment lowers a node to an inline regex fragment. Only two
// shapes fit: a Regex node, whose pattern passes through verbatim, and a
// Select whose alternatives are all literals, emitted as a non-capturing
// group of escaped values.
func SerializeRegexFragment(node Node) (string, error) {
	switch n := node.(type) {
	case *Regex:
		if n.Pattern == nil {
			return "", unsupportedf("unconstrained regex nodes cannot be rendered as a regex fragment")
		}
		return *n.Pattern, nil
	case *Select:
		escaped := make([]string, 0, len(n.Alternatives))
		for _, alt := range n.Alternatives {
			lit, ok := alt.(*Literal)
			if !ok {
				return "", unsupportedf("regex fragments only cover selects of literals, found a %s alternative", Kind(alt))
			}
			escaped = append(escaped, regexp.QuoteMeta(lit.Value))
		}
		return "(?:" + strings.Join(escaped, "|") + ")", nil
	default:
		return "", unsupportedf("%s nodes cannot be rendered as a regex fragment", Kind(node))
	}
}
