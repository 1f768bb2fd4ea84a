package grammar

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var ruleNameCleaner = regexp.MustCompile(`[^A-Za-z0-9_]`)

// normalizeRuleName maps an arbitrary rule name onto the identifier charset
// shared by the Lark and GBNF dialects. Empty names fall back to the dialect
// default; names starting with a digit are prefixed with it.
func normalizeRuleName(name, fallback string) string {
	normalized := ruleNameCleaner.ReplaceAllString(strings.TrimSpace(name), "_")
	if normalized == "" {
		normalized = fallback
	}
	if normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = fallback + "_" + normalized
	}
	return strings.ToLower(normalized)
}

// jsonString renders s as a JSON string token without HTML escaping, the
// lexical form both dialects use for literal terminals.
func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Encoding a plain string cannot fail; fall back to the stdlib form.
		data, _ := json.Marshal(s)
		return string(data)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// behaviorAttrs lists the rule attributes neither grammar dialect can carry.
// Captures are fine: they are resolved locally after generation.
func behaviorAttrs(rule *Rule) []string {
	var attrs []string
	if rule.Temperature != nil {
		attrs = append(attrs, "temperature")
	}
	if rule.MaxTokens != nil {
		attrs = append(attrs, "max_tokens")
	}
	if rule.Stop != nil {
		attrs = append(attrs, "stop")
	}
	if rule.Suffix != nil {
		attrs = append(attrs, "suffix")
	}
	if rule.StopCapture != "" {
		attrs = append(attrs, "stop_capture")
	}
	if rule.Lazy {
		attrs = append(attrs, "lazy")
	}
	return attrs
}

// groupIfCompound parenthesizes an emitted body when a quantifier or copy
// expansion would otherwise bind to its last token only.
func groupIfCompound(body string) string {
	if strings.ContainsAny(body, " |") {
		return "(" + body + ")"
	}
	return body
}

// repeatCopies renders n space-separated copies of body, or the empty
// literal for zero copies.
func repeatCopies(body string, n int) string {
	if n <= 0 {
		return `""`
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = body
	}
	return strings.Join(parts, " ")
}

// expandRepeat lowers a bounded or unbounded repetition of body into the
// EBNF-style operators both dialects share. Bounded ranges expand into an
// alternation of copy counts, so ranges wider than span are refused.
func expandRepeat(body string, min, max, span int, dialect string) (string, error) {
	if min < 0 {
		return "", unsupportedf("repeat minimum must be >= 0")
	}
	switch {
	case min == 0 && max == Unbounded:
		return body + "*", nil
	case min == 1 && max == Unbounded:
		return body + "+", nil
	case min == 0 && max == 1:
		return body + "?", nil
	}
	if max != Unbounded && max < min {
		return "", unsupportedf("repeat maximum must be >= minimum")
	}
	if max == Unbounded {
		// min >= 2 here, so the required copies are non-empty.
		return repeatCopies(body, min) + " " + body + "*", nil
	}
	if max-min > span {
		return "", unsupportedf("bounded repeats wider than %d cannot be expanded for %s", span, dialect)
	}
	if min == max {
		return repeatCopies(body, min), nil
	}
	variants := make([]string, 0, max-min+1)
	for count := min; count <= max; count++ {
		variants = append(variants, repeatCopies(body, count))
	}
	return "(" + strings.Join(variants, " | ") + ")", nil
}
