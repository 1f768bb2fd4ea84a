package grammar

import (
	"fmt"
	"strings"
)

// Bounded repeats wider than this are refused rather than expanded into an
// unreadable alternation of copy counts.
const maxLarkRepeatSpan = 32

// SerializeLark renders a grammar tree in the Lark subset accepted by
// grammar response formats. The tree's rules become named productions; a
// start rule is synthesized when the root is not itself named "start".
func SerializeLark(root Node) (string, error) {
	s := &dialectSerializer{
		dialect:    "lark",
		rootName:   "start",
		defSep:     ": ",
		repeatSpan: maxLarkRepeatSpan,
		names:      map[*Rule]string{},
		claimed:    map[string]bool{},
	}
	return s.serialize(root)
}

// dialectSerializer walks a rule graph once, assigning stable names and
// emitting one production per rule. The Lark and GBNF dialects share the
// traversal and differ in lexical details only.
type dialectSerializer struct {
	dialect    string
	rootName   string // "start" for lark, "root" for gbnf
	defSep     string
	repeatSpan int
	names      map[*Rule]string
	claimed    map[string]bool
	defs       []ruleDef
}

type ruleDef struct {
	name string
	body string
}

func (s *dialectSerializer) serialize(root Node) (string, error) {
	startName := s.rootName
	if rule, ok := root.(*Rule); ok && normalizeRuleName(rule.Name, s.rootName) == s.rootName {
		name, err := s.visitRule(rule)
		if err != nil {
			return "", err
		}
		startName = name
	} else {
		s.claimed[s.rootName] = true
		body, err := s.visitExpr(root, false)
		if err != nil {
			return "", err
		}
		s.defs = append(s.defs, ruleDef{name: s.rootName, body: body})
	}

	lines := make([]string, 0, len(s.defs)+1)
	for _, def := range s.defs {
		lines = append(lines, def.name+s.defSep+def.body)
	}
	if startName != s.rootName && !s.claimed[s.rootName] {
		lines = append([]string{s.rootName + s.defSep + startName}, lines...)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *dialectSerializer) visitRule(rule *Rule) (string, error) {
	if attrs := behaviorAttrs(rule); len(attrs) > 0 {
		return "", unsupportedf("%s grammars cannot carry rule attrs: %s", s.dialect, strings.Join(attrs, ", "))
	}
	if name, ok := s.names[rule]; ok {
		return name, nil
	}

	base := normalizeRuleName(rule.Name, "rule")
	name := base
	if base != s.rootName || s.claimed[base] {
		for i := 2; s.claimed[name]; i++ {
			name = fmt.Sprintf("%s_%d", base, i)
		}
	}
	// Claim the name before visiting the body so recursive references
	// resolve to it instead of re-entering.
	s.names[rule] = name
	s.claimed[name] = true

	body, err := s.visitExpr(rule.Value, false)
	if err != nil {
		return "", err
	}
	s.defs = append(s.defs, ruleDef{name: name, body: body})
	return name, nil
}

func (s *dialectSerializer) visitExpr(node Node, nested bool) (string, error) {
	switch n := node.(type) {
	case *Rule:
		return s.visitRule(n)
	case *RuleRef:
		if n.Target == nil {
			return "", unsupportedf("rule reference has no target")
		}
		return s.visitRule(n.Target)
	case *Literal:
		return jsonString(n.Value), nil
	case *Regex:
		if n.Pattern == nil {
			return "", unsupportedf("unconstrained regex nodes cannot be rendered in %s", s.dialect)
		}
		return s.regexTerminal(*n.Pattern)
	case *Join:
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if isNull(child) {
				continue
			}
			part, err := s.visitExpr(child, true)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			return `""`, nil
		}
		return strings.Join(parts, " "), nil
	case *Select:
		alts := make([]string, 0, len(n.Alternatives))
		for _, alt := range n.Alternatives {
			body, err := s.visitExpr(alt, true)
			if err != nil {
				return "", err
			}
			alts = append(alts, body)
		}
		body := strings.Join(alts, " | ")
		if nested {
			return "(" + body + ")", nil
		}
		return body, nil
	case *Repeat:
		body, err := s.visitExpr(n.Child, true)
		if err != nil {
			return "", err
		}
		return s.repeatExpr(groupIfCompound(body), n.Min, n.Max)
	default:
		return "", unsupportedf("%s grammars cannot express %s nodes", s.dialect, Kind(node))
	}
}

func (s *dialectSerializer) regexTerminal(pattern string) (string, error) {
	if s.dialect == "gbnf" {
		return compileRegexToGBNF(pattern)
	}
	return "/" + escapeLarkRegex(pattern) + "/", nil
}

func (s *dialectSerializer) repeatExpr(body string, min, max int) (string, error) {
	return expandRepeat(body, min, max, s.repeatSpan, s.dialect)
}

// escapeLarkRegex prepares a regex body for the /.../ terminal form: bare
// slashes gain a backslash and raw newlines become \n escapes.
func escapeLarkRegex(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; {
		case c == '/' && (i == 0 || pattern[i-1] != '\\'):
			b.WriteString(`\/`)
		case c == '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
