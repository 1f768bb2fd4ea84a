package grammar

import (
	"regexp"
	"strings"
)

// MatchResult lists the captures recorded along the accepted parse, in the
// order their names first completed.
type MatchResult struct {
	names   []string
	singles map[string]string
	lists   map[string][]string
}

// CaptureRecord is one named capture from a match. Append records carry the
// full list of values in capture order.
type CaptureRecord struct {
	Name   string
	Value  string
	Values []string
	Append bool
}

// Records returns one record per capture name in first-completion order.
func (r *MatchResult) Records() []CaptureRecord {
	records := make([]CaptureRecord, 0, len(r.names))
	for _, name := range r.names {
		if values, ok := r.lists[name]; ok {
			records = append(records, CaptureRecord{Name: name, Values: values, Append: true})
			continue
		}
		records = append(records, CaptureRecord{Name: name, Value: r.singles[name]})
	}
	return records
}

// Value returns the scalar capture for name.
func (r *MatchResult) Value(name string) (string, bool) {
	v, ok := r.singles[name]
	return v, ok
}

// List returns the list capture for name.
func (r *MatchResult) List(name string) ([]string, bool) {
	v, ok := r.lists[name]
	return v, ok
}

// Match runs text against the grammar and reports whether the whole text
// conforms. Rule max_tokens and temperature are generation-time hints and
// play no part here: provider tokenization differs from local accounting, so
// token bounds are never enforced on validation.
func Match(root Node, text string) (*MatchResult, bool) {
	m := &matcher{
		text:       text,
		inProgress: map[ruleAt]bool{},
		compiled:   map[string]*regexp.Regexp{},
	}
	ok := m.match(root, 0, func(pos int) bool { return pos == len(text) })
	if !ok || m.invalid {
		return nil, false
	}

	result := &MatchResult{singles: map[string]string{}, lists: map[string][]string{}}
	for _, ev := range m.captures {
		if ev.listAppend {
			if _, seen := result.lists[ev.name]; !seen {
				result.names = append(result.names, ev.name)
			}
			result.lists[ev.name] = append(result.lists[ev.name], ev.value)
			continue
		}
		if _, seen := result.singles[ev.name]; !seen {
			result.names = append(result.names, ev.name)
		}
		result.singles[ev.name] = ev.value
	}
	return result, true
}

type matcher struct {
	text       string
	inProgress map[ruleAt]bool
	compiled   map[string]*regexp.Regexp
	captures   []captureEvent
	invalid    bool
}

type ruleAt struct {
	rule *Rule
	pos  int
}

type captureEvent struct {
	name       string
	value      string
	listAppend bool
}

// match tries node against text starting at pos and calls k with each
// candidate end position until k accepts. Backtracking falls out of the
// continuation returning false.
func (m *matcher) match(node Node, pos int, k func(int) bool) bool {
	switch n := node.(type) {
	case *Literal:
		if strings.HasPrefix(m.text[pos:], n.Value) {
			return k(pos + len(n.Value))
		}
		return false

	case *Regex:
		if n.Pattern == nil {
			// Unconstrained: any remainder, longest first.
			for end := len(m.text); end >= pos; end-- {
				if k(end) {
					return true
				}
			}
			return false
		}
		re, ok := m.fullMatcher(*n.Pattern)
		if !ok {
			return false
		}
		for end := len(m.text); end >= pos; end-- {
			if re.MatchString(m.text[pos:end]) && k(end) {
				return true
			}
		}
		return false

	case *Join:
		var step func(i, p int) bool
		step = func(i, p int) bool {
			if i == len(n.Children) {
				return k(p)
			}
			return m.match(n.Children[i], p, func(np int) bool {
				return step(i+1, np)
			})
		}
		return step(0, pos)

	case *Select:
		for _, alt := range n.Alternatives {
			if m.match(alt, pos, k) {
				return true
			}
		}
		return false

	case *Repeat:
		if n.Max == 0 || isNull(n.Child) {
			return k(pos)
		}
		var step func(count, p int) bool
		step = func(count, p int) bool {
			if n.Max != Unbounded && count == n.Max {
				return k(p)
			}
			// Greedy: try one more copy before settling.
			if m.match(n.Child, p, func(np int) bool {
				if np == p {
					// The copy matched nothing, so every remaining
					// required copy can match nothing too.
					return k(np)
				}
				return step(count+1, np)
			}) {
				return true
			}
			if count >= n.Min {
				return k(p)
			}
			return false
		}
		return step(0, pos)

	case *Rule:
		return m.matchRule(n, pos, k)

	case *RuleRef:
		if n.Target == nil {
			m.invalid = true
			return false
		}
		return m.matchRule(n.Target, pos, k)

	default:
		m.invalid = true
		return false
	}
}

func (m *matcher) matchRule(rule *Rule, pos int, k func(int) bool) bool {
	key := ruleAt{rule: rule, pos: pos}
	if m.inProgress[key] {
		// Re-entering the same rule at the same position cannot consume
		// anything new; cut the cycle.
		return false
	}
	m.inProgress[key] = true
	defer delete(m.inProgress, key)

	return m.match(rule.Value, pos, func(valueEnd int) bool {
		finish := func(end int) bool {
			if rule.Capture == "" {
				return k(end)
			}
			m.captures = append(m.captures, captureEvent{
				name:       rule.Capture,
				value:      m.text[pos:valueEnd],
				listAppend: rule.ListAppend,
			})
			if k(end) {
				return true
			}
			m.captures = m.captures[:len(m.captures)-1]
			return false
		}
		if rule.Suffix != nil {
			if !strings.HasPrefix(m.text[valueEnd:], rule.Suffix.Value) {
				return false
			}
			return finish(valueEnd + len(rule.Suffix.Value))
		}
		return finish(valueEnd)
	})
}

// fullMatcher compiles pattern anchored at both ends, so prefix candidates
// are tested as whole-string matches.
func (m *matcher) fullMatcher(pattern string) (*regexp.Regexp, bool) {
	if re, ok := m.compiled[pattern]; ok {
		return re, re != nil
	}
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		m.invalid = true
		m.compiled[pattern] = nil
		return nil, false
	}
	m.compiled[pattern] = re
	return re, true
}
