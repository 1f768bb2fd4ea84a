package stream

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"unicode/utf8"
)

// StreamingRegexStopMatcher watches streamed text for a regex stop condition
// that may span chunk boundaries. It buffers incoming text and only releases
// a prefix whose suffix can no longer be part of a future match, so the
// emitted text is identical whether the total output arrives in one piece or
// split arbitrarily.
type StreamingRegexStopMatcher struct {
	search *regexp.Regexp
	full   *regexp.Regexp
	// maxWidth is the widest possible match in bytes, or -1 when the
	// pattern is unbounded and nothing can be released before the end.
	maxWidth   int
	buffer     string
	emittedLen int
	matched    bool
	stopText   string
}

// StopMatchUpdate reports the outcome of one Feed or Finish call.
type StopMatchUpdate struct {
	EmitText    string
	Matched     bool
	StopText    string
	RewindBytes int
}

// NewStreamingRegexStopMatcher compiles the stop pattern. The pattern's
// widest possible match bounds how much text may be held back.
func NewStreamingRegexStopMatcher(pattern string) (*StreamingRegexStopMatcher, error) {
	search, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid stop_regex pattern %q: %w", pattern, err)
	}
	full, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("invalid stop_regex pattern %q: %w", pattern, err)
	}
	width, err := regexMaxWidthBytes(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid stop_regex pattern %q: %w", pattern, err)
	}
	return &StreamingRegexStopMatcher{search: search, full: full, maxWidth: width}, nil
}

// Feed appends text to the buffer and looks for the earliest stop match.
// Before a match, the update carries any newly releasable prefix. On match,
// it carries the final prefix, the stop text, and how many buffered bytes
// sit at or after the match start (callers rewind their transcript by that
// much). After a match, further feeds are no-ops.
func (m *StreamingRegexStopMatcher) Feed(text string) StopMatchUpdate {
	if m.matched {
		return StopMatchUpdate{Matched: true, StopText: m.stopText}
	}
	m.buffer += text

	start, end, found := m.earliestMatchBounds()
	if found {
		emit := m.emitUntil(start)
		m.matched = true
		m.stopText = m.buffer[start:end]
		return StopMatchUpdate{
			EmitText:    emit,
			Matched:     true,
			StopText:    m.stopText,
			RewindBytes: len(m.buffer) - start,
		}
	}
	return StopMatchUpdate{EmitText: m.emitUntil(m.safeEmitEnd())}
}

// Finish releases whatever never became part of a match.
func (m *StreamingRegexStopMatcher) Finish() StopMatchUpdate {
	if m.matched {
		return StopMatchUpdate{Matched: true, StopText: m.stopText}
	}
	return StopMatchUpdate{EmitText: m.emitUntil(len(m.buffer))}
}

// Matched reports whether the stop condition has fired.
func (m *StreamingRegexStopMatcher) Matched() bool {
	return m.matched
}

// StopText returns the matched stop text, empty before a match.
func (m *StreamingRegexStopMatcher) StopText() string {
	return m.stopText
}

// EmittedText returns everything released so far.
func (m *StreamingRegexStopMatcher) EmittedText() string {
	return m.buffer[:m.emittedLen]
}

// earliestMatchBounds finds the earliest match start in the buffer; among
// matches at that start, the shortest one wins so alternations like "ab|a"
// stop at "a" even when "ab" would also match.
func (m *StreamingRegexStopMatcher) earliestMatchBounds() (int, int, bool) {
	loc := m.search.FindStringIndex(m.buffer)
	if loc == nil {
		return 0, 0, false
	}
	start := loc[0]
	for end := start; end <= len(m.buffer); end++ {
		if m.full.MatchString(m.buffer[start:end]) {
			return start, end, true
		}
	}
	return start, loc[1], true
}

// safeEmitEnd bounds how far the buffer may be released without a match: a
// suffix shorter than the widest possible match must stay buffered. An
// unbounded pattern keeps everything until Finish.
func (m *StreamingRegexStopMatcher) safeEmitEnd() int {
	if m.maxWidth < 0 {
		return 0
	}
	if m.maxWidth <= 1 {
		return len(m.buffer)
	}
	end := len(m.buffer) - m.maxWidth + 1
	if end < 0 {
		return 0
	}
	return end
}

func (m *StreamingRegexStopMatcher) emitUntil(end int) string {
	bounded := end
	if bounded > len(m.buffer) {
		bounded = len(m.buffer)
	}
	if bounded < m.emittedLen {
		bounded = m.emittedLen
	}
	emit := m.buffer[m.emittedLen:bounded]
	m.emittedLen = bounded
	return emit
}

// regexMaxWidthBytes computes the widest match the pattern can produce, in
// bytes, or -1 when unbounded. Byte units keep the emit bound aligned with
// string indexing.
func regexMaxWidthBytes(pattern string) (int, error) {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return 0, err
	}
	return nodeMaxWidth(parsed), nil
}

func nodeMaxWidth(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpNoMatch,
		syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return 0
	case syntax.OpLiteral:
		width := 0
		for _, r := range re.Rune {
			width += utf8.RuneLen(r)
		}
		return width
	case syntax.OpCharClass:
		width := 0
		for i := 1; i < len(re.Rune); i += 2 {
			if w := utf8.RuneLen(re.Rune[i]); w > width {
				width = w
			}
		}
		return width
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return utf8.UTFMax
	case syntax.OpCapture, syntax.OpQuest:
		return nodeMaxWidth(re.Sub[0])
	case syntax.OpStar, syntax.OpPlus:
		if nodeMaxWidth(re.Sub[0]) == 0 {
			return 0
		}
		return -1
	case syntax.OpRepeat:
		sub := nodeMaxWidth(re.Sub[0])
		if sub == 0 {
			return 0
		}
		if sub < 0 || re.Max < 0 {
			return -1
		}
		return sub * re.Max
	case syntax.OpConcat:
		total := 0
		for _, sub := range re.Sub {
			w := nodeMaxWidth(sub)
			if w < 0 {
				return -1
			}
			total += w
		}
		return total
	case syntax.OpAlternate:
		widest := 0
		for _, sub := range re.Sub {
			w := nodeMaxWidth(sub)
			if w < 0 {
				return -1
			}
			if w > widest {
				widest = w
			}
		}
		return widest
	default:
		return -1
	}
}
