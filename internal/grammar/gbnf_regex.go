package grammar

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// compileRegexToGBNF converts a regex pattern into a GBNF expression. Only a
// safe subset translates: literals, character classes with the \d \w \s
// categories, ".", alternation, groups, bounded quantifiers, and zero-width
// anchors (dropped, constrained decoding is already anchored at both ends).
// Negated classes, lookarounds, and backreferences are rejected.
func compileRegexToGBNF(pattern string) (string, error) {
	p := &gbnfRegexParser{pattern: pattern}
	expr, err := p.alternation()
	if err != nil {
		return "", err
	}
	if p.pos < len(p.pattern) {
		return "", unsupportedf("invalid regex for gbnf: unexpected %q at offset %d", p.pattern[p.pos], p.pos)
	}
	return expr, nil
}

type gbnfRegexParser struct {
	pattern string
	pos     int
}

func (p *gbnfRegexParser) alternation() (string, error) {
	branch, err := p.concat()
	if err != nil {
		return "", err
	}
	branches := []string{branch}
	for p.pos < len(p.pattern) && p.pattern[p.pos] == '|' {
		p.pos++
		branch, err := p.concat()
		if err != nil {
			return "", err
		}
		branches = append(branches, branch)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return "(" + strings.Join(branches, " | ") + ")", nil
}

func (p *gbnfRegexParser) concat() (string, error) {
	var parts []string
	for p.pos < len(p.pattern) {
		if c := p.pattern[p.pos]; c == '|' || c == ')' {
			break
		}
		atom, zeroWidth, err := p.atom()
		if err != nil {
			return "", err
		}
		expr, err := p.quantify(atom, zeroWidth)
		if err != nil {
			return "", err
		}
		if expr != "" {
			parts = append(parts, expr)
		}
	}
	if len(parts) == 0 {
		return `""`, nil
	}
	return strings.Join(parts, " "), nil
}

// atom parses one unquantified unit. Anchors parse to an empty expression
// with zeroWidth set so a following quantifier can be rejected.
func (p *gbnfRegexParser) atom() (expr string, zeroWidth bool, err error) {
	switch c := p.pattern[p.pos]; c {
	case '(':
		expr, err = p.group()
		return expr, false, err
	case '[':
		expr, err = p.charClass()
		return expr, false, err
	case '.':
		p.pos++
		return `[\x00-\x7F]`, false, nil
	case '^', '$':
		p.pos++
		return "", true, nil
	case '*', '+', '?':
		return "", false, unsupportedf("invalid regex for gbnf: nothing to repeat at offset %d", p.pos)
	case '\\':
		return p.escape()
	default:
		r, size := utf8.DecodeRuneInString(p.pattern[p.pos:])
		p.pos += size
		return jsonString(string(r)), false, nil
	}
}

func (p *gbnfRegexParser) quantify(atom string, zeroWidth bool) (string, error) {
	min, max, consumed := 0, 0, 0
	if p.pos < len(p.pattern) {
		switch p.pattern[p.pos] {
		case '*':
			min, max, consumed = 0, Unbounded, 1
		case '+':
			min, max, consumed = 1, Unbounded, 1
		case '?':
			min, max, consumed = 0, 1, 1
		case '{':
			min, max, consumed = p.scanBrace()
		}
	}
	if consumed == 0 {
		return atom, nil
	}
	if zeroWidth {
		return "", unsupportedf("invalid regex for gbnf: nothing to repeat at offset %d", p.pos)
	}
	p.pos += consumed

	if p.pos < len(p.pattern) {
		switch p.pattern[p.pos] {
		case '?':
			// Lazy repetition constrains the same language as greedy.
			p.pos++
		case '+':
			return "", unsupportedf("possessive quantifiers cannot be expressed in gbnf")
		case '{':
			if _, _, n := p.scanBrace(); n > 0 {
				return "", unsupportedf("invalid regex for gbnf: multiple repeat at offset %d", p.pos)
			}
		}
	}
	return expandRepeat(groupIfCompound(atom), min, max, maxGBNFRepeatSpan, "gbnf")
}

// scanBrace reads a {n} / {n,} / {n,m} / {,m} quantifier starting at the
// current position without consuming it. consumed is 0 when the braces do
// not form a quantifier, in which case "{" parses as a literal.
func (p *gbnfRegexParser) scanBrace() (min, max, consumed int) {
	rest := p.pattern[p.pos:]
	end := strings.IndexByte(rest, '}')
	if end < 1 {
		return 0, 0, 0
	}
	body := rest[1:end]
	lo, hi, found := strings.Cut(body, ",")
	if !found {
		if !allDigits(lo) {
			return 0, 0, 0
		}
		n, _ := strconv.Atoi(lo)
		return n, n, end + 1
	}
	if lo == "" && hi == "" {
		return 0, 0, 0
	}
	min = 0
	if lo != "" {
		if !allDigits(lo) {
			return 0, 0, 0
		}
		min, _ = strconv.Atoi(lo)
	}
	max = Unbounded
	if hi != "" {
		if !allDigits(hi) {
			return 0, 0, 0
		}
		max, _ = strconv.Atoi(hi)
	}
	return min, max, end + 1
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (p *gbnfRegexParser) group() (string, error) {
	start := p.pos
	p.pos++ // '('
	if p.pos < len(p.pattern) && p.pattern[p.pos] == '?' {
		rest := p.pattern[p.pos:]
		switch {
		case strings.HasPrefix(rest, "?:"):
			p.pos += 2
		case strings.HasPrefix(rest, "?P<"):
			// Group names carry no meaning in GBNF.
			nameEnd := strings.IndexByte(rest, '>')
			if nameEnd < 0 {
				return "", unsupportedf("invalid regex for gbnf: unterminated group name at offset %d", start)
			}
			p.pos += nameEnd + 1
		case strings.HasPrefix(rest, "?="), strings.HasPrefix(rest, "?!"),
			strings.HasPrefix(rest, "?<="), strings.HasPrefix(rest, "?<!"):
			return "", unsupportedf("lookaround assertions cannot be expressed in gbnf")
		default:
			return "", unsupportedf("invalid regex for gbnf: unsupported group syntax at offset %d", start)
		}
	}
	inner, err := p.alternation()
	if err != nil {
		return "", err
	}
	if p.pos >= len(p.pattern) || p.pattern[p.pos] != ')' {
		return "", unsupportedf("invalid regex for gbnf: missing closing parenthesis for group at offset %d", start)
	}
	p.pos++
	return "(" + inner + ")", nil
}

func (p *gbnfRegexParser) escape() (string, bool, error) {
	start := p.pos
	p.pos++ // '\'
	if p.pos >= len(p.pattern) {
		return "", false, unsupportedf("invalid regex for gbnf: trailing backslash")
	}
	r, size := utf8.DecodeRuneInString(p.pattern[p.pos:])
	p.pos += size
	switch r {
	case 'd':
		return "[0-9]", false, nil
	case 'w':
		return "[A-Za-z0-9_]", false, nil
	case 's':
		return `[ \t\n\r]`, false, nil
	case 'D', 'W', 'S':
		return "", false, unsupportedf("negated character categories cannot be expressed in gbnf")
	case 'b', 'B', 'A', 'Z', 'z':
		return "", true, nil
	case 'n':
		return jsonString("\n"), false, nil
	case 'r':
		return jsonString("\r"), false, nil
	case 't':
		return jsonString("\t"), false, nil
	case 'f':
		return jsonString("\f"), false, nil
	case 'v':
		return jsonString("\v"), false, nil
	case '0':
		return jsonString("\x00"), false, nil
	case 'x':
		ch, err := p.scanHex(2, start)
		if err != nil {
			return "", false, err
		}
		return jsonString(string(ch)), false, nil
	case 'u':
		ch, err := p.scanHex(4, start)
		if err != nil {
			return "", false, err
		}
		return jsonString(string(ch)), false, nil
	default:
		if r >= '1' && r <= '9' {
			return "", false, unsupportedf("backreferences cannot be expressed in gbnf")
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return "", false, unsupportedf("invalid regex for gbnf: unknown escape \\%c at offset %d", r, start)
		}
		return jsonString(string(r)), false, nil
	}
}

func (p *gbnfRegexParser) scanHex(digits, start int) (rune, error) {
	if p.pos+digits > len(p.pattern) {
		return 0, unsupportedf("invalid regex for gbnf: truncated hex escape at offset %d", start)
	}
	v, err := strconv.ParseUint(p.pattern[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return 0, unsupportedf("invalid regex for gbnf: bad hex escape at offset %d", start)
	}
	p.pos += digits
	return rune(v), nil
}

func (p *gbnfRegexParser) charClass() (string, error) {
	start := p.pos
	p.pos++ // '['
	negated := false
	if p.pos < len(p.pattern) && p.pattern[p.pos] == '^' {
		negated = true
		p.pos++
	}
	var parts []string
	first := true
	for {
		if p.pos >= len(p.pattern) {
			return "", unsupportedf("invalid regex for gbnf: unterminated character class at offset %d", start)
		}
		if p.pattern[p.pos] == ']' && !first {
			p.pos++
			break
		}
		first = false
		atom, err := p.classAtom()
		if err != nil {
			return "", err
		}
		if p.pos+1 < len(p.pattern) && p.pattern[p.pos] == '-' && p.pattern[p.pos+1] != ']' {
			if !atom.isChar {
				return "", unsupportedf("invalid regex for gbnf: bad character range in class at offset %d", start)
			}
			p.pos++ // '-'
			hi, err := p.classAtom()
			if err != nil {
				return "", err
			}
			if !hi.isChar {
				return "", unsupportedf("invalid regex for gbnf: bad character range in class at offset %d", start)
			}
			if hi.r < atom.r {
				return "", unsupportedf("invalid regex for gbnf: reversed character range at offset %d", start)
			}
			parts = append(parts, escapeClassChar(atom.r)+"-"+escapeClassChar(hi.r))
			continue
		}
		if atom.isChar {
			parts = append(parts, escapeClassChar(atom.r))
		} else {
			parts = append(parts, atom.text)
		}
	}
	if negated {
		return "", unsupportedf("negated character classes cannot be expressed in gbnf")
	}
	return "[" + strings.Join(parts, "") + "]", nil
}

type classAtom struct {
	r      rune
	isChar bool
	text   string // pre-rendered category ranges
}

func (p *gbnfRegexParser) classAtom() (classAtom, error) {
	if p.pattern[p.pos] != '\\' {
		r, size := utf8.DecodeRuneInString(p.pattern[p.pos:])
		p.pos += size
		return classAtom{r: r, isChar: true}, nil
	}
	start := p.pos
	p.pos++ // '\'
	if p.pos >= len(p.pattern) {
		return classAtom{}, unsupportedf("invalid regex for gbnf: trailing backslash in character class")
	}
	r, size := utf8.DecodeRuneInString(p.pattern[p.pos:])
	p.pos += size
	switch r {
	case 'd':
		return classAtom{text: "0-9"}, nil
	case 'w':
		return classAtom{text: "A-Za-z0-9_"}, nil
	case 's':
		return classAtom{text: ` \t\n\r`}, nil
	case 'D', 'W', 'S':
		return classAtom{}, unsupportedf("negated character categories cannot be expressed in gbnf")
	case 'n':
		return classAtom{r: '\n', isChar: true}, nil
	case 'r':
		return classAtom{r: '\r', isChar: true}, nil
	case 't':
		return classAtom{r: '\t', isChar: true}, nil
	case 'f':
		return classAtom{r: '\f', isChar: true}, nil
	case 'v':
		return classAtom{r: '\v', isChar: true}, nil
	case 'b':
		// Inside a class \b is the backspace character.
		return classAtom{r: '\x08', isChar: true}, nil
	case '0':
		return classAtom{r: 0, isChar: true}, nil
	case 'x':
		ch, err := p.scanHex(2, start)
		if err != nil {
			return classAtom{}, err
		}
		return classAtom{r: ch, isChar: true}, nil
	case 'u':
		ch, err := p.scanHex(4, start)
		if err != nil {
			return classAtom{}, err
		}
		return classAtom{r: ch, isChar: true}, nil
	default:
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return classAtom{}, unsupportedf("invalid regex for gbnf: unknown class escape \\%c at offset %d", r, start)
		}
		return classAtom{r: r, isChar: true}, nil
	}
}

// escapeClassChar renders one character for a GBNF character class body.
func escapeClassChar(r rune) string {
	switch r {
	case '\\', ']', '-', '^':
		return "\\" + string(r)
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	default:
		return string(r)
	}
}
