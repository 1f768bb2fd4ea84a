package grammar

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRegexAnswer(t *testing.T) {
	rule := &Rule{Name: "answer", Value: NewRegex("YES|NO"), Capture: "answer"}

	result, ok := Match(rule, "YES")
	require.True(t, ok)
	value, found := result.Value("answer")
	require.True(t, found)
	assert.Equal(t, "YES", value)

	_, ok = Match(rule, "MAYBE")
	assert.False(t, ok)

	// Partial matches do not count; the whole text must conform.
	_, ok = Match(rule, "YESx")
	assert.False(t, ok)
}

func TestMatchLiteralAndJoin(t *testing.T) {
	node := NewJoin(NewLiteral("a"), NewLiteral("b"), NewLiteral("c"))

	_, ok := Match(node, "abc")
	assert.True(t, ok)
	_, ok = Match(node, "ab")
	assert.False(t, ok)
	_, ok = Match(node, "abcd")
	assert.False(t, ok)
}

func TestMatchRepeatBounds(t *testing.T) {
	node := NewRepeat(NewRegex("[0-9]"), 2, 4)

	for _, text := range []string{"12", "123", "1234"} {
		_, ok := Match(node, text)
		assert.True(t, ok, "expected %q to match", text)
	}
	for _, text := range []string{"1", "12345", "12a"} {
		_, ok := Match(node, text)
		assert.False(t, ok, "expected %q to be rejected", text)
	}
}

func TestMatchUnboundedRepeat(t *testing.T) {
	node := NewRepeat(NewLiteral("ab"), 0, Unbounded)

	_, ok := Match(node, "")
	assert.True(t, ok)
	_, ok = Match(node, strings.Repeat("ab", 40))
	assert.True(t, ok)
	_, ok = Match(node, "aba")
	assert.False(t, ok)
}

func TestMatchUnconstrainedRegex(t *testing.T) {
	_, ok := Match(Unconstrained(), "anything at all\nincluding newlines")
	assert.True(t, ok)

	node := NewJoin(NewLiteral("prefix:"), Unconstrained())
	_, ok = Match(node, "prefix: and whatever follows")
	assert.True(t, ok)
	_, ok = Match(node, "wrong")
	assert.False(t, ok)
}

func TestMatchSelectBacktracks(t *testing.T) {
	// The first alternative gets tried first; backtracking still finds the
	// parse where a greedy early consume would fail.
	node := NewJoin(
		NewSelect(NewLiteral("ab"), NewLiteral("a")),
		NewLiteral("bc"),
	)

	_, ok := Match(node, "abc")
	assert.True(t, ok)
	_, ok = Match(node, "abbc")
	assert.True(t, ok)
}

func TestMatchListAppendCaptures(t *testing.T) {
	item := &Rule{Name: "item", Value: NewRegex("[a-z]+"), Capture: "words", ListAppend: true}
	node := NewJoin(item, NewLiteral(" "), &RuleRef{Target: item})

	result, ok := Match(node, "hello world")
	require.True(t, ok)

	values, found := result.List("words")
	require.True(t, found)
	assert.Equal(t, []string{"hello", "world"}, values)

	records := result.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Append)
	assert.Equal(t, "words", records[0].Name)
}

func TestMatchNestedCaptures(t *testing.T) {
	inner := &Rule{Name: "digit", Value: NewRegex("[0-9]+"), Capture: "number"}
	outer := &Rule{
		Name:    "line",
		Value:   NewJoin(NewLiteral("n="), inner),
		Capture: "line",
	}

	result, ok := Match(outer, "n=42")
	require.True(t, ok)

	number, found := result.Value("number")
	require.True(t, found)
	assert.Equal(t, "42", number)

	line, found := result.Value("line")
	require.True(t, found)
	assert.Equal(t, "n=42", line)
}

func TestMatchRecursiveGrammar(t *testing.T) {
	// wrapped := "(" wrapped ")" | "x"
	wrapped := &Rule{Name: "wrapped"}
	wrapped.Value = NewSelect(
		NewJoin(NewLiteral("("), &RuleRef{Target: wrapped}, NewLiteral(")")),
		NewLiteral("x"),
	)

	for _, text := range []string{"x", "(x)", "(((x)))"} {
		_, ok := Match(wrapped, text)
		assert.True(t, ok, "expected %q to match", text)
	}
	for _, text := range []string{"", "()", "((x)"} {
		_, ok := Match(wrapped, text)
		assert.False(t, ok, "expected %q to be rejected", text)
	}
}

func TestMatchSuffix(t *testing.T) {
	rule := &Rule{
		Name:    "answer",
		Value:   NewRegex("[A-Z]+"),
		Capture: "answer",
		Suffix:  NewLiteral("\n"),
	}

	result, ok := Match(rule, "YES\n")
	require.True(t, ok)
	value, _ := result.Value("answer")
	assert.Equal(t, "YES", value)

	_, ok = Match(rule, "YES")
	assert.False(t, ok)
}

func TestMatchFailedParseDiscardsCaptures(t *testing.T) {
	rule := &Rule{Name: "head", Value: NewLiteral("ab"), Capture: "head"}
	node := NewJoin(rule, NewLiteral("cd"))

	result, ok := Match(node, "abXX")
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestMatchInvalidRegexFailsClosed(t *testing.T) {
	_, ok := Match(NewRegex("["), "anything")
	assert.False(t, ok)
}
