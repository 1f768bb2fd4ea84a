package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	maxTokens := 12
	rule := &Rule{
		Name:      "answer",
		Value:     NewSelect(NewLiteral("YES"), NewLiteral("NO")),
		Capture:   "answer",
		Stop:      NewRegex(`\n`),
		MaxTokens: &maxTokens,
	}

	data, err := EncodeNode(rule)
	require.NoError(t, err)

	decoded, err := DecodeNode(data)
	require.NoError(t, err)

	got, ok := decoded.(*Rule)
	require.True(t, ok)
	assert.Equal(t, "answer", got.Name)
	assert.Equal(t, "answer", got.Capture)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 12, *got.MaxTokens)

	sel, ok := got.Value.(*Select)
	require.True(t, ok)
	require.Len(t, sel.Alternatives, 2)

	stop, ok := got.Stop.(*Regex)
	require.True(t, ok)
	require.NotNil(t, stop.Pattern)
	assert.Equal(t, `\n`, *stop.Pattern)
}

func TestEncodeDecodeRecursiveRule(t *testing.T) {
	wrapped := &Rule{Name: "wrapped"}
	wrapped.Value = NewSelect(
		NewJoin(NewLiteral("("), &RuleRef{Target: wrapped}, NewLiteral(")")),
		NewLiteral("x"),
	)

	data, err := EncodeNode(wrapped)
	require.NoError(t, err)

	decoded, err := DecodeNode(data)
	require.NoError(t, err)

	// The decoded graph must be cyclic again: the inner reference points at
	// the outer rule.
	got, ok := decoded.(*Rule)
	require.True(t, ok)
	sel, ok := got.Value.(*Select)
	require.True(t, ok)
	join, ok := sel.Alternatives[0].(*Join)
	require.True(t, ok)
	ref, ok := join.Children[1].(*RuleRef)
	require.True(t, ok)
	assert.Same(t, got, ref.Target)

	// The restored grammar behaves like the original.
	_, matched := Match(decoded, "((x))")
	assert.True(t, matched)
	_, matched = Match(decoded, "((x)")
	assert.False(t, matched)
}

func TestDecodeUnconstrainedRegex(t *testing.T) {
	decoded, err := DecodeNode([]byte(`{"kind":"regex"}`))
	require.NoError(t, err)

	regex, ok := decoded.(*Regex)
	require.True(t, ok)
	assert.Nil(t, regex.Pattern)
}

func TestDecodeRepeatDefaults(t *testing.T) {
	decoded, err := DecodeNode([]byte(`{"kind":"repeat","child":{"kind":"literal","value":"a"}}`))
	require.NoError(t, err)

	repeat, ok := decoded.(*Repeat)
	require.True(t, ok)
	assert.Equal(t, 0, repeat.Min)
	assert.Equal(t, Unbounded, repeat.Max)
}

func TestDecodeRejectsMalformedNodes(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing_kind", `{"value":"x"}`},
		{"unknown_kind", `{"kind":"wat"}`},
		{"unknown_ref", `{"kind":"ref","name":"ghost"}`},
		{"nameless_rule", `{"kind":"rule","value":{"kind":"literal","value":"x"}}`},
		{"inverted_repeat", `{"kind":"repeat","child":{"kind":"literal","value":"a"},"min":3,"max":1}`},
		{"bad_stop", `{"kind":"rule","name":"r","value":{"kind":"literal","value":"x"},"stop":{"kind":"join"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeNode([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestEncodeRejectsDuplicateRuleNames(t *testing.T) {
	first := &Rule{Name: "item", Value: NewLiteral("a")}
	second := &Rule{Name: "item", Value: NewLiteral("b")}

	_, err := EncodeNode(NewJoin(first, second))
	assert.Error(t, err)
}
