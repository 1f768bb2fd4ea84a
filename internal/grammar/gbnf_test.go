package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeGBNFRegexAlternation(t *testing.T) {
	out, err := SerializeGBNF(NewRegex("YES|NO"))
	require.NoError(t, err)
	assert.Equal(t, `root ::= ("Y" "E" "S" | "N" "O")`, out)
}

func TestSerializeGBNFLiteral(t *testing.T) {
	out, err := SerializeGBNF(NewLiteral("hi"))
	require.NoError(t, err)
	assert.Equal(t, `root ::= "hi"`, out)
}

func TestSerializeGBNFRegexCategories(t *testing.T) {
	cases := []struct {
		pattern string
		want    string
	}{
		{`\d`, `root ::= [0-9]`},
		{`\w+`, `root ::= [A-Za-z0-9_]+`},
		{`\s`, `root ::= [ \t\n\r]`},
		{`.`, `root ::= [\x00-\x7F]`},
		{`[a-z0-9]`, `root ::= [a-z0-9]`},
		{`[\d]`, `root ::= [0-9]`},
		{`a{2}`, `root ::= "a" "a"`},
		{`a{1,3}`, `root ::= ("a" | "a" "a" | "a" "a" "a")`},
		{`(ab)+`, `root ::= (("a" "b"))+`},
		{`^A$`, `root ::= "A"`},
		{`x|`, `root ::= ("x" | "")`},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			out, err := SerializeGBNF(NewRegex(tc.pattern))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestSerializeGBNFRejectsUnsupportedRegex(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
	}{
		{"lookahead", "(?=A)A"},
		{"negative_lookahead", "(?!A)B"},
		{"lookbehind", "(?<=A)B"},
		{"negated_class", "[^a-z]"},
		{"negated_category", `\D`},
		{"backreference", `(a)\1`},
		{"unterminated_class", "["},
		{"wide_bounded_repeat", "a{1,40}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SerializeGBNF(NewRegex(tc.pattern))
			require.Error(t, err)

			var unsupported *UnsupportedFeatureError
			assert.ErrorAs(t, err, &unsupported)
		})
	}
}

func TestSerializeGBNFClassEscapes(t *testing.T) {
	out, err := SerializeGBNF(NewRegex(`[a\]^-]`))
	require.NoError(t, err)
	assert.Equal(t, `root ::= [a\]\^\-]`, out)
}

func TestSerializeGBNFRepeatWidthLimitIsTighter(t *testing.T) {
	// A span of 20 fits the Lark expansion but not the GBNF one.
	node := NewRepeat(NewLiteral("x"), 0, 20)

	_, err := SerializeGBNF(node)
	require.Error(t, err)

	var unsupported *UnsupportedFeatureError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, unsupported.Reason, "wider than 16")

	_, err = SerializeLark(node)
	assert.NoError(t, err)
}

func TestSerializeGBNFRuleNaming(t *testing.T) {
	rule := &Rule{Name: "Root", Value: NewLiteral("x")}
	out, err := SerializeGBNF(rule)
	require.NoError(t, err)
	assert.Equal(t, `root ::= "x"`, out)

	named := &Rule{Name: "value", Value: NewLiteral("x")}
	out, err = SerializeGBNF(named)
	require.NoError(t, err)
	assert.Equal(t, "value ::= \"x\"\nroot ::= value", out)

	// An unnameable root still gets a root production, pointing at the
	// fallback rule name.
	anonymous := &Rule{Name: "", Value: NewLiteral("x")}
	out, err = SerializeGBNF(anonymous)
	require.NoError(t, err)
	assert.Equal(t, "root ::= rule\nrule ::= \"x\"", out)
}

func TestSerializeGBNFRefusesRuleBehaviorAttrs(t *testing.T) {
	maxTokens := 9
	rule := &Rule{Name: "answer", Value: NewLiteral("x"), MaxTokens: &maxTokens, Lazy: true}

	_, err := SerializeGBNF(rule)
	require.Error(t, err)

	var unsupported *UnsupportedFeatureError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, unsupported.Reason, "max_tokens, lazy")
}
