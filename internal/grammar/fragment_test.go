package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRegexFragmentPassesPatternsThrough(t *testing.T) {
	out, err := SerializeRegexFragment(NewRegex("YES|NO"))
	require.NoError(t, err)
	assert.Equal(t, "YES|NO", out)
}

func TestSerializeRegexFragmentEscapesLiteralSelects(t *testing.T) {
	out, err := SerializeRegexFragment(NewSelect(NewLiteral("YES"), NewLiteral("NO")))
	require.NoError(t, err)
	assert.Equal(t, "(?:YES|NO)", out)

	out, err = SerializeRegexFragment(NewSelect(NewLiteral("a.b"), NewLiteral("c+")))
	require.NoError(t, err)
	assert.Equal(t, `(?:a\.b|c\+)`, out)
}

func TestSerializeRegexFragmentRejectsOtherShapes(t *testing.T) {
	cases := []struct {
		name string
		node Node
	}{
		{"unconstrained", Unconstrained()},
		{"literal", NewLiteral("YES")},
		{"join", NewJoin(NewLiteral("a"), NewLiteral("b"))},
		{"select_with_regex", NewSelect(NewLiteral("a"), NewRegex("b"))},
		{"rule", &Rule{Name: "answer", Value: NewRegex("YES|NO")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SerializeRegexFragment(tc.node)
			require.Error(t, err)

			var unsupported *UnsupportedFeatureError
			assert.ErrorAs(t, err, &unsupported)
		})
	}
}
