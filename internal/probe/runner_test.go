package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
)

func TestRunProbesEveryCombination(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer probe-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		provider := body["provider"].(map[string]any)["order"].([]any)[0].(string)
		w.Header().Set("Content-Type", "application/json")
		switch provider {
		case "enforcer":
			fmt.Fprint(w, `{"choices":[{"message":{"content":"NO"}}]}`)
		case "ignorer":
			fmt.Fprint(w, `{"choices":[{"message":{"content":"MAYBE"}}]}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"grammar response_format is unsupported"}}`)
		}
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{
		APIBase:    server.URL,
		APIKey:     "probe-key",
		HTTPClient: server.Client(),
	})

	models := []string{"openai/gpt-4o"}
	providers := []string{"enforcer", "ignorer", "refuser"}
	formats := []capability.Format{capability.FormatRegex, capability.FormatLark, capability.FormatGBNF}

	report, err := runner.Run(context.Background(), models, providers, formats)
	require.NoError(t, err)
	require.Len(t, report.Results, 9)
	require.Len(t, bodies, 9)

	// Every request carries the canonical pinned-provider shape.
	first := bodies[0]
	assert.Equal(t, float64(probeMaxTokens), first["max_tokens"])
	assert.Equal(t, 0.0, first["temperature"])
	routing := first["provider"].(map[string]any)
	assert.Equal(t, false, routing["allow_fallbacks"])
	assert.Equal(t, true, routing["require_parameters"])
	responseFormat := first["response_format"].(map[string]any)
	assert.Equal(t, "grammar", responseFormat["type"])
	assert.Equal(t, "YES|NO", responseFormat["grammar"])
	messages := first["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "You are concise.", messages[0].(map[string]any)["content"])
	assert.Equal(t, "Reply with MAYBE only.", messages[1].(map[string]any)["content"])

	enforcer := report.Providers["enforcer"]
	assert.True(t, enforcer.SupportsGrammar)
	// All three dialects obeyed with no rejects, so the name tiebreak picks
	// the first alphabetically.
	assert.Equal(t, "gbnf", enforcer.RecommendedFormat)
	assert.Equal(t, 3, enforcer.Totals[string(OutcomeObey)])

	ignorer := report.Providers["ignorer"]
	assert.False(t, ignorer.SupportsGrammar)
	assert.Empty(t, ignorer.RecommendedFormat)
	assert.Equal(t, 3, ignorer.Totals[string(OutcomeIgnore)])

	refuser := report.Providers["refuser"]
	assert.False(t, refuser.SupportsGrammar)
	assert.Equal(t, 3, refuser.Totals[string(OutcomeReject)])
	assert.Equal(t, "grammar response_format is unsupported", report.Results[8].Detail)

	assert.Equal(t, []string{"enforcer"}, report.GrammarProviders())
	assert.Equal(t, map[string]int{"obey": 3, "ignore": 3, "reject": 3}, report.ModelsSummary["openai/gpt-4o"])
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		body       string
		outcome    Outcome
		detail     string
	}{
		{"obeys yes", 200, `{"choices":[{"message":{"content":" YES "}}]}`, OutcomeObey, "YES"},
		{"obeys no", 200, `{"choices":[{"message":{"content":"NO"}}]}`, OutcomeObey, "NO"},
		{"ignores", 200, `{"choices":[{"message":{"content":"MAYBE"}}]}`, OutcomeIgnore, "MAYBE"},
		{"empty answer ignores", 200, `{"choices":[{"message":{"content":""}}]}`, OutcomeIgnore, ""},
		{"http error", 404, `not found`, OutcomeReject, "HTTP 404"},
		{"structured error on 200", 200, `{"error":{"message":"provider unavailable"}}`, OutcomeReject, "provider unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, detail := classifyResponse(tc.statusCode, []byte(tc.body))
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.detail, detail)
		})
	}
}

func TestGrammarDefinitions(t *testing.T) {
	definition, ok := GrammarDefinition(capability.FormatLark)
	require.True(t, ok)
	assert.Equal(t, "start: /YES|NO/", definition)

	definition, ok = GrammarDefinition(capability.FormatGBNF)
	require.True(t, ok)
	assert.Equal(t, `root ::= "YES" | "NO"`, definition)

	_, ok = GrammarDefinition(capability.Format("ebnf"))
	assert.False(t, ok)
}
