package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
)

func newTestResponsesProvider(t *testing.T, handler http.HandlerFunc) *OpenAIResponsesProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/responses", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewOpenAIResponsesProvider(OpenAIResponsesConfig{
		APIKey:     "test-key",
		APIBase:    server.URL,
		HTTPClient: server.Client(),
	})
}

func responsesBody(toolName, input string, inputTokens, outputTokens int) string {
	return fmt.Sprintf(`{
		"output": [
			{"type": "reasoning", "summary": []},
			{"type": "custom_tool_call", "name": %s, "input": %s}
		],
		"usage": {"input_tokens": %d, "output_tokens": %d}
	}`, mustJSON(toolName), mustJSON(input), inputTokens, outputTokens)
}

func TestResponsesGenerateGrammarRoundTrip(t *testing.T) {
	var wireBody map[string]any
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		wireBody = decodeWireBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, responsesBody(responsesToolName, "YES", 20, 1))
	})

	collector := &eventCollector{}
	result, err := provider.GenerateStream(context.Background(), &GenerationRequest{
		Model:    "gpt-5.1",
		Messages: []Message{{Role: RoleUser, Content: "yes or no?"}},
		Grammar:  &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO"), Capture: "answer"},
	}, collector.collect)
	require.NoError(t, err)

	// Grammar rides the forced custom tool; text format stays plain text.
	tools, ok := wireBody["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "custom", tool["type"])
	assert.Equal(t, responsesToolName, tool["name"])
	format := tool["format"].(map[string]any)
	assert.Equal(t, "grammar", format["type"])
	assert.Equal(t, "regex", format["syntax"])
	assert.Equal(t, "YES|NO", format["definition"])

	toolChoice := wireBody["tool_choice"].(map[string]any)
	assert.Equal(t, "custom", toolChoice["type"])
	assert.Equal(t, responsesToolName, toolChoice["name"])
	assert.Equal(t, false, wireBody["parallel_tool_calls"])
	text := wireBody["text"].(map[string]any)
	assert.Equal(t, "text", text["format"].(map[string]any)["type"])

	assert.Equal(t, "YES", result.Text)
	require.Len(t, result.Captures, 1)
	assert.Equal(t, "answer", result.Captures[0].Name)
	assert.Equal(t, "YES", result.Captures[0].Value)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 20, result.Usage.InputTokens)
	assert.Equal(t, 1, result.Usage.OutputTokens)

	require.Len(t, collector.events, 3)
	assert.Equal(t, "text", collector.events[0].Kind())
	assert.Equal(t, "usage", collector.events[1].Kind())
	assert.Equal(t, "capture", collector.events[2].Kind())
}

func TestResponsesGrammarDefinitionSyntaxSelection(t *testing.T) {
	syntax, definition, err := responsesGrammarDefinition(grammar.NewRegex("[0-9]+"))
	require.NoError(t, err)
	assert.Equal(t, "regex", syntax)
	assert.Equal(t, "[0-9]+", definition)

	// Selects over literals compress to an escaped regex alternation.
	syntax, definition, err = responsesGrammarDefinition(grammar.NewSelect(
		grammar.NewLiteral("a.b"),
		grammar.NewLiteral("c"),
	))
	require.NoError(t, err)
	assert.Equal(t, "regex", syntax)
	assert.Equal(t, `(?:a\.b|c)`, definition)

	// Anything structured serializes to lark.
	syntax, definition, err = responsesGrammarDefinition(grammar.NewJoin(
		grammar.NewLiteral("id="),
		grammar.NewRegex("[0-9]+"),
	))
	require.NoError(t, err)
	assert.Equal(t, "lark", syntax)
	assert.Contains(t, definition, "start:")
}

func TestResponsesRejectsChatOnlyOptions(t *testing.T) {
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the wire")
	})
	base := func() *GenerationRequest {
		return &GenerationRequest{
			Model:    "gpt-5.1",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
			Grammar:  &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO")},
		}
	}

	var misuse *RequestMisuseError

	request := base()
	request.Options.TopK = intPtr(40)
	_, err := provider.Generate(context.Background(), request)
	require.ErrorAs(t, err, &misuse)

	request = base()
	request.Options.Stop = []string{"\n"}
	_, err = provider.Generate(context.Background(), request)
	require.ErrorAs(t, err, &misuse)

	request = base()
	request.Options.Tools = []map[string]any{{"type": "function"}}
	_, err = provider.Generate(context.Background(), request)
	require.ErrorAs(t, err, &misuse)

	request = base()
	request.Grammar = nil
	_, err = provider.Generate(context.Background(), request)
	require.ErrorAs(t, err, &misuse)

	request = base()
	request.Grammar = &grammar.Rule{Name: "free", Value: grammar.Unconstrained()}
	_, err = provider.Generate(context.Background(), request)
	require.ErrorAs(t, err, &misuse)
}

func TestResponsesValidationFailure(t *testing.T) {
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, responsesBody(responsesToolName, "MAYBE", 10, 2))
	})

	collector := &eventCollector{}
	_, err := provider.Generate(context.Background(), &GenerationRequest{
		Model:    "gpt-5.1",
		Messages: []Message{{Role: RoleUser, Content: "yes or no?"}},
		Grammar:  &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO"), Capture: "answer"},
	})

	var validation *ValidationFailedError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, collector.captures())
}

func TestResponsesNon200BecomesProviderRejection(t *testing.T) {
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid grammar definition"}}`)
	})

	_, err := provider.Generate(context.Background(), &GenerationRequest{
		Model:    "gpt-5.1",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar:  &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO")},
	})

	var rejected *ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "Invalid grammar definition", rejected.Message)
}

func TestResponsesMissingToolOutputBecomesProviderRejection(t *testing.T) {
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"output":[{"type":"message","content":[]}],"usage":{"input_tokens":3,"output_tokens":0}}`)
	})

	_, err := provider.Generate(context.Background(), &GenerationRequest{
		Model:    "gpt-5.1",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar:  &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO")},
	})

	var rejected *ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Message, "custom tool output")
}

func TestResponsesLiteralStopRunsLocally(t *testing.T) {
	provider := newTestResponsesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, responsesBody(responsesToolName, "line one\nline two", 10, 6))
	})

	result, err := provider.Generate(context.Background(), &GenerationRequest{
		Model:    "gpt-5.1",
		Messages: []Message{{Role: RoleUser, Content: "go"}},
		Grammar: &grammar.Rule{
			Name:    "line",
			Value:   grammar.NewRegex("[^\\n]*"),
			Capture: "line",
			Stop:    grammar.NewLiteral("\n"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "line one", result.Text)
	require.Len(t, result.Captures, 1)
	assert.Equal(t, "line", result.Captures[0].Name)
	assert.Equal(t, "line one", result.Captures[0].Value)
}

func TestLooksLikeProviderRejection(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"Provider returned error: grammar not supported", true},
		{"response_format is unsupported for this model", true},
		{"Invalid structured output request", true},
		{"rate limit exceeded", false},
		{"grammar compiled fine", false},
		{"unsupported parameter: frequency_penalty", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LooksLikeProviderRejection(tc.message), tc.message)
	}
}

func TestProviderFactoryRouting(t *testing.T) {
	factory := NewProviderFactory(FactoryConfig{
		OpenRouterAPIKey: "or-key",
		OpenAIAPIKey:     "oa-key",
	})
	ctx := context.Background()

	provider, err := factory.GetProvider(ctx, "openai/gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenRouter, provider.Name())

	provider, err = factory.GetProvider(ctx, "gpt-5.1", "")
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenAIResponses, provider.Name())

	provider, err = factory.GetProvider(ctx, "anything", ProviderNameOpenAIResponses)
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenAIResponses, provider.Name())

	_, err = factory.GetProvider(ctx, "anything", "bogus")
	require.Error(t, err)

	bare := NewProviderFactory(FactoryConfig{})
	_, err = bare.GetProvider(ctx, "openai/gpt-4o", "")
	require.Error(t, err)
}
