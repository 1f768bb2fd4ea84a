package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

const shaperCatalogBody = `{"data": [
	{
		"id": "openai/gpt-4o",
		"supported_parameters": ["temperature", "top_p", "response_format", "logprobs", "top_logprobs", "tools", "reasoning"],
		"architecture": {"input_modalities": ["text"], "output_modalities": ["text"]}
	},
	{
		"id": "acme/plain",
		"supported_parameters": ["temperature", "response_format"],
		"architecture": {"input_modalities": ["text"], "output_modalities": ["text"]}
	},
	{
		"id": "acme/no-grammar",
		"supported_parameters": ["temperature", "structured_outputs"],
		"architecture": {"input_modalities": ["text"], "output_modalities": ["text"]}
	},
	{
		"id": "acme/image-gen",
		"supported_parameters": ["temperature"],
		"architecture": {"input_modalities": ["text"], "output_modalities": ["image"]}
	}
]}`

func newShaperResolver(t *testing.T) *capability.Resolver {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/models" {
			w.Write([]byte(shaperCatalogBody))
			return
		}
		w.Write([]byte(`{"data": {"endpoints": []}}`))
	}))
	t.Cleanup(server.Close)
	return capability.NewResolver(capability.Options{
		APIBase:    server.URL,
		HTTPClient: server.Client(),
		Cache:      capability.NewCache(),
	})
}

func yesNoGrammar() grammar.Node {
	return &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO"), Capture: "answer"}
}

func TestShapeDropsUnsupportedSamplingKnobs(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options: RequestOptions{
			Temperature:       floatPtr(0.3),
			TopP:              floatPtr(0.9),
			TopK:              intPtr(40),
			MinP:              floatPtr(0.05),
			RepetitionPenalty: floatPtr(1.1),
		},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)

	assert.Equal(t, 0.3, shaped.body["temperature"])
	assert.NotContains(t, shaped.body, "top_p")
	assert.NotContains(t, shaped.body, "top_k")
	assert.NotContains(t, shaped.body, "min_p")
	assert.NotContains(t, shaped.body, "repetition_penalty")
}

func TestShapeKeepsSupportedSamplingKnobs(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options:  RequestOptions{TopP: floatPtr(0.9)},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, 0.9, shaped.body["top_p"])
}

func TestShapeMergesMaxCompletionTokensIntoMaxTokens(t *testing.T) {
	resolver := newShaperResolver(t)
	ctx := context.Background()

	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options:  RequestOptions{MaxCompletionTokens: intPtr(64)},
	}
	shaped, err := shapeChatRequest(ctx, resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, 64, shaped.body["max_tokens"])

	// An explicit max_tokens wins over the completion-token spelling.
	request.Options.MaxTokens = intPtr(32)
	shaped, err = shapeChatRequest(ctx, resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, 32, shaped.body["max_tokens"])
}

func TestShapeRuleOverridesWinOverOptions(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar: &grammar.Rule{
			Name:        "answer",
			Value:       grammar.NewRegex("YES|NO"),
			Temperature: floatPtr(0.0),
			MaxTokens:   intPtr(8),
		},
		Options: RequestOptions{Temperature: floatPtr(0.7), MaxTokens: intPtr(100)},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, shaped.body["temperature"])
	assert.Equal(t, 8, shaped.body["max_tokens"])
}

func TestShapeAttachesGrammarResponseFormat(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "yes or no?"}},
		Grammar:  yesNoGrammar(),
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)

	responseFormat, ok := shaped.body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "grammar", responseFormat["type"])
	assert.Equal(t, "start: /YES|NO/", responseFormat["grammar"])
	assert.Equal(t, capability.FormatLark, shaped.format)

	// Constrained calls get the strict routing defaults.
	routing, ok := shaped.body["provider"].(*capability.ProviderRouting)
	require.True(t, ok)
	require.NotNil(t, routing.RequireParameters)
	require.NotNil(t, routing.AllowFallbacks)
	assert.True(t, *routing.RequireParameters)
	assert.False(t, *routing.AllowFallbacks)
}

func TestShapeKeepsCallerRoutingOrder(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar:  yesNoGrammar(),
		Options: RequestOptions{
			Provider: &capability.ProviderRouting{Order: []string{"OpenAI"}},
		},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	routing := shaped.body["provider"].(*capability.ProviderRouting)
	assert.Equal(t, []string{"OpenAI"}, routing.Order)
	assert.True(t, *routing.RequireParameters)
}

func TestShapeRejectsGrammarWithoutResponseFormatSupport(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/no-grammar",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar:  yesNoGrammar(),
	}

	_, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support grammar response formats")
}

func TestShapeRejectsNonTextOutputModels(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/image-gen",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}

	_, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not generate text output")
}

func TestShapeUnconstrainedSentinelSkipsGrammar(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar:  &grammar.Rule{Name: "free", Value: grammar.Unconstrained(), Capture: "free"},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.Nil(t, shaped.constraint)
	assert.NotContains(t, shaped.body, "response_format")
	assert.Equal(t, "free", shaped.behavior.capture)
}

func TestShapeLogprobDemotionDisablesBothKnobs(t *testing.T) {
	// acme/plain declares neither logprobs nor top_logprobs; the request
	// proceeds without either rather than failing.
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options:  RequestOptions{Logprobs: true, TopLogprobs: intPtr(5)},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.NotContains(t, shaped.body, "logprobs")
	assert.NotContains(t, shaped.body, "top_logprobs")
	assert.Equal(t, capability.LogprobsDisabled, shaped.logprobs)
}

func TestShapeCapsTopLogprobs(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options:  RequestOptions{Logprobs: true, TopLogprobs: intPtr(50)},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, true, shaped.body["logprobs"])
	assert.Equal(t, 20, shaped.body["top_logprobs"])
	assert.Equal(t, capability.LogprobsWithTop, shaped.logprobs)
}

func TestShapeReasoningEffortDefaults(t *testing.T) {
	resolver := newShaperResolver(t)
	ctx := context.Background()

	// Adapter default applies when the model declares reasoning.
	request := &GenerationRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}
	shaped, err := shapeChatRequest(ctx, resolver, request, "low")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"effort": "low"}, shaped.body["reasoning"])

	// The explicit caller value wins over the adapter default.
	request.Options.ReasoningEffort = "high"
	shaped, err = shapeChatRequest(ctx, resolver, request, "low")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"effort": "high"}, shaped.body["reasoning"])

	// Models without reasoning support drop the knob entirely.
	request.Model = "acme/plain"
	shaped, err = shapeChatRequest(ctx, resolver, request, "low")
	require.NoError(t, err)
	assert.NotContains(t, shaped.body, "reasoning")
}

func TestShapeLiftsLiteralStopOntoTheWire(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar: &grammar.Rule{
			Name:    "line",
			Value:   grammar.Unconstrained(),
			Capture: "line",
			Stop:    grammar.NewLiteral("\n"),
		},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.Equal(t, "\n", shaped.body["stop"])
	assert.Empty(t, shaped.behavior.stopPattern)
}

func TestShapeRegexStopStaysClientSide(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Grammar: &grammar.Rule{
			Name:        "answer",
			Value:       grammar.Unconstrained(),
			Capture:     "answer",
			Stop:        grammar.NewRegex("STOP"),
			StopCapture: "stopped",
		},
	}

	shaped, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.NoError(t, err)
	assert.NotContains(t, shaped.body, "stop")
	assert.Equal(t, "STOP", shaped.behavior.stopPattern)
	assert.Equal(t, "stopped", shaped.behavior.stopCapture)
}

func TestShapeStopCapturePromotesLiteralStop(t *testing.T) {
	// A literal stop with a stop capture must match client-side, because
	// the provider cuts the stream before the stop text arrives.
	behavior, err := liftRootRule(&grammar.Rule{
		Name:        "answer",
		Value:       grammar.Unconstrained(),
		Stop:        grammar.NewLiteral("END."),
		StopCapture: "stopped",
	}, "OpenRouter")
	require.NoError(t, err)
	assert.Empty(t, behavior.stopLiteral)
	assert.Equal(t, `END\.`, behavior.stopPattern)
}

func TestShapeRefusesRuleSuffix(t *testing.T) {
	_, err := liftRootRule(&grammar.Rule{
		Name:   "answer",
		Value:  grammar.NewRegex("YES|NO"),
		Suffix: grammar.NewLiteral("\n"),
	}, "OpenRouter")
	require.Error(t, err)
	var unsupported *grammar.UnsupportedFeatureError
	assert.ErrorAs(t, err, &unsupported)
}

func TestShapeRefusesToolsWithoutSupport(t *testing.T) {
	resolver := newShaperResolver(t)
	request := &GenerationRequest{
		Model:    "acme/plain",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Options:  RequestOptions{Tools: []map[string]any{{"type": "function"}}},
	}

	_, err := shapeChatRequest(context.Background(), resolver, request, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support tool calls")
}

func TestValidateChatRequest(t *testing.T) {
	var misuse *RequestMisuseError

	err := validateChatRequest(&GenerationRequest{})
	require.ErrorAs(t, err, &misuse)

	err = validateChatRequest(&GenerationRequest{Messages: []Message{{Role: "tool", Content: "x"}}})
	require.ErrorAs(t, err, &misuse)

	err = validateChatRequest(&GenerationRequest{Messages: []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "prefilled"},
	}})
	require.ErrorAs(t, err, &misuse)

	err = validateChatRequest(&GenerationRequest{Messages: []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: ""},
	}})
	assert.NoError(t, err)
}

func TestWireMessagesSkipTrailingEmptyAssistantTurn(t *testing.T) {
	messages := wireMessages([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: ""},
	})
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0]["role"])
}
