package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Conceptual-Machines/grammar-school-go/gs"
	"github.com/getsentry/sentry-go"

	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
	"github.com/Conceptual-Machines/grammar-gateway/internal/stream"
)

const (
	// Provider label used in error values and telemetry
	providerLabelOpenAIResponses = "OpenAI Responses"

	defaultOpenAIAPIBase = "https://api.openai.com/v1"

	// Custom tool carrying the grammar on the Responses API
	responsesToolName        = "grammar_output"
	responsesToolDescription = "Grammar constrained generation"
)

// OpenAIResponsesProvider implements grammar-constrained generation on the
// OpenAI Responses API. The grammar rides a forced custom tool whose format
// carries a lark or regex definition; the call is one non-streaming round
// trip and events are synthesized from the final payload.
type OpenAIResponsesProvider struct {
	apiKey          string
	apiBase         string
	client          *http.Client
	reasoningEffort string
}

// OpenAIResponsesConfig configures an OpenAIResponsesProvider.
type OpenAIResponsesConfig struct {
	APIKey          string
	APIBase         string // defaults to the public OpenAI API
	ReasoningEffort string
	HTTPClient      *http.Client
}

// NewOpenAIResponsesProvider creates a new OpenAI Responses provider.
func NewOpenAIResponsesProvider(config OpenAIResponsesConfig) *OpenAIResponsesProvider {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIResponsesProvider{
		apiKey:          config.APIKey,
		apiBase:         normalizeOpenAIAPIBase(config.APIBase),
		client:          client,
		reasoningEffort: config.ReasoningEffort,
	}
}

func normalizeOpenAIAPIBase(apiBase string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if trimmed == "" {
		return defaultOpenAIAPIBase
	}
	return trimmed
}

// Name returns the provider name
func (p *OpenAIResponsesProvider) Name() string {
	return ProviderNameOpenAIResponses
}

// Generate implements non-streaming generation.
func (p *OpenAIResponsesProvider) Generate(ctx context.Context, request *GenerationRequest) (*GenerationResult, error) {
	return p.GenerateStream(ctx, request, nil)
}

// GenerateStream implements the Provider interface. The Responses API call
// itself never streams; the callback receives the synthesized event
// sequence after the round trip completes.
func (p *OpenAIResponsesProvider) GenerateStream(
	ctx context.Context,
	request *GenerationRequest,
	callback StreamCallback,
) (*GenerationResult, error) {
	startTime := time.Now()
	log.Printf("🎵 OPENAI RESPONSES GRAMMAR REQUEST STARTED (Model: %s)", request.Model)

	// Start Sentry transaction
	transaction := sentry.StartTransaction(ctx, "openai_responses.generate")
	defer transaction.Finish()

	transaction.SetTag("model", request.Model)
	transaction.SetTag("provider", ProviderNameOpenAIResponses)

	shaped, err := p.shapeResponsesRequest(request)
	if err != nil {
		transaction.SetTag("success", "false")
		return nil, err
	}
	transaction.SetTag("grammar_syntax", shaped.syntax)

	span := transaction.StartChild("openai_responses.api_call")
	body, err := p.makeResponsesRequest(ctx, shaped.payload, request.Model)
	span.Finish()
	if err == nil {
		var result *GenerationResult
		result, err = p.finishResponses(body, request, shaped, callback, startTime)
		if err == nil {
			transaction.SetTag("success", "true")
			log.Printf("✅ OPENAI RESPONSES GENERATION COMPLETED in %v (%d chars)", time.Since(startTime), len(result.Text))
			return result, nil
		}
	}

	log.Printf("❌ OPENAI RESPONSES REQUEST FAILED after %v: %v", time.Since(startTime), err)
	transaction.SetTag("success", "false")
	sentry.CaptureException(err)
	return nil, err
}

// responsesShapedRequest pairs the wire payload with the lifted rule
// behavior the post-call pipeline needs.
type responsesShapedRequest struct {
	payload map[string]any
	shaped  *shapedRequest
	syntax  string
}

// shapeResponsesRequest builds the Responses API payload. Options that only
// exist on the chat-completions variant are misuse here, not silently
// dropped, so a caller never gets an unconstrained sample by accident.
func (p *OpenAIResponsesProvider) shapeResponsesRequest(request *GenerationRequest) (*responsesShapedRequest, error) {
	if err := validateResponsesRequest(request); err != nil {
		return nil, err
	}
	options := request.Options

	if options.TopK != nil {
		return nil, misusef("OpenAI Responses grammar path does not support top_k sampling")
	}
	if options.MinP != nil {
		return nil, misusef("OpenAI Responses grammar path does not support min_p sampling")
	}
	if options.RepetitionPenalty != nil {
		return nil, misusef("OpenAI Responses grammar path does not support repetition_penalty")
	}
	if len(options.Stop) > 0 {
		return nil, misusef("OpenAI Responses grammar path does not support stop sequences")
	}
	if len(options.Tools) > 0 {
		return nil, misusef("OpenAI Responses grammar path does not support tool calls")
	}

	if request.Grammar == nil {
		return nil, misusef("OpenAI Responses grammar generation requires a grammar constraint")
	}
	behavior, err := liftRootRule(request.Grammar, providerLabelOpenAIResponses)
	if err != nil {
		return nil, err
	}
	if unconstrainedValue(behavior.value) {
		return nil, misusef("OpenAI Responses grammar generation requires a grammar constraint")
	}
	// There is no wire-level stop on this API; literal stops run through
	// the local matcher instead.
	if behavior.stopLiteral != "" && behavior.stopPattern == "" {
		behavior.stopPattern = regexp.QuoteMeta(behavior.stopLiteral)
		behavior.stopLiteral = ""
	}

	syntax, definition, err := responsesGrammarDefinition(behavior.value)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"model": request.Model,
		"input": wireMessages(request.Messages),
	}

	temperature := options.Temperature
	if behavior.temperature != nil {
		temperature = behavior.temperature
	}
	if temperature != nil {
		payload["temperature"] = *temperature
	}
	if options.TopP != nil {
		payload["top_p"] = *options.TopP
	}

	maxOutputTokens := options.MaxCompletionTokens
	if maxOutputTokens == nil {
		maxOutputTokens = options.MaxTokens
	}
	if behavior.maxTokens != nil {
		maxOutputTokens = behavior.maxTokens
	}
	if maxOutputTokens != nil {
		payload["max_output_tokens"] = *maxOutputTokens
	}

	effort := strings.TrimSpace(options.ReasoningEffort)
	if effort == "" {
		effort = strings.TrimSpace(p.reasoningEffort)
	}
	if effort != "" {
		payload["reasoning"] = map[string]any{"effort": effort}
	}

	if len(options.Metadata) > 0 {
		payload["metadata"] = options.Metadata
	}
	if options.User != "" {
		payload["user"] = options.User
	}
	if options.ServiceTier != "" {
		payload["service_tier"] = options.ServiceTier
	}

	cfgTool := gs.BuildOpenAICFGTool(gs.CFGConfig{
		ToolName:    responsesToolName,
		Description: responsesToolDescription,
		Grammar:     definition,
		Syntax:      syntax,
	})
	log.Printf("🔧 CFG GRAMMAR CONFIGURED: %s (syntax: %s)", responsesToolName, syntax)

	// Text format must stay plain text when a CFG tool is attached
	payload["text"] = gs.GetOpenAITextFormatForCFG()
	payload["tools"] = []any{cfgTool}
	payload["tool_choice"] = map[string]any{"type": "custom", "name": responsesToolName}
	payload["parallel_tool_calls"] = false

	return &responsesShapedRequest{
		payload: payload,
		shaped:  &shapedRequest{behavior: behavior, constraint: behavior.value},
		syntax:  syntax,
	}, nil
}

func validateResponsesRequest(request *GenerationRequest) error {
	if len(request.Messages) == 0 {
		return misusef("OpenAI Responses grammar generation requires at least one message in the transcript")
	}
	for _, message := range request.Messages {
		switch message.Role {
		case RoleSystem, RoleDeveloper, RoleUser, RoleAssistant:
		default:
			return misusef("unsupported chat role '%s' for OpenAI Responses grammar generation", message.Role)
		}
	}
	last := request.Messages[len(request.Messages)-1]
	if last.Role == RoleAssistant && last.Content != "" {
		return misusef("OpenAI Responses grammar generation cannot continue a pre-filled assistant message")
	}
	return nil
}

// responsesGrammarDefinition picks the custom-tool syntax for a grammar.
// Plain regex values and selects over literals travel as a regex
// definition; everything else serializes to lark.
func responsesGrammarDefinition(node grammar.Node) (syntax string, definition string, err error) {
	switch value := node.(type) {
	case *grammar.Regex:
		if value.Pattern != nil {
			return gs.SyntaxRegex, *value.Pattern, nil
		}
	case *grammar.Select:
		alternatives := make([]string, 0, len(value.Alternatives))
		for _, option := range value.Alternatives {
			literal, ok := option.(*grammar.Literal)
			if !ok {
				alternatives = nil
				break
			}
			alternatives = append(alternatives, regexp.QuoteMeta(literal.Value))
		}
		if len(alternatives) > 0 {
			return gs.SyntaxRegex, "(?:" + strings.Join(alternatives, "|") + ")", nil
		}
	}

	definition, err = grammar.SerializeLark(node)
	if err != nil {
		return "", "", err
	}
	return gs.SyntaxLark, definition, nil
}

// makeResponsesRequest sends the raw HTTP request to the Responses API. Any
// non-200 answer on this path is a rejection of the constrained request;
// transport failures pass through unchanged.
func (p *OpenAIResponsesProvider) makeResponsesRequest(ctx context.Context, payload map[string]any, model string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode responses request: %w", err)
	}

	log.Printf("📤 Making raw HTTP request (JSON size: %d bytes)", len(encoded))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/responses", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai responses request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("⚠️  Failed to close response body: %v", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read responses body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(body))
		if parsed := parseAPIErrorMessage(body); parsed != "" {
			message = parsed
		}
		log.Printf("❌ OPENAI RESPONSES API ERROR %d: %s", resp.StatusCode, truncateString(message, maxErrorResponseChars))
		return nil, &ProviderRejectedError{
			Provider:   providerLabelOpenAIResponses,
			Model:      model,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
	return body, nil
}

// responsesAPIResponse is the slice of the Responses payload this adapter
// consumes.
type responsesAPIResponse struct {
	Output []responsesOutputItem `json:"output"`
	Usage  *responsesUsage       `json:"usage"`
}

type responsesOutputItem struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

// finishResponses extracts the custom tool output and drives it through the
// shared pipeline so validation, captures, and event order match the
// streaming variant.
func (p *OpenAIResponsesProvider) finishResponses(
	body []byte,
	request *GenerationRequest,
	shaped *responsesShapedRequest,
	callback StreamCallback,
	startTime time.Time,
) (*GenerationResult, error) {
	var decoded responsesAPIResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode responses payload: %w", err)
	}
	if len(decoded.Output) == 0 {
		return nil, &ProviderRejectedError{
			Provider: providerLabelOpenAIResponses,
			Model:    request.Model,
			Message:  "response did not include an output list",
		}
	}

	text := ""
	found := false
	for _, item := range decoded.Output {
		if item.Type == "custom_tool_call" && item.Name == responsesToolName {
			text = item.Input
			found = true
			break
		}
	}
	if !found {
		return nil, &ProviderRejectedError{
			Provider: providerLabelOpenAIResponses,
			Model:    request.Model,
			Message:  "response did not include a matching custom tool output",
		}
	}

	pipeline, err := newChatPipeline(shaped.shaped, providerLabelOpenAIResponses, request.Model, callback, startTime)
	if err != nil {
		return nil, err
	}
	if decoded.Usage != nil {
		pipeline.usage = &stream.Usage{
			InputTokens:       decoded.Usage.InputTokens,
			OutputTokens:      decoded.Usage.OutputTokens,
			CachedInputTokens: decoded.Usage.InputTokensDetails.CachedTokens,
		}
	}
	if err := pipeline.pushText(text, false); err != nil {
		return nil, err
	}
	return pipeline.finish()
}
