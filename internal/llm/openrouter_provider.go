package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/stream"
)

const (
	// Provider label used in error values and telemetry
	providerLabelOpenRouter = "OpenRouter"

	// Logging limits
	maxLogChunkCount      = 5
	maxErrorResponseChars = 500
)

// OpenRouterProvider implements the Provider interface on the OpenRouter
// chat-completions API. Grammars ride the request as a grammar
// response_format and are enforced locally after the stream ends, because
// routed upstreams are free to ignore the constraint.
type OpenRouterProvider struct {
	client          *openai.Client
	apiBase         string
	resolver        *capability.Resolver
	reasoningEffort string
}

// OpenRouterConfig configures an OpenRouterProvider.
type OpenRouterConfig struct {
	APIKey          string
	APIBase         string               // defaults to the public OpenRouter API
	ReasoningEffort string               // adapter-wide default, dropped when the model lacks reasoning
	HTTPClient      *http.Client         // streaming client; must not carry a global timeout
	Resolver        *capability.Resolver // shared capability resolver, built from the config when nil
}

// NewOpenRouterProvider creates a new OpenRouter provider.
func NewOpenRouterProvider(config OpenRouterConfig) *OpenRouterProvider {
	apiBase := capability.NormalizeAPIBase(config.APIBase)
	resolver := config.Resolver
	if resolver == nil {
		resolver = capability.NewResolver(capability.Options{
			APIBase: apiBase,
			APIKey:  config.APIKey,
		})
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(apiBase + "/"),
	}
	if config.HTTPClient != nil {
		clientOptions = append(clientOptions, option.WithHTTPClient(config.HTTPClient))
	}
	client := openai.NewClient(clientOptions...)

	return &OpenRouterProvider{
		client:          &client,
		apiBase:         apiBase,
		resolver:        resolver,
		reasoningEffort: config.ReasoningEffort,
	}
}

// Name returns the provider name
func (p *OpenRouterProvider) Name() string {
	return ProviderNameOpenRouter
}

// Resolver exposes the capability resolver backing this provider.
func (p *OpenRouterProvider) Resolver() *capability.Resolver {
	return p.resolver
}

// Generate implements non-streaming generation. The wire call still streams
// so stop matching and log-prob accumulation behave identically; events are
// collected into the result instead of forwarded.
func (p *OpenRouterProvider) Generate(ctx context.Context, request *GenerationRequest) (*GenerationResult, error) {
	return p.GenerateStream(ctx, request, nil)
}

// GenerateStream implements streaming generation over the OpenRouter
// chat-completions API.
func (p *OpenRouterProvider) GenerateStream(
	ctx context.Context,
	request *GenerationRequest,
	callback StreamCallback,
) (*GenerationResult, error) {
	startTime := time.Now()
	log.Printf("🎵 OPENROUTER GENERATION REQUEST STARTED (Model: %s)", request.Model)

	// Start Sentry transaction
	transaction := sentry.StartTransaction(ctx, "openrouter.generate_stream")
	defer transaction.Finish()

	transaction.SetTag("model", request.Model)
	transaction.SetTag("provider", ProviderNameOpenRouter)
	transaction.SetTag("constrained", fmt.Sprintf("%t", request.Grammar != nil))

	if err := validateChatRequest(request); err != nil {
		transaction.SetTag("success", "false")
		return nil, err
	}

	shaped, err := shapeChatRequest(ctx, p.resolver, request, p.reasoningEffort)
	if err != nil {
		transaction.SetTag("success", "false")
		return nil, err
	}
	if shaped.constraint != nil {
		transaction.SetTag("grammar_format", string(shaped.format))
	}

	span := transaction.StartChild("openrouter.api_stream")
	result, err := p.streamCompletion(ctx, request, shaped, callback, startTime)
	span.Finish()

	if err != nil {
		log.Printf("❌ OPENROUTER REQUEST FAILED after %v: %v", time.Since(startTime), err)
		transaction.SetTag("success", "false")
		sentry.CaptureException(err)
		return nil, err
	}

	transaction.SetTag("success", "true")
	log.Printf("✅ OPENROUTER GENERATION COMPLETED in %v (%d chars)", time.Since(startTime), len(result.Text))
	return result, nil
}

// validateChatRequest rejects transcripts the adapter cannot extend: the
// call always appends a fresh assistant turn.
func validateChatRequest(request *GenerationRequest) error {
	if len(request.Messages) == 0 {
		return misusef("chat generation requires at least one message in the transcript")
	}
	for _, message := range request.Messages {
		switch message.Role {
		case RoleSystem, RoleDeveloper, RoleUser, RoleAssistant:
		default:
			return misusef("unsupported chat role '%s'", message.Role)
		}
	}
	last := request.Messages[len(request.Messages)-1]
	if last.Role == RoleAssistant && last.Content != "" {
		return misusef("pre-filled assistant content is not supported; generation starts a fresh assistant turn")
	}
	return nil
}

// wireMessages flattens the transcript into chat-completions messages. A
// trailing empty assistant turn is the one being generated and stays off
// the wire.
func wireMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for i, message := range messages {
		if i == len(messages)-1 && message.Role == RoleAssistant && message.Content == "" {
			break
		}
		out = append(out, map[string]any{"role": message.Role, "content": message.Content})
	}
	return out
}

// sdkMessages converts the transcript to the SDK's message unions.
func sdkMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, message := range messages {
		if i == len(messages)-1 && message.Role == RoleAssistant && message.Content == "" {
			break
		}
		switch message.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(message.Content))
		case RoleDeveloper:
			out = append(out, openai.DeveloperMessage(message.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(message.Content))
		default:
			out = append(out, openai.UserMessage(message.Content))
		}
	}
	return out
}

// streamCompletion performs the streaming round trip through the SDK and
// feeds the response through the chat pipeline. Everything the shaper
// negotiated beyond the standard parameters (provider routing, the grammar
// response_format, OpenRouter sampling extensions) rides the body via
// request options.
func (p *OpenRouterProvider) streamCompletion(
	ctx context.Context,
	request *GenerationRequest,
	shaped *shapedRequest,
	callback StreamCallback,
	startTime time.Time,
) (*GenerationResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: sdkMessages(request.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	requestOptions := make([]option.RequestOption, 0, len(shaped.body))
	for key, value := range shaped.body {
		requestOptions = append(requestOptions, option.WithJSONSet(key, value))
	}

	pipeline, err := newChatPipeline(shaped, providerLabelOpenRouter, request.Model, callback, startTime)
	if err != nil {
		return nil, err
	}

	log.Printf("🚀 OPENROUTER STREAMING REQUEST: model=%s (%d shaped fields)", request.Model, len(shaped.body))
	completionStream := p.client.Chat.Completions.NewStreaming(ctx, params, requestOptions...)
	defer func() {
		if closeErr := completionStream.Close(); closeErr != nil {
			log.Printf("⚠️  Failed to close completion stream: %v", closeErr)
		}
	}()

	for completionStream.Next() && !pipeline.stopped() {
		raw := []byte(completionStream.Current().RawJSON())
		// Some upstreams surface mid-stream failures as an error payload
		// on a regular data line.
		if parseAPIErrorMessage(raw) != "" {
			return nil, p.wrapStreamError(raw, request, shaped)
		}
		chunk, parseErr := stream.ParseChunk(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("decode openrouter stream chunk: %w", parseErr)
		}
		if err := pipeline.handleChunk(chunk); err != nil {
			return nil, err
		}
	}
	if err := completionStream.Err(); err != nil && !pipeline.stopped() {
		return nil, p.classifyTransportError(err, request, shaped)
	}

	return pipeline.finish()
}

// classifyTransportError turns an SDK error into the right kind: refusals
// of the grammar request become ProviderRejectedError, anything else passes
// through unchanged.
func (p *OpenRouterProvider) classifyTransportError(err error, request *GenerationRequest, shaped *shapedRequest) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openrouter request failed: %w", err)
	}

	message := strings.TrimSpace(apiErr.Message)
	if message == "" {
		if parsed := parseAPIErrorMessage([]byte(apiErr.RawJSON())); parsed != "" {
			message = parsed
		} else {
			message = apiErr.Error()
		}
	}
	log.Printf("❌ OPENROUTER API ERROR %d: %s", apiErr.StatusCode, truncateString(message, maxErrorResponseChars))

	failureText := fmt.Sprintf("openrouter returned status %d: %s %s", apiErr.StatusCode, message, apiErr.RawJSON())
	if shaped.constraint != nil && LooksLikeProviderRejection(failureText) {
		return &ProviderRejectedError{
			Provider:   providerLabelOpenRouter,
			Model:      request.Model,
			StatusCode: apiErr.StatusCode,
			Message:    message,
		}
	}
	return err
}

// parseAPIErrorMessage pulls the message out of an {"error":{"message":...}}
// payload, or returns "" when the body is not that shape.
func parseAPIErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Error.Message)
}

// wrapStreamError classifies an upstream error payload: refusals of the
// grammar request become ProviderRejectedError, everything else passes
// through unchanged.
func (p *OpenRouterProvider) wrapStreamError(raw []byte, request *GenerationRequest, shaped *shapedRequest) error {
	message := parseAPIErrorMessage(raw)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	log.Printf("❌ OPENROUTER STREAM ERROR: %s", truncateString(message, maxErrorResponseChars))

	if shaped.constraint != nil && LooksLikeProviderRejection(string(raw)) {
		return &ProviderRejectedError{
			Provider: providerLabelOpenRouter,
			Model:    request.Model,
			Message:  message,
		}
	}
	return fmt.Errorf("openrouter stream error: %s", message)
}

// chatPipeline applies the streaming pipeline to chat-completion chunks:
// normalize the chunk, record token log-probs, gate text through the stop
// matcher, and keep the running text for the terminal validation pass.
type chatPipeline struct {
	label        string
	model        string
	shaped       *shapedRequest
	callback     StreamCallback
	matcher      *stream.StreamingRegexStopMatcher
	accumulator  *stream.CaptureLogProbAccumulator
	startTime    time.Time
	firstEventAt time.Time
	generated    strings.Builder
	stopText     string
	rewindBytes  int
	captures     []CaptureEvent
	usage        *stream.Usage
	chunkCount   int
}

func newChatPipeline(shaped *shapedRequest, label, model string, callback StreamCallback, startTime time.Time) (*chatPipeline, error) {
	pipeline := &chatPipeline{
		label:       label,
		model:       model,
		shaped:      shaped,
		callback:    callback,
		accumulator: &stream.CaptureLogProbAccumulator{},
		startTime:   startTime,
	}
	if shaped.behavior.stopPattern != "" {
		matcher, err := stream.NewStreamingRegexStopMatcher(shaped.behavior.stopPattern)
		if err != nil {
			return nil, err
		}
		pipeline.matcher = matcher
	}
	return pipeline, nil
}

func (pl *chatPipeline) stopped() bool {
	return pl.matcher != nil && pl.matcher.Matched()
}

// logprobsRequested reports whether the shaped request actually asked the
// upstream for token log-probs. Some upstreams volunteer logprob records
// anyway; those are dropped rather than surfaced as token events.
func (pl *chatPipeline) logprobsRequested() bool {
	return pl.shaped.logprobs == capability.LogprobsOnly ||
		pl.shaped.logprobs == capability.LogprobsWithTop
}

func (pl *chatPipeline) emit(event StreamEvent) error {
	if pl.callback == nil {
		return nil
	}
	return pl.callback(event)
}

func (pl *chatPipeline) emitCapture(capture CaptureEvent) error {
	pl.captures = append(pl.captures, capture)
	return pl.emit(capture)
}

// emitText forwards released text. The first event of the stream is stamped
// with its latency.
func (pl *chatPipeline) emitText(text string, reasoning bool) error {
	if text == "" {
		return nil
	}
	pl.generated.WriteString(text)
	event := TextEvent{Value: text, IsGenerated: true, Reasoning: reasoning}
	if pl.firstEventAt.IsZero() {
		pl.firstEventAt = time.Now()
		event.LatencyMS = pl.firstEventAt.Sub(pl.startTime).Milliseconds()
	}
	return pl.emit(event)
}

func (pl *chatPipeline) handleChunk(chunk *stream.Chunk) error {
	pl.chunkCount++
	if pl.chunkCount <= maxLogChunkCount {
		log.Printf("📥 Stream chunk #%d: choices=%d", pl.chunkCount, len(chunk.Choices))
	}
	if chunk.Usage != nil {
		pl.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	// Token log-probs feed the capture accumulator even while the matcher
	// holds text back; alignment against the final capture decides whether
	// their sum survives.
	if pl.logprobsRequested() {
		for _, token := range stream.ExtractTokenLogprobs(chunk) {
			pl.accumulator.Add(token.Token, token.Logprob)
			if pl.stopped() {
				continue
			}
			if pl.firstEventAt.IsZero() {
				pl.firstEventAt = time.Now()
			}
			if err := pl.emit(TokenEvent{Value: token.Token, LogProb: token.Logprob, Bytes: token.Bytes}); err != nil {
				return err
			}
		}
	}

	if content := choice.Delta.Content; content != "" {
		if err := pl.pushText(content, false); err != nil {
			return err
		}
	}
	if reasoning := choice.Delta.ReasoningContent; reasoning != "" && pl.shaped.constraint != nil {
		// Some upstreams return the grammar-constrained output on the
		// reasoning channel; under a grammar response_format it counts as
		// generated text. Unconstrained reasoning chatter is not emitted.
		if err := pl.pushText(reasoning, true); err != nil {
			return err
		}
	}
	return nil
}

// pushText routes delta text through the stop matcher when one is armed and
// forwards whatever is safe to release.
func (pl *chatPipeline) pushText(text string, reasoning bool) error {
	if pl.stopped() {
		return nil
	}
	if pl.matcher == nil {
		return pl.emitText(text, reasoning)
	}

	update := pl.matcher.Feed(text)
	if err := pl.emitText(update.EmitText, reasoning); err != nil {
		return err
	}
	if update.Matched {
		pl.stopText = update.StopText
		pl.rewindBytes = update.RewindBytes
		log.Printf("🛑 STOP MATCH: %q fired after %d chars (rewind %d)", update.StopText, pl.generated.Len(), update.RewindBytes)
		if name := pl.shaped.behavior.stopCapture; name != "" && pl.shaped.constraint == nil {
			return pl.emitCapture(CaptureEvent{Name: name, Value: update.StopText})
		}
	}
	return nil
}

// finish drains the matcher and emits the terminal events in contract
// order: usage first, then the primary capture, then captures from local
// validation. Validation runs before anything is surfaced so a failed call
// never leaks partial captures.
func (pl *chatPipeline) finish() (*GenerationResult, error) {
	if pl.matcher != nil && !pl.matcher.Matched() {
		update := pl.matcher.Finish()
		if err := pl.emitText(update.EmitText, false); err != nil {
			return nil, err
		}
	}
	text := pl.generated.String()

	var validated []CaptureEvent
	if pl.shaped.constraint != nil {
		events, err := validateLocalConstraint(pl.label, pl.model, pl.shaped.constraint, text, pl.accumulator)
		if err != nil {
			return nil, err
		}
		validated = events
	}

	usage := &UsageEvent{
		RoundTrips:     1,
		TotalLatencyMS: time.Since(pl.startTime).Milliseconds(),
	}
	if pl.firstEventAt.IsZero() {
		usage.TTFTMS = usage.TotalLatencyMS
	} else {
		usage.TTFTMS = pl.firstEventAt.Sub(pl.startTime).Milliseconds()
	}
	if pl.usage != nil {
		usage.InputTokens = pl.usage.InputTokens
		usage.OutputTokens = pl.usage.OutputTokens
		usage.CachedInputTokens = pl.usage.CachedInputTokens
	}
	if err := pl.emit(*usage); err != nil {
		return nil, err
	}

	if name := pl.shaped.behavior.capture; name != "" {
		capture := CaptureEvent{
			Name:    name,
			Value:   text,
			LogProb: pl.accumulator.LogProbForText(text),
			Append:  pl.shaped.behavior.listAppend,
		}
		if err := pl.emitCapture(capture); err != nil {
			return nil, err
		}
	}
	if name := pl.shaped.behavior.stopCapture; name != "" && pl.shaped.constraint != nil && pl.matcher != nil && pl.matcher.Matched() {
		if err := pl.emitCapture(CaptureEvent{Name: name, Value: pl.stopText}); err != nil {
			return nil, err
		}
	}
	for _, capture := range validated {
		if err := pl.emitCapture(capture); err != nil {
			return nil, err
		}
	}

	return &GenerationResult{
		Text:        text,
		Captures:    pl.captures,
		Usage:       usage,
		RewindBytes: pl.rewindBytes,
	}, nil
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
