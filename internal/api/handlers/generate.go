package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
	"github.com/Conceptual-Machines/grammar-gateway/internal/llm"
	"github.com/Conceptual-Machines/grammar-gateway/internal/logger"
	"github.com/Conceptual-Machines/grammar-gateway/internal/metrics"
	"github.com/Conceptual-Machines/grammar-gateway/internal/observability"
)

// GenerateHandler runs grammar-constrained generations and streams the
// events back over SSE.
type GenerateHandler struct {
	factory       *llm.ProviderFactory
	resolver      *capability.Resolver
	cwMetrics     *metrics.Client
	sentryMetrics *metrics.SentryMetrics
}

func NewGenerateHandler(
	factory *llm.ProviderFactory,
	resolver *capability.Resolver,
	cwMetrics *metrics.Client,
	sentryMetrics *metrics.SentryMetrics,
) *GenerateHandler {
	return &GenerateHandler{
		factory:       factory,
		resolver:      resolver,
		cwMetrics:     cwMetrics,
		sentryMetrics: sentryMetrics,
	}
}

// GenerateRequest is the wire form of a generation call. Grammar carries the
// JSON-encoded node tree; absent means unconstrained.
type GenerateRequest struct {
	Model    string             `json:"model" binding:"required"`
	Provider string             `json:"provider,omitempty"`
	Messages []llm.Message      `json:"messages" binding:"required"`
	Grammar  json.RawMessage    `json:"grammar,omitempty"`
	Options  llm.RequestOptions `json:"options"`
}

// Generate streams a constrained generation as SSE events: text and token
// events as they arrive, then usage, then the captures, then a final done
// event. Errors raised before the first event map to their taxonomy status;
// errors mid-stream become an SSE error event.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	var grammarNode grammar.Node
	if len(req.Grammar) > 0 {
		decoded, err := grammar.DecodeNode(req.Grammar)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid grammar", "message": err.Error()})
			return
		}
		grammarNode = decoded
	}

	provider, err := h.factory.GetProvider(c.Request.Context(), req.Model, req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No provider available", "message": err.Error()})
		return
	}

	log.Printf("🎯 GENERATE: model=%s provider=%s constrained=%t messages=%d",
		req.Model, provider.Name(), grammarNode != nil, len(req.Messages))

	request := &llm.GenerationRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Grammar:  grammarNode,
		Options:  req.Options,
	}

	trace := observability.GetClient().StartTrace(c.Request.Context(), "generate", map[string]interface{}{
		"request_id":  c.GetString("request_id"),
		"provider":    provider.Name(),
		"constrained": grammarNode != nil,
	})
	generation := trace.Generation("constrained-generation", nil)
	defer trace.Finish()

	streaming := false
	startSSE := func() {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no") // Disable nginx buffering
		c.Header("X-Request-ID", c.GetString("request_id"))
		c.Writer.Flush()
		streaming = true
	}

	writeEvent := func(event gin.H) error {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", eventJSON); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	started := time.Now()
	callback := func(event llm.StreamEvent) error {
		if !streaming {
			startSSE()
		}
		return writeEvent(wireEvent(event))
	}

	result, err := provider.GenerateStream(c.Request.Context(), request, callback)
	duration := time.Since(started)

	if err != nil {
		h.recordGeneration(c, req.Model, nil, duration, false)
		status := statusForGenerationError(err)
		generation.SetLevel("ERROR")
		generation.Metadata(map[string]interface{}{"error": err.Error(), "status": status})
		generation.Finish()
		logger.Error("Generation failed", err, logger.Fields{
			"request_id": c.GetString("request_id"),
			"model":      req.Model,
			"provider":   provider.Name(),
			"status":     status,
		})
		if !streaming {
			c.JSON(status, gin.H{"error": "Generation failed", "message": err.Error()})
			return
		}
		_ = writeEvent(gin.H{"type": "error", "status": status, "message": err.Error()})
		return
	}

	h.recordGeneration(c, req.Model, result.Usage, duration, true)

	if !streaming {
		startSSE()
	}
	done := gin.H{
		"type":       "done",
		"request_id": c.GetString("request_id"),
		"text":       result.Text,
		"captures":   wireCaptures(result.Captures),
	}
	if result.RewindBytes > 0 {
		done["rewind_bytes"] = result.RewindBytes
	}
	var cost *observability.CostEstimate
	inputTokens, outputTokens := 0, 0
	if result.Usage != nil {
		inputTokens, outputTokens = result.Usage.InputTokens, result.Usage.OutputTokens
		done["usage"] = wireUsage(*result.Usage)
		if estimate, ok := observability.EstimateCost(c.Request.Context(), h.resolver, req.Model, inputTokens, outputTokens); ok {
			cost = estimate
			done["cost_usd"] = estimate.TotalUSD
		}
	}

	generation.LogGenerationResult(req.Model, wireTranscript(req.Messages), result.Text, inputTokens, outputTokens, cost, map[string]interface{}{
		"provider":    provider.Name(),
		"constrained": grammarNode != nil,
		"captures":    len(result.Captures),
	})
	generation.Finish()

	_ = writeEvent(done)
}

// wireTranscript flattens the request messages into the generic transcript
// shape the tracing sink takes.
func wireTranscript(messages []llm.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, message := range messages {
		out = append(out, map[string]interface{}{
			"role":    message.Role,
			"content": message.Content,
		})
	}
	return out
}

// wireEvent maps one stream event to its SSE payload.
func wireEvent(event llm.StreamEvent) gin.H {
	switch e := event.(type) {
	case llm.TextEvent:
		out := gin.H{"type": "text", "value": e.Value, "generated": e.IsGenerated}
		if e.Reasoning {
			out["reasoning"] = true
		}
		if e.LatencyMS > 0 {
			out["latency_ms"] = e.LatencyMS
		}
		return out
	case llm.TokenEvent:
		out := gin.H{"type": "token", "value": e.Value}
		if e.LogProb != nil {
			out["logprob"] = *e.LogProb
		}
		return out
	case llm.CaptureEvent:
		return wireCapture(e)
	case llm.UsageEvent:
		return gin.H{"type": "usage", "usage": wireUsage(e)}
	default:
		return gin.H{"type": event.Kind()}
	}
}

func wireCapture(e llm.CaptureEvent) gin.H {
	out := gin.H{"type": "capture", "name": e.Name, "value": e.Value}
	if e.LogProb != nil {
		out["logprob"] = *e.LogProb
	}
	if e.Append {
		out["append"] = true
	}
	return out
}

func wireCaptures(captures []llm.CaptureEvent) []gin.H {
	out := make([]gin.H, 0, len(captures))
	for _, capture := range captures {
		out = append(out, wireCapture(capture))
	}
	return out
}

func wireUsage(usage llm.UsageEvent) gin.H {
	return gin.H{
		"input_tokens":        usage.InputTokens,
		"output_tokens":       usage.OutputTokens,
		"cached_input_tokens": usage.CachedInputTokens,
		"round_trips":         usage.RoundTrips,
		"ttft_ms":             usage.TTFTMS,
		"total_latency_ms":    usage.TotalLatencyMS,
	}
}

// statusForGenerationError maps the generation error taxonomy to HTTP
// statuses: misuse and inexpressible grammars are the caller's fault,
// failed re-validation means the output is unusable, and an upstream
// refusal is a bad gateway.
func statusForGenerationError(err error) int {
	var misuse *llm.RequestMisuseError
	var unsupported *grammar.UnsupportedFeatureError
	var validation *llm.ValidationFailedError
	var rejected *llm.ProviderRejectedError
	switch {
	case errors.As(err, &misuse), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *GenerateHandler) recordGeneration(c *gin.Context, model string, usage *llm.UsageEvent, duration time.Duration, success bool) {
	ctx := c.Request.Context()
	if h.cwMetrics != nil {
		h.cwMetrics.RecordGenerationDuration(duration, success)
		if usage != nil {
			h.cwMetrics.RecordTokenUsage(model, usage.InputTokens, usage.OutputTokens, usage.CachedInputTokens)
		}
	}
	if h.sentryMetrics != nil {
		h.sentryMetrics.RecordGenerationDuration(ctx, duration, success)
		if usage != nil {
			h.sentryMetrics.RecordTokenUsage(ctx, model, usage.InputTokens, usage.OutputTokens, usage.CachedInputTokens)
		}
	}
	if usage != nil {
		logger.LogGenerationRequest(ctx, model, duration, map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.InputTokens + usage.OutputTokens,
		}, logger.Fields{
			"request_id": c.GetString("request_id"),
		})
	}
}
