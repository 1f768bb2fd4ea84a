package llm

import (
	"context"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
)

// Chat roles accepted on generation requests.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names used by the factory and in telemetry.
const (
	ProviderNameOpenRouter      = "openrouter"
	ProviderNameOpenAIResponses = "openai-responses"
)

// Provider defines the interface for constrained-generation backends.
// All providers MUST enforce the request grammar, either natively via the
// provider's response_format or by local re-validation of the transcript.
type Provider interface {
	// Generate extends the chat transcript and returns the collected result.
	Generate(ctx context.Context, request *GenerationRequest) (*GenerationResult, error)

	// GenerateStream extends the chat transcript with streaming events.
	// The returned result carries the same text, captures, and usage the
	// callback saw.
	GenerateStream(ctx context.Context, request *GenerationRequest, callback StreamCallback) (*GenerationResult, error)

	// Name returns the provider name (e.g., "openrouter", "openai-responses")
	Name() string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest contains all parameters needed for generation.
// A nil Grammar means unconstrained generation.
type GenerationRequest struct {
	Model    string
	Messages []Message
	Grammar  grammar.Node
	Options  RequestOptions
}

// RequestOptions carries the sampling and transport knobs of a request.
// Pointer fields are absent when nil; the shaper decides which present ones
// the routed providers will actually honor.
type RequestOptions struct {
	Temperature         *float64                    `json:"temperature,omitempty"`
	TopP                *float64                    `json:"top_p,omitempty"`
	TopK                *int                        `json:"top_k,omitempty"`
	MinP                *float64                    `json:"min_p,omitempty"`
	RepetitionPenalty   *float64                    `json:"repetition_penalty,omitempty"`
	MaxTokens           *int                        `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                        `json:"max_completion_tokens,omitempty"`
	Stop                []string                    `json:"stop,omitempty"`
	Logprobs            bool                        `json:"logprobs,omitempty"`
	TopLogprobs         *int                        `json:"top_logprobs,omitempty"`
	ReasoningEffort     string                      `json:"reasoning_effort,omitempty"`
	Tools               []map[string]any            `json:"tools,omitempty"`
	Provider            *capability.ProviderRouting `json:"provider,omitempty"`
	Metadata            map[string]string           `json:"metadata,omitempty"`
	User                string                      `json:"user,omitempty"`
	ServiceTier         string                      `json:"service_tier,omitempty"`
}

// GenerationResult contains the collected outcome of a generation.
type GenerationResult struct {
	Text     string
	Captures []CaptureEvent
	Usage    *UsageEvent
	// RewindBytes counts the buffered bytes discarded from the stop match
	// onward when a stop pattern fired. Zero when no stop matched.
	RewindBytes int
}

// StreamCallback is called for each streaming event. Returning a non-nil
// error cancels the generation.
type StreamCallback func(event StreamEvent) error

// StreamEvent is one ordered item of a generation stream. Ordering is part
// of the contract: text and token events first, then the usage event, then
// the primary capture, then validation captures.
type StreamEvent interface {
	Kind() string
}

// TextEvent is a span of generated or reasoning text. The first text event
// of a stream carries the time to first token in LatencyMS.
type TextEvent struct {
	Value       string
	IsGenerated bool
	Reasoning   bool
	LatencyMS   int64
}

func (TextEvent) Kind() string { return "text" }

// TokenEvent is one generated token with its probability metadata.
type TokenEvent struct {
	Value   string
	LogProb *float64
	Bytes   []int
}

func (TokenEvent) Kind() string { return "token" }

// CaptureEvent assigns a named capture. Append marks list captures.
type CaptureEvent struct {
	Name    string
	Value   string
	LogProb *float64
	Append  bool
}

func (CaptureEvent) Kind() string { return "capture" }

// UsageEvent is the terminal accounting record of a generation.
type UsageEvent struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	RoundTrips        int
	TTFTMS            int64
	TotalLatencyMS    int64
}

func (UsageEvent) Kind() string { return "usage" }
