package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/logger"
	"github.com/Conceptual-Machines/grammar-gateway/internal/metrics"
	"github.com/Conceptual-Machines/grammar-gateway/internal/prompt"
)

const (
	probeMaxTokens   = 8
	probeTemperature = 0.0
	probeTimeout     = 45 * time.Second
)

// grammarDefinitions holds the canonical YES|NO constraint in every probed
// dialect. The user prompt asks for MAYBE, so an endpoint that really
// enforces the grammar can only answer YES or NO.
var grammarDefinitions = map[capability.Format]string{
	capability.FormatRegex: "YES|NO",
	capability.FormatLark:  "start: /YES|NO/",
	capability.FormatGBNF:  `root ::= "YES" | "NO"`,
}

// GrammarDefinition returns the canonical probe grammar in one dialect.
func GrammarDefinition(format capability.Format) (string, bool) {
	definition, ok := grammarDefinitions[format]
	return definition, ok
}

// Outcome classifies one probe round trip.
type Outcome string

const (
	// OutcomeReject means the provider refused the grammar request.
	OutcomeReject Outcome = "reject"
	// OutcomeObey means the provider enforced the grammar.
	OutcomeObey Outcome = "obey"
	// OutcomeIgnore means the provider answered but ignored the grammar.
	OutcomeIgnore Outcome = "ignore"
)

// Result is one (model, provider, format) probe round trip.
type Result struct {
	ID        string  `json:"id"`
	Model     string  `json:"model"`
	Provider  string  `json:"provider"`
	Format    string  `json:"format"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS int64   `json:"latency_ms"`
	ProbedAt  string  `json:"probed_at"`
}

// RunnerConfig configures a probe Runner.
type RunnerConfig struct {
	APIBase       string
	APIKey        string
	HTTPClient    *http.Client
	Metrics       *metrics.Client
	SentryMetrics *metrics.SentryMetrics
}

// Runner sends canonical grammar-constrained requests through the gateway's
// upstream and classifies how each routed provider responds.
type Runner struct {
	apiBase       string
	apiKey        string
	client        *http.Client
	prompts       *prompt.Loader
	metrics       *metrics.Client
	sentryMetrics *metrics.SentryMetrics
}

// NewRunner creates a probe runner.
func NewRunner(config RunnerConfig) *Runner {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Runner{
		apiBase:       capability.NormalizeAPIBase(config.APIBase),
		apiKey:        config.APIKey,
		client:        client,
		prompts:       prompt.NewPromptLoader(),
		metrics:       config.Metrics,
		sentryMetrics: config.SentryMetrics,
	}
}

// Run probes every (model, provider, format) combination and assembles the
// discovery report. Individual failures are classified, never fatal; only a
// broken prompt bundle aborts the run.
func (r *Runner) Run(ctx context.Context, models, providers []string, formats []capability.Format) (*Report, error) {
	systemPrompt, err := r.prompts.GetProbeSystemPrompt()
	if err != nil {
		return nil, fmt.Errorf("load probe system prompt: %w", err)
	}
	userPrompt, err := r.prompts.GetProbeUserPrompt()
	if err != nil {
		return nil, fmt.Errorf("load probe user prompt: %w", err)
	}

	var results []Result
	for _, model := range models {
		for _, provider := range providers {
			for _, format := range formats {
				definition, ok := grammarDefinitions[format]
				if !ok {
					logger.Warn("skipping unknown probe format", logger.Fields{"format": string(format)})
					continue
				}
				result := r.probeOne(ctx, model, provider, format, definition, systemPrompt, userPrompt)
				results = append(results, result)
				r.recordOutcome(result)
			}
		}
	}

	formatNames := make([]string, 0, len(formats))
	for _, format := range formats {
		formatNames = append(formatNames, string(format))
	}
	return BuildReport(r.apiBase, models, formatNames, results), nil
}

// probeOne sends one canonical constrained request pinned to a single
// provider and classifies the answer.
func (r *Runner) probeOne(
	ctx context.Context,
	model, provider string,
	format capability.Format,
	definition, systemPrompt, userPrompt string,
) Result {
	started := time.Now()
	result := Result{
		ID:       uuid.New().String(),
		Model:    model,
		Provider: provider,
		Format:   string(format),
		ProbedAt: started.UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"max_tokens":  probeMaxTokens,
		"temperature": probeTemperature,
		"provider": map[string]any{
			"order":              []string{provider},
			"allow_fallbacks":    false,
			"require_parameters": true,
		},
		"response_format": map[string]any{
			"type":    "grammar",
			"grammar": definition,
		},
	}

	outcome, detail := r.send(ctx, payload)
	result.Outcome = outcome
	result.Detail = detail
	result.LatencyMS = time.Since(started).Milliseconds()

	log.Printf("🔬 PROBE %s @ %s [%s]: %s (%dms)", model, provider, format, outcome, result.LatencyMS)
	return result
}

func (r *Runner) send(ctx context.Context, payload map[string]any) (Outcome, string) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return OutcomeReject, fmt.Sprintf("encode probe request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiBase+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return OutcomeReject, fmt.Sprintf("build probe request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return OutcomeReject, fmt.Sprintf("probe request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OutcomeReject, fmt.Sprintf("read probe response: %v", err)
	}
	return classifyResponse(resp.StatusCode, body)
}

// classifyResponse maps one upstream answer to a probe outcome: any HTTP
// error or structured error body is a rejection, a grammar-conforming answer
// is obedience, anything else means the constraint was ignored.
func classifyResponse(statusCode int, body []byte) (Outcome, string) {
	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	// A malformed body on a 2xx still means the provider took the request.
	_ = json.Unmarshal(body, &decoded)

	errorMessage := strings.TrimSpace(decoded.Error.Message)
	if statusCode >= http.StatusBadRequest || errorMessage != "" {
		if errorMessage == "" {
			errorMessage = fmt.Sprintf("HTTP %d", statusCode)
		}
		return OutcomeReject, errorMessage
	}

	text := ""
	if len(decoded.Choices) > 0 {
		text = strings.TrimSpace(decoded.Choices[0].Message.Content)
	}
	if text == "YES" || text == "NO" {
		return OutcomeObey, text
	}
	return OutcomeIgnore, truncateDetail(text)
}

func truncateDetail(text string) string {
	const maxDetailChars = 120
	if len(text) <= maxDetailChars {
		return text
	}
	return text[:maxDetailChars] + "..."
}

func (r *Runner) recordOutcome(result Result) {
	if r.metrics != nil {
		r.metrics.RecordProbeOutcome(result.Provider, result.Format, string(result.Outcome))
	}
	if r.sentryMetrics != nil {
		r.sentryMetrics.RecordProbeOutcome(result.Provider, result.Format, string(result.Outcome), time.Duration(result.LatencyMS)*time.Millisecond)
	}
}
