package llm

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
)

// ruleBehavior is the generation behavior lifted off a request grammar's
// root rule before its value goes to a translator: captures, stop handling,
// and per-call sampling overrides. Translators refuse rules that carry
// behavior inside a grammar body, so the root rule is the only place these
// attributes are honored.
type ruleBehavior struct {
	value       grammar.Node
	capture     string
	listAppend  bool
	temperature *float64
	maxTokens   *int
	stopLiteral string
	stopPattern string
	stopCapture string
}

// liftRootRule peels the behavior attributes off the root rule. Literal
// stops ride the wire as a stop sequence; regex stops are matched
// client-side. A literal stop with a stop capture is promoted to a
// client-side match too, because the provider cuts the stream before the
// stop text ever arrives.
func liftRootRule(node grammar.Node, providerLabel string) (*ruleBehavior, error) {
	behavior := &ruleBehavior{value: node}
	rule, ok := node.(*grammar.Rule)
	if !ok {
		return behavior, nil
	}

	if rule.Suffix != nil {
		return nil, &grammar.UnsupportedFeatureError{
			Reason: fmt.Sprintf("rule suffixes are not supported for %s generation", providerLabel),
		}
	}
	behavior.value = rule.Value
	behavior.capture = rule.Capture
	behavior.listAppend = rule.ListAppend
	behavior.temperature = rule.Temperature
	behavior.maxTokens = rule.MaxTokens
	behavior.stopCapture = rule.StopCapture

	switch stop := rule.Stop.(type) {
	case nil:
	case *grammar.Literal:
		behavior.stopLiteral = stop.Value
	case *grammar.Regex:
		if stop.Pattern == nil {
			return nil, &grammar.UnsupportedFeatureError{
				Reason: fmt.Sprintf("unconstrained regex stop conditions are not supported for %s generation", providerLabel),
			}
		}
		behavior.stopPattern = *stop.Pattern
	default:
		return nil, &grammar.UnsupportedFeatureError{
			Reason: fmt.Sprintf("%s stop nodes are not supported for %s generation", grammar.Kind(rule.Stop), providerLabel),
		}
	}

	if behavior.stopCapture != "" && behavior.stopPattern == "" {
		if behavior.stopLiteral == "" {
			return nil, &grammar.UnsupportedFeatureError{
				Reason: fmt.Sprintf("stop captures need a stop condition for %s generation", providerLabel),
			}
		}
		behavior.stopPattern = regexp.QuoteMeta(behavior.stopLiteral)
		behavior.stopLiteral = ""
	}
	return behavior, nil
}

// unconstrainedValue reports whether node is the sentinel that accepts any
// output, which turns the call into plain unconstrained generation.
func unconstrainedValue(node grammar.Node) bool {
	r, ok := node.(*grammar.Regex)
	return ok && r.Pattern == nil
}

// serializeGrammarDefinition lowers the grammar into the wire string for the
// chosen dialect.
func serializeGrammarDefinition(format capability.Format, node grammar.Node) (string, error) {
	switch format {
	case capability.FormatGBNF:
		return grammar.SerializeGBNF(node)
	case capability.FormatRegex:
		return grammar.SerializeRegexFragment(node)
	default:
		return grammar.SerializeLark(node)
	}
}

// shapedRequest is a generation request after capability negotiation: lifted
// root-rule behavior, merged sampling fields, the chosen dialect, and the
// serialized grammar payload the wire body carries.
type shapedRequest struct {
	body       map[string]any
	behavior   *ruleBehavior
	constraint grammar.Node // local validation target, nil when unconstrained
	format     capability.Format
	definition string
	logprobs   capability.LogprobsMode
}

// shapeChatRequest composes the chat-completions wire body from caller
// options, the request grammar, and the capability resolver's answers for
// the routed providers. Constrained calls get the strict routing defaults so
// a provider that cannot honor the grammar is never silently substituted.
func shapeChatRequest(ctx context.Context, resolver *capability.Resolver, request *GenerationRequest, defaultReasoningEffort string) (*shapedRequest, error) {
	behavior := &ruleBehavior{}
	if request.Grammar != nil {
		lifted, err := liftRootRule(request.Grammar, "OpenRouter")
		if err != nil {
			return nil, err
		}
		behavior = lifted
	}
	constrained := behavior.value != nil && !unconstrainedValue(behavior.value)

	routing := request.Options.Provider
	if constrained {
		routing = routing.WithConstraintDefaults()
	}

	shaped := &shapedRequest{
		body:     map[string]any{},
		behavior: behavior,
		logprobs: capability.LogprobsDisabled,
	}
	model := request.Model

	// Refusing non-text models needs catalog evidence; a model the catalog
	// does not list stays eligible.
	if resolver.ModelMetadataFor(ctx, model) != nil && !resolver.SupportsOutputModality(ctx, model, "text") {
		return nil, fmt.Errorf("OpenRouter model '%s' does not generate text output", model)
	}

	// Sampling: the root rule's overrides win over the caller's options, and
	// knobs the routed endpoints do not declare are dropped.
	temperature := request.Options.Temperature
	if behavior.temperature != nil {
		temperature = behavior.temperature
	}
	if temperature != nil {
		shaped.body["temperature"] = *temperature
	}

	maxTokens := request.Options.MaxTokens
	if maxTokens == nil {
		maxTokens = request.Options.MaxCompletionTokens
	}
	if behavior.maxTokens != nil {
		maxTokens = behavior.maxTokens
	}
	if maxTokens != nil {
		shaped.body["max_tokens"] = *maxTokens
	}

	if request.Options.TopP != nil && resolver.ParameterSupported(ctx, model, "top_p", routing) {
		shaped.body["top_p"] = *request.Options.TopP
	}
	if request.Options.TopK != nil && resolver.ParameterSupported(ctx, model, "top_k", routing) {
		shaped.body["top_k"] = *request.Options.TopK
	}
	if request.Options.MinP != nil && resolver.ParameterSupported(ctx, model, "min_p", routing) {
		shaped.body["min_p"] = *request.Options.MinP
	}
	if request.Options.RepetitionPenalty != nil && resolver.ParameterSupported(ctx, model, "repetition_penalty", routing) {
		shaped.body["repetition_penalty"] = *request.Options.RepetitionPenalty
	}

	stops := append([]string(nil), request.Options.Stop...)
	if behavior.stopLiteral != "" {
		stops = append(stops, behavior.stopLiteral)
	}
	switch len(stops) {
	case 0:
	case 1:
		shaped.body["stop"] = stops[0]
	default:
		shaped.body["stop"] = stops
	}

	if constrained {
		if !resolver.SupportsGrammarResponseFormat(ctx, model, routing) {
			return nil, fmt.Errorf("OpenRouter model '%s' does not support grammar response formats for the current provider routing", model)
		}
		format := resolver.GrammarFormatFor(routing)
		definition, err := serializeGrammarDefinition(format, behavior.value)
		if err != nil {
			return nil, fmt.Errorf("OpenRouter grammar adapter '%s' cannot represent this grammar: %w", format, err)
		}
		shaped.constraint = behavior.value
		shaped.format = format
		shaped.definition = definition
		shaped.body["response_format"] = map[string]any{
			"type":    "grammar",
			"grammar": definition,
		}
		log.Printf("🧩 GRAMMAR RESPONSE FORMAT: model=%s dialect=%s grammar=%d bytes", model, format, len(definition))
	}

	// Reasoning effort: the explicit option wins over the adapter default,
	// and both are dropped for models that do not declare reasoning.
	effort := strings.TrimSpace(request.Options.ReasoningEffort)
	if effort == "" {
		effort = strings.TrimSpace(defaultReasoningEffort)
	}
	if effort != "" && resolver.SupportsReasoning(ctx, model, routing) {
		shaped.body["reasoning"] = map[string]any{"effort": effort}
	}

	// Token log-probs, demoted to whatever the routed endpoints declare.
	mode, topLogprobs := resolver.EffectiveLogprobsMode(ctx, model, routing, request.Options.Logprobs, request.Options.TopLogprobs)
	shaped.logprobs = mode
	switch mode {
	case capability.LogprobsWithTop:
		shaped.body["logprobs"] = true
		if topLogprobs != nil {
			shaped.body["top_logprobs"] = *topLogprobs
		}
	case capability.LogprobsOnly:
		shaped.body["logprobs"] = true
	}
	if request.Options.Logprobs && mode == capability.LogprobsDisabled {
		log.Printf("⚠️ LOGPROBS DEMOTED: model=%s does not declare logprobs for the current routing", model)
	} else if request.Options.TopLogprobs != nil && mode == capability.LogprobsOnly {
		log.Printf("⚠️ TOP_LOGPROBS DEMOTED: model=%s keeps logprobs without per-token alternatives", model)
	}

	if len(request.Options.Tools) > 0 {
		if !resolver.SupportsTools(ctx, model, routing) {
			return nil, fmt.Errorf("OpenRouter model '%s' does not support tool calls for the current provider routing", model)
		}
		shaped.body["tools"] = request.Options.Tools
	}

	if routing != nil {
		shaped.body["provider"] = routing
	}
	if request.Options.User != "" {
		shaped.body["user"] = request.Options.User
	}

	return shaped, nil
}
