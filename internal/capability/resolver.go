package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/roundtrippers"

	"github.com/Conceptual-Machines/grammar-gateway/internal/logger"
)

const fetchTimeout = 6 * time.Second

// TopLogprobsSafeMax is the largest top_logprobs fan-out any provider
// accepts; larger requests are rejected outright by some of them.
const TopLogprobsSafeMax = 20

// grammarFormatHints maps provider-name markers to the grammar dialect the
// provider wants instead of the default Lark.
var grammarFormatHints = map[string]Format{
	"fireworks": FormatGBNF,
}

// FormatHint supplies an out-of-band grammar-format recommendation per
// provider, typically loaded from a probed policy artifact.
type FormatHint interface {
	RecommendedFormat(provider string) (Format, bool)
}

// LookupRecorder observes catalog and endpoint lookups, typically backed by
// a metrics sink.
type LookupRecorder interface {
	RecordCapabilityLookup(kind string, hit bool)
}

// Resolver answers capability questions about models and providers, backed
// by the /models catalog and per-model endpoint listings.
type Resolver struct {
	apiBase string
	apiKey  string
	cache   *Cache
	client  *http.Client
	hint    FormatHint
	lookups LookupRecorder
}

// Options configure a Resolver. Zero values fall back to the public
// OpenRouter API, a fresh cache, and an anonymous HTTP client.
type Options struct {
	APIBase    string
	APIKey     string
	Cache      *Cache
	HTTPClient *http.Client
	FormatHint FormatHint
	Lookups    LookupRecorder
}

// NewResolver creates a resolver for one API base and key.
func NewResolver(opts Options) *Resolver {
	apiKey := strings.TrimSpace(opts.APIKey)
	client := opts.HTTPClient
	if client == nil {
		var transport http.RoundTripper = &roundtrippers.RequestID{Transport: http.DefaultTransport}
		if apiKey != "" {
			transport = &roundtrippers.Header{
				Header:    http.Header{"Authorization": {"Bearer " + apiKey}},
				Transport: transport,
			}
		}
		client = &http.Client{Timeout: fetchTimeout, Transport: transport}
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		apiBase: NormalizeAPIBase(opts.APIBase),
		apiKey:  apiKey,
		cache:   cache,
		client:  client,
		hint:    opts.FormatHint,
		lookups: opts.Lookups,
	}
}

func (r *Resolver) recordLookup(kind string, hit bool) {
	if r.lookups != nil {
		r.lookups.RecordCapabilityLookup(kind, hit)
	}
}

// APIBase returns the normalized API base the resolver queries.
func (r *Resolver) APIBase() string {
	return r.apiBase
}

// Catalog returns the model catalog, fetching it when the cached copy has
// expired. A failed fetch comes back empty and is held briefly so a broken
// upstream is not hammered.
func (r *Resolver) Catalog(ctx context.Context) map[string]*ModelMetadata {
	key := catalogKey{apiBase: r.apiBase, apiKey: r.apiKey}
	if models, ok := r.cache.catalogFor(key); ok {
		r.recordLookup("catalog", true)
		return models
	}
	r.recordLookup("catalog", false)

	models, ok := r.fetchCatalog(ctx)
	ttl := catalogTTL
	if !ok {
		models = map[string]*ModelMetadata{}
		ttl = catalogFailureTTL
	}
	r.cache.storeCatalog(key, models, ttl)
	return models
}

func (r *Resolver) fetchCatalog(ctx context.Context) (map[string]*ModelMetadata, bool) {
	body, err := r.getJSON(ctx, r.apiBase+"/models")
	if err != nil {
		logger.Warn("model catalog fetch failed", logger.Fields{
			"api_base": r.apiBase,
			"error":    err.Error(),
		})
		return nil, false
	}
	catalog, err := parseCatalogPayload(body)
	if err != nil {
		return nil, false
	}
	return catalog, true
}

// ModelEndpoints returns the provider endpoints serving a model.
func (r *Resolver) ModelEndpoints(ctx context.Context, model string) []Endpoint {
	endpointsURL := r.endpointsURL(model)
	if endpointsURL == "" {
		return nil
	}
	key := endpointsKey{apiBase: r.apiBase, model: NormalizeModelName(model)}
	if items, ok := r.cache.endpointsFor(key); ok {
		r.recordLookup("endpoints", true)
		return items
	}
	r.recordLookup("endpoints", false)

	items, ok := r.fetchEndpoints(ctx, endpointsURL)
	ttl := endpointsTTL
	if !ok {
		items = nil
		ttl = endpointsFailureTTL
	}
	r.cache.storeEndpoints(key, items, ttl)
	return items
}

func (r *Resolver) endpointsURL(model string) string {
	modelText := strings.Trim(strings.TrimSpace(model), "/")
	if modelText == "" {
		return ""
	}
	if author, slug, ok := strings.Cut(modelText, "/"); ok {
		return r.apiBase + "/models/" + url.PathEscape(author) + "/" + url.PathEscape(slug) + "/endpoints"
	}
	return r.apiBase + "/models/" + url.PathEscape(modelText) + "/endpoints"
}

func (r *Resolver) fetchEndpoints(ctx context.Context, endpointsURL string) ([]Endpoint, bool) {
	body, err := r.getJSON(ctx, endpointsURL)
	if err != nil {
		logger.Warn("model endpoints fetch failed", logger.Fields{
			"url":   endpointsURL,
			"error": err.Error(),
		})
		return nil, false
	}
	endpoints, err := parseEndpointsPayload(body)
	if err != nil {
		return nil, false
	}
	return endpoints, true
}

func (r *Resolver) getJSON(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned status %d", requestURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ModelMetadataFor resolves a model to its catalog row, trying the exact
// normalized name first and then the name with its :variant suffix dropped.
func (r *Resolver) ModelMetadataFor(ctx context.Context, model string) *ModelMetadata {
	catalog := r.Catalog(ctx)
	for _, alias := range modelAliases(model) {
		if row, ok := catalog[alias]; ok {
			return row
		}
	}
	return nil
}

func (r *Resolver) modelSupportedParameters(ctx context.Context, model string) map[string]bool {
	return r.ModelMetadataFor(ctx, model).supportedParameterSet()
}

// ParameterSupported reports whether a request parameter will be honored
// for the model under the given provider routing. The catalog answers when
// no explicit provider order narrows the request; otherwise the per-model
// endpoint listing decides. With require_parameters set, one declaring
// endpoint is enough; without it, every candidate endpoint must declare
// the parameter.
func (r *Resolver) ParameterSupported(ctx context.Context, model, parameter string, routing *ProviderRouting) bool {
	name := strings.ToLower(strings.TrimSpace(parameter))
	if name == "" {
		return false
	}

	order := routing.normalizedOrder()
	modelSupported := r.modelSupportedParameters(ctx, model)
	if len(modelSupported) > 0 && len(order) == 0 {
		return modelSupported[name]
	}

	candidates := candidateEndpoints(r.ModelEndpoints(ctx, model), order)
	if len(candidates) > 0 {
		return endpointsDeclareParameter(candidates, name, routing.requireParameters())
	}
	return modelSupported[name]
}

// candidateEndpoints narrows an endpoint listing to the providers named in
// the routing order. A token matches an endpoint by exact provider name or
// tag, or as a substring of the "provider tag name" haystack. An order that
// matches nothing leaves the full listing in play.
func candidateEndpoints(endpoints []Endpoint, providerOrder []string) []Endpoint {
	if len(providerOrder) == 0 {
		return endpoints
	}
	var filtered []Endpoint
	for _, endpoint := range endpoints {
		providerName := strings.ToLower(strings.TrimSpace(endpoint.ProviderName))
		tag := strings.ToLower(strings.TrimSpace(endpoint.Tag))
		name := strings.ToLower(strings.TrimSpace(endpoint.Name))
		haystack := providerName + " " + tag + " " + name
		for _, token := range providerOrder {
			if token == providerName || token == tag || strings.Contains(haystack, token) {
				filtered = append(filtered, endpoint)
				break
			}
		}
	}
	if len(filtered) == 0 {
		return endpoints
	}
	return filtered
}

func endpointsDeclareParameter(endpoints []Endpoint, parameter string, requireParameters bool) bool {
	if len(endpoints) == 0 {
		return false
	}
	declared := 0
	for _, endpoint := range endpoints {
		for _, item := range endpoint.SupportedParameters {
			if strings.TrimSpace(item) == parameter {
				declared++
				break
			}
		}
	}
	if declared <= 0 {
		return false
	}
	if requireParameters {
		return true
	}
	return declared == len(endpoints)
}

// LogprobsCapability reports logprobs and top_logprobs support in one call.
func (r *Resolver) LogprobsCapability(ctx context.Context, model string, routing *ProviderRouting) (logprobs, topLogprobs bool) {
	return r.ParameterSupported(ctx, model, "logprobs", routing),
		r.ParameterSupported(ctx, model, "top_logprobs", routing)
}

// NormalizedTopLogprobs clamps a requested top_logprobs fan-out to what
// providers accept. Non-positive requests mean none.
func NormalizedTopLogprobs(requested *int) *int {
	if requested == nil || *requested <= 0 {
		return nil
	}
	v := *requested
	if v > TopLogprobsSafeMax {
		v = TopLogprobsSafeMax
	}
	return &v
}

// EffectiveLogprobsMode decides how much token-probability detail a request
// may carry. Unsupported logprobs disable the whole channel; unsupported
// top_logprobs demote to logprobs only. Demotion is silent so a request
// never fails over probability metadata.
func (r *Resolver) EffectiveLogprobsMode(ctx context.Context, model string, routing *ProviderRouting, enableLogprobs bool, topLogprobs *int) (LogprobsMode, *int) {
	if !enableLogprobs {
		return LogprobsDisabled, nil
	}
	supportsLogprobs, supportsTop := r.LogprobsCapability(ctx, model, routing)
	if !supportsLogprobs {
		return LogprobsDisabled, nil
	}
	normalized := NormalizedTopLogprobs(topLogprobs)
	if normalized == nil || !supportsTop {
		return LogprobsOnly, nil
	}
	return LogprobsWithTop, normalized
}

// SupportsTools reports whether tool calling will be honored.
func (r *Resolver) SupportsTools(ctx context.Context, model string, routing *ProviderRouting) bool {
	return r.ParameterSupported(ctx, model, "tools", routing)
}

// SupportsResponseFormat reports whether any structured response_format is
// accepted, including JSON-schema structured outputs.
func (r *Resolver) SupportsResponseFormat(ctx context.Context, model string, routing *ProviderRouting) bool {
	return r.ParameterSupported(ctx, model, "response_format", routing) ||
		r.ParameterSupported(ctx, model, "structured_outputs", routing)
}

// SupportsGrammarResponseFormat reports whether a free-form grammar
// response_format is accepted. structured_outputs alone implies JSON-schema
// capability, not grammars, so only response_format counts here.
func (r *Resolver) SupportsGrammarResponseFormat(ctx context.Context, model string, routing *ProviderRouting) bool {
	return r.ParameterSupported(ctx, model, "response_format", routing)
}

// SupportsReasoning reports whether reasoning controls will be honored.
func (r *Resolver) SupportsReasoning(ctx context.Context, model string, routing *ProviderRouting) bool {
	return r.ParameterSupported(ctx, model, "reasoning", routing) ||
		r.ParameterSupported(ctx, model, "reasoning_effort", routing)
}

// GrammarFormatFor picks the grammar dialect for the first routed provider.
// A policy artifact recommendation wins over the built-in hints; with no
// routing order the default Lark dialect applies.
func (r *Resolver) GrammarFormatFor(routing *ProviderRouting) Format {
	order := routing.normalizedOrder()
	if len(order) == 0 {
		return FormatLark
	}
	first := order[0]
	if r.hint != nil {
		if format, ok := r.hint.RecommendedFormat(first); ok {
			return format
		}
	}
	for marker, format := range grammarFormatHints {
		if first == marker || strings.Contains(first, marker) {
			return format
		}
	}
	return FormatLark
}

// Modalities returns the model's input and output modalities, normalized
// and sorted. An unknown model has none.
func (r *Resolver) Modalities(ctx context.Context, model string) (input, output []string) {
	meta := r.ModelMetadataFor(ctx, model)
	if meta == nil {
		return nil, nil
	}
	return normalizeModalities(meta.Architecture.InputModalities),
		normalizeModalities(meta.Architecture.OutputModalities)
}

// SupportsInputModality reports whether the model accepts the modality.
func (r *Resolver) SupportsInputModality(ctx context.Context, model, modality string) bool {
	input, _ := r.Modalities(ctx, model)
	return containsModality(input, modality)
}

// SupportsOutputModality reports whether the model emits the modality.
func (r *Resolver) SupportsOutputModality(ctx context.Context, model, modality string) bool {
	_, output := r.Modalities(ctx, model)
	return containsModality(output, modality)
}

func containsModality(list []string, modality string) bool {
	needle := strings.ToLower(strings.TrimSpace(modality))
	for _, item := range list {
		if item == needle {
			return true
		}
	}
	return false
}

// PromptCompletionRates returns the model's USD-per-token prices when the
// catalog lists both of them.
func (r *Resolver) PromptCompletionRates(ctx context.Context, model string) (promptUSD, completionUSD float64, ok bool) {
	meta := r.ModelMetadataFor(ctx, model)
	if meta == nil {
		return 0, 0, false
	}
	prompt, errPrompt := strconv.ParseFloat(strings.TrimSpace(meta.Pricing.Prompt), 64)
	completion, errCompletion := strconv.ParseFloat(strings.TrimSpace(meta.Pricing.Completion), 64)
	if errPrompt != nil || errCompletion != nil {
		return 0, 0, false
	}
	return prompt, completion, true
}
