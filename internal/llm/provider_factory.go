package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
)

// ProviderFactory creates providers based on model name or explicit provider
// choice. Providers are built once and shared so the capability caches stay
// warm across requests.
type ProviderFactory struct {
	openrouter *OpenRouterProvider
	responses  *OpenAIResponsesProvider
}

// FactoryConfig carries the credentials and shared plumbing for both
// provider variants.
type FactoryConfig struct {
	OpenRouterAPIKey  string
	OpenRouterAPIBase string
	OpenAIAPIKey      string
	OpenAIAPIBase     string
	ReasoningEffort   string
	Resolver          *capability.Resolver
	HTTPClient        *http.Client
}

// NewProviderFactory creates a new provider factory. Variants without a
// configured key are left out and reported when requested.
func NewProviderFactory(config FactoryConfig) *ProviderFactory {
	factory := &ProviderFactory{}
	if config.OpenRouterAPIKey != "" {
		factory.openrouter = NewOpenRouterProvider(OpenRouterConfig{
			APIKey:          config.OpenRouterAPIKey,
			APIBase:         config.OpenRouterAPIBase,
			ReasoningEffort: config.ReasoningEffort,
			HTTPClient:      config.HTTPClient,
			Resolver:        config.Resolver,
		})
	}
	if config.OpenAIAPIKey != "" {
		factory.responses = NewOpenAIResponsesProvider(OpenAIResponsesConfig{
			APIKey:          config.OpenAIAPIKey,
			APIBase:         config.OpenAIAPIBase,
			ReasoningEffort: config.ReasoningEffort,
			HTTPClient:      config.HTTPClient,
		})
	}
	return factory
}

// OpenRouter returns the OpenRouter provider, or nil when no key is
// configured.
func (f *ProviderFactory) OpenRouter() *OpenRouterProvider {
	return f.openrouter
}

// GetProvider returns the appropriate provider for the given model/provider name
func (f *ProviderFactory) GetProvider(ctx context.Context, model, providerName string) (Provider, error) {
	// If provider is explicitly specified, use that
	if providerName != "" {
		return f.getProviderByName(ctx, providerName)
	}

	// Otherwise, infer from model name
	return f.getProviderByModel(ctx, model)
}

// getProviderByName creates a provider by explicit name
func (f *ProviderFactory) getProviderByName(_ context.Context, providerName string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case ProviderNameOpenRouter:
		if f.openrouter == nil {
			return nil, fmt.Errorf("openrouter API key not configured")
		}
		return f.openrouter, nil

	case ProviderNameOpenAIResponses, "openai":
		if f.responses == nil {
			return nil, fmt.Errorf("openai API key not configured")
		}
		return f.responses, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s (allowed: %s, %s)", providerName, ProviderNameOpenRouter, ProviderNameOpenAIResponses)
	}
}

// getProviderByModel infers provider from model name
func (f *ProviderFactory) getProviderByModel(_ context.Context, model string) (Provider, error) {
	// OpenRouter model IDs carry a vendor prefix ("openai/gpt-5.1")
	if strings.Contains(model, "/") {
		if f.openrouter == nil {
			return nil, fmt.Errorf("openrouter API key not configured")
		}
		return f.openrouter, nil
	}

	// Bare model names go to the Responses grammar path when available
	if f.responses != nil {
		return f.responses, nil
	}
	if f.openrouter != nil {
		return f.openrouter, nil
	}
	return nil, fmt.Errorf("no provider configured for model '%s'", model)
}
