package capability

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultAPIBase is the public OpenRouter chat-completions API root.
const DefaultAPIBase = "https://openrouter.ai/api/v1"

// ModelMetadata is one row of the /models catalog. Only the fields the
// gateway consults are decoded; the rest of the row is dropped.
type ModelMetadata struct {
	ID                  string       `json:"id"`
	CanonicalSlug       string       `json:"canonical_slug"`
	Name                string       `json:"name"`
	SupportedParameters []string     `json:"supported_parameters"`
	Architecture        Architecture `json:"architecture"`
	Pricing             Pricing      `json:"pricing"`
}

// Architecture lists a model's input and output modalities.
type Architecture struct {
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
}

// Pricing carries USD-per-token rates as decimal strings, the way the
// catalog reports them.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Endpoint is one provider-specific serving of a model from the
// /models/{author}/{slug}/endpoints listing.
type Endpoint struct {
	Name                string   `json:"name"`
	ProviderName        string   `json:"provider_name"`
	Tag                 string   `json:"tag"`
	SupportedParameters []string `json:"supported_parameters"`
}

// NormalizeAPIBase canonicalizes an API base URL. Anything after an
// embedded "/api/v1" is cut off; an empty base means the public API.
func NormalizeAPIBase(raw string) string {
	base := strings.ToLower(strings.TrimSpace(raw))
	if base == "" {
		return DefaultAPIBase
	}
	const marker = "/api/v1"
	if idx := strings.Index(base, marker); idx >= 0 {
		return base[:idx+len(marker)]
	}
	return strings.TrimRight(base, "/")
}

// NormalizeModelName canonicalizes a model name for catalog lookups.
func NormalizeModelName(model string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(model), "/"))
}

// modelAliases lists the catalog keys a model may appear under: the
// normalized name, and the name with its :variant suffix dropped.
func modelAliases(model string) []string {
	normalized := NormalizeModelName(model)
	if normalized == "" {
		return nil
	}
	aliases := []string{normalized}
	if idx := strings.Index(normalized, ":"); idx >= 0 {
		aliases = append(aliases, normalized[:idx])
	}
	return aliases
}

func (m *ModelMetadata) supportedParameterSet() map[string]bool {
	if m == nil {
		return nil
	}
	set := make(map[string]bool, len(m.SupportedParameters))
	for _, item := range m.SupportedParameters {
		if cleaned := strings.ToLower(strings.TrimSpace(item)); cleaned != "" {
			set[cleaned] = true
		}
	}
	return set
}

func normalizeModalities(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, value := range values {
		cleaned := strings.ToLower(strings.TrimSpace(value))
		if cleaned == "" || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		out = append(out, cleaned)
	}
	sort.Strings(out)
	return out
}

// parseCatalogPayload maps normalized model IDs and canonical slugs to
// their catalog rows. Rows that do not decode are skipped; the canonical
// slug never shadows a row already keyed by ID.
func parseCatalogPayload(data []byte) (map[string]*ModelMetadata, error) {
	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	catalog := make(map[string]*ModelMetadata, len(payload.Data))
	for _, raw := range payload.Data {
		var row ModelMetadata
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		id := NormalizeModelName(row.ID)
		slug := NormalizeModelName(row.CanonicalSlug)
		if id != "" {
			catalog[id] = &row
		}
		if slug != "" {
			if _, ok := catalog[slug]; !ok {
				catalog[slug] = &row
			}
		}
	}
	return catalog, nil
}

func parseEndpointsPayload(data []byte) ([]Endpoint, error) {
	var payload struct {
		Data struct {
			Endpoints []json.RawMessage `json:"endpoints"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(payload.Data.Endpoints))
	for _, raw := range payload.Data.Endpoints {
		var row Endpoint
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		endpoints = append(endpoints, row)
	}
	return endpoints, nil
}
