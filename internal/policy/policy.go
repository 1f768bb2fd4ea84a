package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
)

// SchemaVersion is the artifact version this package reads and writes.
const SchemaVersion = 1

// Scope marks what the policy is about so unrelated artifacts are not
// mistaken for it.
const Scope = "grammar_response_format"

// GrammarPolicy is the persisted per-provider grammar policy artifact.
// It records which upstream providers honor a grammar response_format and
// which dialect each one wants.
type GrammarPolicy struct {
	SchemaVersion          int                      `json:"schema_version"`
	GeneratedAt            string                   `json:"generated_at"`
	PolicyScope            string                   `json:"policy_scope"`
	Providers              map[string]ProviderEntry `json:"providers"`
	RankedGrammarProviders []string                 `json:"ranked_grammar_providers"`
}

// ProviderEntry is one provider's policy row, keyed by normalized name.
type ProviderEntry struct {
	ProviderName                  string `json:"provider_name"`
	SupportsGrammarResponseFormat bool   `json:"supports_grammar_response_format"`
	RecommendedGrammarFormat      string `json:"recommended_grammar_format,omitempty"`
	Priority                      int    `json:"priority"`
	SupportReason                 string `json:"support_reason,omitempty"`
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// Lookup finds a provider's policy row by any casing of its name.
func (p *GrammarPolicy) Lookup(provider string) (ProviderEntry, bool) {
	if p == nil {
		return ProviderEntry{}, false
	}
	entry, ok := p.Providers[normalizeProvider(provider)]
	return entry, ok
}

// RecommendedFormat reports the grammar dialect the policy recommends for a
// provider. It satisfies the capability resolver's format-hint interface, so
// a probed policy overrides the built-in hints.
func (p *GrammarPolicy) RecommendedFormat(provider string) (capability.Format, bool) {
	entry, ok := p.Lookup(provider)
	if !ok || !entry.SupportsGrammarResponseFormat {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(entry.RecommendedGrammarFormat)) {
	case string(capability.FormatGBNF):
		return capability.FormatGBNF, true
	case string(capability.FormatLark):
		return capability.FormatLark, true
	case string(capability.FormatRegex):
		return capability.FormatRegex, true
	}
	return "", false
}

// Rank returns the ranked provider names, best first.
func (p *GrammarPolicy) Rank() []string {
	if p == nil {
		return nil
	}
	return p.RankedGrammarProviders
}

// rankProviders orders supporting providers by priority descending, then by
// name, and is recomputed on every write so the ranking never drifts from
// the entries.
func rankProviders(providers map[string]ProviderEntry) []string {
	var ranked []string
	for _, entry := range providers {
		if entry.SupportsGrammarResponseFormat {
			ranked = append(ranked, entry.ProviderName)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		left := providers[normalizeProvider(ranked[i])]
		right := providers[normalizeProvider(ranked[j])]
		if left.Priority != right.Priority {
			return left.Priority > right.Priority
		}
		return strings.ToLower(ranked[i]) < strings.ToLower(ranked[j])
	})
	return ranked
}

// New assembles a policy from provider entries, stamping the schema fields
// and the ranking.
func New(generatedAt string, providers map[string]ProviderEntry) *GrammarPolicy {
	normalized := make(map[string]ProviderEntry, len(providers))
	for key, entry := range providers {
		normalized[normalizeProvider(key)] = entry
	}
	return &GrammarPolicy{
		SchemaVersion:          SchemaVersion,
		GeneratedAt:            generatedAt,
		PolicyScope:            Scope,
		Providers:              normalized,
		RankedGrammarProviders: rankProviders(normalized),
	}
}

// Load reads a policy artifact. A missing file, unreadable JSON, or a
// schema the gateway does not understand all return an error; callers are
// expected to continue without a policy in that case.
func Load(path string) (*GrammarPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loaded GrammarPolicy
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if loaded.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("policy %s has schema_version %d, want %d", path, loaded.SchemaVersion, SchemaVersion)
	}
	return &loaded, nil
}

// Write persists the policy as indented JSON, creating parent directories.
func (p *GrammarPolicy) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
