package probe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ReportSchemaVersion is the discovery-report version this package reads and
// writes.
const ReportSchemaVersion = 1

// Report is the persisted outcome of one probe run across models, providers,
// and grammar dialects.
type Report struct {
	SchemaVersion int                        `json:"schema_version"`
	GeneratedAt   string                     `json:"generated_at"`
	APIBase       string                     `json:"api_base"`
	Models        []string                   `json:"models"`
	Formats       []string                   `json:"formats"`
	Results       []Result                   `json:"results"`
	Providers     map[string]ProviderSummary `json:"providers"`
	ModelsSummary map[string]map[string]int  `json:"models_summary"`
}

// ProviderSummary aggregates one provider's results across every probed
// model and dialect.
type ProviderSummary struct {
	ProviderName      string                    `json:"provider_name"`
	SupportsGrammar   bool                      `json:"supports_grammar"`
	RecommendedFormat string                    `json:"recommended_format,omitempty"`
	Totals            map[string]int            `json:"totals"`
	FormatOutcomes    map[string]string         `json:"format_outcomes"`
	FormatCounts      map[string]map[string]int `json:"format_counts"`
}

func normalizeProviderKey(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// BuildReport aggregates raw probe results into the discovery report.
func BuildReport(apiBase string, models, formats []string, results []Result) *Report {
	report := &Report{
		SchemaVersion: ReportSchemaVersion,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		APIBase:       apiBase,
		Models:        models,
		Formats:       formats,
		Results:       results,
		Providers:     map[string]ProviderSummary{},
		ModelsSummary: map[string]map[string]int{},
	}

	for _, result := range results {
		key := normalizeProviderKey(result.Provider)
		summary, ok := report.Providers[key]
		if !ok {
			summary = ProviderSummary{
				ProviderName:   result.Provider,
				Totals:         map[string]int{},
				FormatOutcomes: map[string]string{},
				FormatCounts:   map[string]map[string]int{},
			}
		}
		summary.Totals[string(result.Outcome)]++
		// A single obey marks the (provider, format) pair as working even
		// when another model's probe failed.
		if summary.FormatOutcomes[result.Format] != string(OutcomeObey) {
			summary.FormatOutcomes[result.Format] = string(result.Outcome)
		}
		counts, ok := summary.FormatCounts[result.Format]
		if !ok {
			counts = map[string]int{}
			summary.FormatCounts[result.Format] = counts
		}
		counts[string(result.Outcome)]++
		if result.Outcome == OutcomeObey {
			summary.SupportsGrammar = true
		}
		report.Providers[key] = summary

		modelSummary, ok := report.ModelsSummary[result.Model]
		if !ok {
			modelSummary = map[string]int{}
		}
		modelSummary[string(result.Outcome)]++
		report.ModelsSummary[result.Model] = modelSummary
	}

	for key, summary := range report.Providers {
		summary.RecommendedFormat = recommendFormat(summary.FormatCounts)
		report.Providers[key] = summary
	}
	return report
}

// recommendFormat picks the dialect a provider handled best: the most obeys
// wins, ties break on fewer rejects, then on the format name.
func recommendFormat(formatCounts map[string]map[string]int) string {
	var candidates []string
	for format, counts := range formatCounts {
		if counts[string(OutcomeObey)] > 0 {
			candidates = append(candidates, format)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		left, right := formatCounts[candidates[i]], formatCounts[candidates[j]]
		if left[string(OutcomeObey)] != right[string(OutcomeObey)] {
			return left[string(OutcomeObey)] > right[string(OutcomeObey)]
		}
		if left[string(OutcomeReject)] != right[string(OutcomeReject)] {
			return left[string(OutcomeReject)] < right[string(OutcomeReject)]
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}

// GrammarProviders returns the providers that obeyed at least one dialect,
// best obey-count first.
func (r *Report) GrammarProviders() []string {
	var names []string
	for _, summary := range r.Providers {
		if summary.SupportsGrammar {
			names = append(names, summary.ProviderName)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		left := r.Providers[normalizeProviderKey(names[i])]
		right := r.Providers[normalizeProviderKey(names[j])]
		if left.Totals[string(OutcomeObey)] != right.Totals[string(OutcomeObey)] {
			return left.Totals[string(OutcomeObey)] > right.Totals[string(OutcomeObey)]
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// LoadReport reads a discovery report from disk.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse discovery report %s: %w", path, err)
	}
	if report.SchemaVersion != ReportSchemaVersion {
		return nil, fmt.Errorf("discovery report %s has schema_version %d, want %d", path, report.SchemaVersion, ReportSchemaVersion)
	}
	return &report, nil
}

// Write persists the report as indented JSON, creating parent directories.
func (r *Report) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
