package probe

import (
	"fmt"
	"sort"
	"strings"
)

// Markdown renders the provider matrix of a report as a markdown document,
// one row per provider with per-dialect outcomes.
func Markdown(report *Report) string {
	var b strings.Builder
	b.WriteString("# Grammar Support Discovery\n\n")
	fmt.Fprintf(&b, "Generated: %s  \n", report.GeneratedAt)
	fmt.Fprintf(&b, "API base: `%s`  \n", report.APIBase)
	fmt.Fprintf(&b, "Models: %s\n\n", strings.Join(report.Models, ", "))

	b.WriteString("| Provider | Grammar | Recommended |")
	for _, format := range report.Formats {
		fmt.Fprintf(&b, " %s |", format)
	}
	b.WriteString("\n|---|---|---|")
	for range report.Formats {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	keys := make([]string, 0, len(report.Providers))
	for key := range report.Providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		summary := report.Providers[key]
		fmt.Fprintf(&b, "| %s | %s | %s |", summary.ProviderName, yesNo(summary.SupportsGrammar), orDash(summary.RecommendedFormat))
		for _, format := range report.Formats {
			fmt.Fprintf(&b, " %s |", orDash(summary.FormatOutcomes[format]))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Models\n\n")
	models := make([]string, 0, len(report.ModelsSummary))
	for model := range report.ModelsSummary {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		counts := report.ModelsSummary[model]
		fmt.Fprintf(&b, "- `%s`: %d obey / %d ignore / %d reject\n",
			model, counts[string(OutcomeObey)], counts[string(OutcomeIgnore)], counts[string(OutcomeReject)])
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
