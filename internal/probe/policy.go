package probe

import (
	"fmt"

	"github.com/Conceptual-Machines/grammar-gateway/internal/policy"
)

// BuildGrammarPolicy distills a discovery report into the per-provider
// grammar policy artifact the capability resolver consults. Priority is the
// provider's obey count, so the ranking favors providers that enforced the
// grammar across more models and dialects.
func BuildGrammarPolicy(report *Report) *policy.GrammarPolicy {
	entries := make(map[string]policy.ProviderEntry, len(report.Providers))
	for key, summary := range report.Providers {
		obeyed := summary.Totals[string(OutcomeObey)]
		total := 0
		for _, count := range summary.Totals {
			total += count
		}
		entries[key] = policy.ProviderEntry{
			ProviderName:                  summary.ProviderName,
			SupportsGrammarResponseFormat: summary.SupportsGrammar,
			RecommendedGrammarFormat:      summary.RecommendedFormat,
			Priority:                      obeyed,
			SupportReason:                 fmt.Sprintf("probe: %d/%d requests obeyed the grammar", obeyed, total),
		}
	}
	return policy.New(report.GeneratedAt, entries)
}
