package probe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
)

func sampleResults() []Result {
	return []Result{
		{Model: "openai/gpt-4o", Provider: "Fireworks", Format: "gbnf", Outcome: OutcomeObey, LatencyMS: 420},
		{Model: "openai/gpt-4o", Provider: "Fireworks", Format: "lark", Outcome: OutcomeReject, Detail: "unsupported"},
		{Model: "openai/gpt-4o", Provider: "DeepInfra", Format: "lark", Outcome: OutcomeObey},
		{Model: "meta/llama-3", Provider: "DeepInfra", Format: "lark", Outcome: OutcomeObey},
		{Model: "meta/llama-3", Provider: "Fireworks", Format: "gbnf", Outcome: OutcomeIgnore, Detail: "MAYBE"},
	}
}

func TestBuildReportAggregation(t *testing.T) {
	report := BuildReport("https://openrouter.ai/api/v1", []string{"openai/gpt-4o", "meta/llama-3"}, []string{"lark", "gbnf"}, sampleResults())

	assert.Equal(t, ReportSchemaVersion, report.SchemaVersion)
	assert.NotEmpty(t, report.GeneratedAt)

	fireworks := report.Providers["fireworks"]
	assert.True(t, fireworks.SupportsGrammar)
	assert.Equal(t, "gbnf", fireworks.RecommendedFormat)
	// One obey pins the pair even though another model's probe was ignored.
	assert.Equal(t, "obey", fireworks.FormatOutcomes["gbnf"])
	assert.Equal(t, "reject", fireworks.FormatOutcomes["lark"])

	deepinfra := report.Providers["deepinfra"]
	assert.True(t, deepinfra.SupportsGrammar)
	assert.Equal(t, "lark", deepinfra.RecommendedFormat)
	assert.Equal(t, 2, deepinfra.FormatCounts["lark"]["obey"])

	// DeepInfra obeyed twice, Fireworks once.
	assert.Equal(t, []string{"DeepInfra", "Fireworks"}, report.GrammarProviders())
	assert.Equal(t, map[string]int{"obey": 2, "reject": 1}, report.ModelsSummary["openai/gpt-4o"])
}

func TestRecommendFormatPrefersCounts(t *testing.T) {
	// gbnf obeyed on every model; lark obeyed once but was rejected twice.
	// The obey count decides, not any fixed dialect ranking.
	results := []Result{
		{Model: "m1", Provider: "Hyperbolic", Format: "gbnf", Outcome: OutcomeObey},
		{Model: "m2", Provider: "Hyperbolic", Format: "gbnf", Outcome: OutcomeObey},
		{Model: "m3", Provider: "Hyperbolic", Format: "gbnf", Outcome: OutcomeObey},
		{Model: "m1", Provider: "Hyperbolic", Format: "lark", Outcome: OutcomeObey},
		{Model: "m2", Provider: "Hyperbolic", Format: "lark", Outcome: OutcomeReject},
		{Model: "m3", Provider: "Hyperbolic", Format: "lark", Outcome: OutcomeReject},
	}
	report := BuildReport("https://openrouter.ai/api/v1", []string{"m1", "m2", "m3"}, []string{"lark", "gbnf"}, results)
	assert.Equal(t, "gbnf", report.Providers["hyperbolic"].RecommendedFormat)
}

func TestRecommendFormatTieBreaksOnRejectsThenName(t *testing.T) {
	// Equal obeys: lark loses on its extra reject.
	rejectTie := []Result{
		{Model: "m1", Provider: "P", Format: "lark", Outcome: OutcomeObey},
		{Model: "m2", Provider: "P", Format: "lark", Outcome: OutcomeReject},
		{Model: "m1", Provider: "P", Format: "regex", Outcome: OutcomeObey},
		{Model: "m2", Provider: "P", Format: "regex", Outcome: OutcomeIgnore},
	}
	report := BuildReport("base", []string{"m1", "m2"}, []string{"lark", "regex"}, rejectTie)
	assert.Equal(t, "regex", report.Providers["p"].RecommendedFormat)

	// Fully tied dialects fall back to the name.
	nameTie := []Result{
		{Model: "m1", Provider: "P", Format: "regex", Outcome: OutcomeObey},
		{Model: "m1", Provider: "P", Format: "lark", Outcome: OutcomeObey},
	}
	report = BuildReport("base", []string{"m1"}, []string{"lark", "regex"}, nameTie)
	assert.Equal(t, "lark", report.Providers["p"].RecommendedFormat)
}

func TestReportRoundTrip(t *testing.T) {
	report := BuildReport("https://openrouter.ai/api/v1", []string{"openai/gpt-4o"}, []string{"lark"}, sampleResults()[:1])
	path := filepath.Join(t.TempDir(), "reports", "discovery.json")
	require.NoError(t, report.Write(path))

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.APIBase, loaded.APIBase)
	assert.Len(t, loaded.Results, 1)
	assert.Equal(t, OutcomeObey, loaded.Results[0].Outcome)
}

func TestLoadReportRejectsWrongSchema(t *testing.T) {
	report := BuildReport("https://openrouter.ai/api/v1", nil, nil, nil)
	report.SchemaVersion = 99
	path := filepath.Join(t.TempDir(), "discovery.json")
	require.NoError(t, report.Write(path))

	_, err := LoadReport(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version")
}

func TestBuildGrammarPolicyFromReport(t *testing.T) {
	report := BuildReport("https://openrouter.ai/api/v1", []string{"openai/gpt-4o", "meta/llama-3"}, []string{"lark", "gbnf"}, sampleResults())
	built := BuildGrammarPolicy(report)

	entry, ok := built.Lookup("Fireworks")
	require.True(t, ok)
	assert.True(t, entry.SupportsGrammarResponseFormat)
	assert.Equal(t, "gbnf", entry.RecommendedGrammarFormat)
	assert.Equal(t, 1, entry.Priority)
	assert.Contains(t, entry.SupportReason, "1/3")

	// The policy satisfies the resolver's format-hint interface.
	format, ok := built.RecommendedFormat("fireworks")
	require.True(t, ok)
	assert.Equal(t, capability.FormatGBNF, format)

	assert.Equal(t, []string{"DeepInfra", "Fireworks"}, built.Rank())
}

func TestMarkdownRendering(t *testing.T) {
	report := BuildReport("https://openrouter.ai/api/v1", []string{"openai/gpt-4o", "meta/llama-3"}, []string{"lark", "gbnf"}, sampleResults())
	rendered := Markdown(report)

	assert.Contains(t, rendered, "# Grammar Support Discovery")
	assert.Contains(t, rendered, "| Fireworks | yes | gbnf |")
	assert.Contains(t, rendered, "`openai/gpt-4o`: 2 obey / 0 ignore / 1 reject")
}
