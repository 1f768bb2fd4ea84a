package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/grammar-gateway/internal/config"
)

// The generation path calls the full trace lifecycle unconditionally, so a
// deployment without Langfuse credentials must get inert no-ops end to end.
func TestDisabledLangfuseLifecycleIsInert(t *testing.T) {
	client := InitializeLangfuse(context.Background(), &config.Config{LangfuseEnabled: false})
	require.NotNil(t, client)
	assert.False(t, client.IsEnabled())

	trace := GetClient().StartTrace(context.Background(), "generate", map[string]interface{}{
		"request_id": "r-1",
	})
	require.NotNil(t, trace)

	generation := trace.Generation("constrained-generation", nil)
	require.NotNil(t, generation)

	generation.LogGenerationResult("openai/gpt-4o",
		[]map[string]interface{}{{"role": "user", "content": "yes or no?"}},
		"YES", 12, 1, &CostEstimate{InputUSD: 0.00003, OutputUSD: 0.00001, TotalUSD: 0.00004}, nil)
	generation.SetLevel("ERROR")
	generation.Finish()
	trace.Finish()
}
