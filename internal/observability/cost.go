package observability

import (
	"context"
	"strconv"
)

const costFormatPrecision = 6

// RateSource answers USD-per-token prices for a model. The capability
// resolver satisfies this from the model catalog's pricing block.
type RateSource interface {
	PromptCompletionRates(ctx context.Context, model string) (promptUSD, completionUSD float64, ok bool)
}

// CostEstimate is a USD estimate for one generation.
type CostEstimate struct {
	InputUSD  float64
	OutputUSD float64
	TotalUSD  float64
}

// EstimateCost prices a generation from the catalog's per-token rates. Models
// the catalog does not price return ok=false rather than a guessed number.
func EstimateCost(ctx context.Context, rates RateSource, model string, inputTokens, outputTokens int) (*CostEstimate, bool) {
	if rates == nil {
		return nil, false
	}
	promptRate, completionRate, ok := rates.PromptCompletionRates(ctx, model)
	if !ok {
		return nil, false
	}
	estimate := &CostEstimate{
		InputUSD:  float64(inputTokens) * promptRate,
		OutputUSD: float64(outputTokens) * completionRate,
	}
	estimate.TotalUSD = estimate.InputUSD + estimate.OutputUSD
	return estimate, true
}

// FormatCost formats a cost value as a USD string
func FormatCost(cost float64) string {
	return "$" + strconv.FormatFloat(cost, 'f', costFormatPrecision, 64)
}
