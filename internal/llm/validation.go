package llm

import (
	"github.com/Conceptual-Machines/grammar-gateway/internal/grammar"
	"github.com/Conceptual-Machines/grammar-gateway/internal/stream"
)

// validateLocalConstraint re-runs the grammar over the full generated text
// after a successful round trip. Providers tokenize differently than the
// local matcher, so rule max-token bounds are not enforced here. A failed
// match fails the whole call. A valid match yields one capture event per
// named capture, with a log-prob attached when the streamed token segments
// line up exactly with the capture value.
func validateLocalConstraint(providerName, model string, root grammar.Node, text string, acc *stream.CaptureLogProbAccumulator) ([]CaptureEvent, error) {
	result, ok := grammar.Match(root, text)
	if !ok {
		return nil, &ValidationFailedError{
			Provider: providerName,
			Model:    model,
			Reason:   "failed local grammar validation.",
		}
	}

	var events []CaptureEvent
	for _, record := range result.Records() {
		if record.Append {
			for _, value := range record.Values {
				events = append(events, CaptureEvent{
					Name:    record.Name,
					Value:   value,
					LogProb: captureLogProb(acc, value),
					Append:  true,
				})
			}
			continue
		}
		events = append(events, CaptureEvent{
			Name:    record.Name,
			Value:   record.Value,
			LogProb: captureLogProb(acc, record.Value),
		})
	}
	return events, nil
}

func captureLogProb(acc *stream.CaptureLogProbAccumulator, value string) *float64 {
	if acc == nil {
		return nil
	}
	return acc.LogProbForText(value)
}
