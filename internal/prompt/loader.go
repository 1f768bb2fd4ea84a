package prompt

import (
	"strings"

	"github.com/Conceptual-Machines/grammar-gateway/pkg/embedded"
)

type Loader struct{}

func NewPromptLoader() *Loader {
	return &Loader{}
}

// GetProbeSystemPrompt loads the probe system prompt
func (l *Loader) GetProbeSystemPrompt() (string, error) {
	return strings.TrimSpace(string(embedded.ProbeSystemPromptTxt)), nil
}

// GetProbeUserPrompt loads the probe user prompt. It instructs the model to
// answer outside the YES|NO grammar so an endpoint that ignores the
// constraint is caught.
func (l *Loader) GetProbeUserPrompt() (string, error) {
	return strings.TrimSpace(string(embedded.ProbeUserPromptTxt)), nil
}
