package llm

import (
	"fmt"
	"strings"
)

// ProviderRejectedError means an upstream provider refused a
// grammar-constrained request instead of serving it.
type ProviderRejectedError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
}

func (e *ProviderRejectedError) Error() string {
	msg := fmt.Sprintf("%s provider rejected grammar request for model '%s'", e.Provider, e.Model)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	return msg
}

// ValidationFailedError means the provider accepted the request but its
// output does not satisfy the grammar on local re-validation.
type ValidationFailedError struct {
	Provider string
	Model    string
	Reason   string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("%s provider output for model '%s' %s", e.Provider, e.Model, e.Reason)
}

// RequestMisuseError means the request itself is outside what the adapter
// supports, independent of any provider's capabilities.
type RequestMisuseError struct {
	Reason string
}

func (e *RequestMisuseError) Error() string {
	return e.Reason
}

func misusef(format string, args ...any) *RequestMisuseError {
	return &RequestMisuseError{Reason: fmt.Sprintf(format, args...)}
}

var (
	grammarMarkers     = []string{"grammar", "response_format", "structured output", "structured_output", "custom tool"}
	unsupportedMarkers = []string{"unsupported", "not support", "invalid", "provider returned error", "unknown"}
)

// LooksLikeProviderRejection reports whether an upstream error message reads
// like a refusal of the grammar request rather than an unrelated failure.
// It needs both a constraint marker and a refusal marker in the text.
func LooksLikeProviderRejection(message string) bool {
	lowered := strings.ToLower(message)
	return containsAny(lowered, grammarMarkers) && containsAny(lowered, unsupportedMarkers)
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
