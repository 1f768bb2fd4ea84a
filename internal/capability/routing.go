package capability

import "strings"

// Format names a grammar dialect carried in a provider request.
type Format string

const (
	FormatRegex Format = "regex"
	FormatLark  Format = "lark"
	FormatGBNF  Format = "gbnf"
)

// LogprobsMode says how much token-probability detail a request may ask for.
type LogprobsMode string

const (
	LogprobsDisabled LogprobsMode = "disabled"
	LogprobsOnly     LogprobsMode = "logprobs_only"
	LogprobsWithTop  LogprobsMode = "logprobs_and_top_logprobs"
)

// ProviderRouting mirrors the provider object of the request extra body:
// which upstream providers may serve the request and how strictly.
type ProviderRouting struct {
	Order             []string `json:"order,omitempty"`
	RequireParameters *bool    `json:"require_parameters,omitempty"`
	AllowFallbacks    *bool    `json:"allow_fallbacks,omitempty"`
}

// normalizedOrder returns the routing order lowercased with blanks dropped.
func (r *ProviderRouting) normalizedOrder() []string {
	if r == nil {
		return nil
	}
	order := make([]string, 0, len(r.Order))
	for _, item := range r.Order {
		if cleaned := strings.ToLower(strings.TrimSpace(item)); cleaned != "" {
			order = append(order, cleaned)
		}
	}
	return order
}

func (r *ProviderRouting) requireParameters() bool {
	return r != nil && r.RequireParameters != nil && *r.RequireParameters
}

// WithConstraintDefaults returns a copy with the routing posture a
// constrained request needs: declared parameters must be honored and
// silent provider fallbacks are off. Explicit caller values always win,
// and the caller's order is never touched.
func (r *ProviderRouting) WithConstraintDefaults() *ProviderRouting {
	out := &ProviderRouting{}
	if r != nil {
		out.Order = append([]string(nil), r.Order...)
		out.RequireParameters = r.RequireParameters
		out.AllowFallbacks = r.AllowFallbacks
	}
	if out.RequireParameters == nil {
		out.RequireParameters = boolPtr(true)
	}
	if out.AllowFallbacks == nil {
		out.AllowFallbacks = boolPtr(false)
	}
	return out
}

func boolPtr(v bool) *bool { return &v }
