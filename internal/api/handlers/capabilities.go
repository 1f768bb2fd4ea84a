package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
)

// CapabilitiesHandler answers capability questions over the resolver's
// cached catalog and endpoint listings.
type CapabilitiesHandler struct {
	resolver *capability.Resolver
}

func NewCapabilitiesHandler(resolver *capability.Resolver) *CapabilitiesHandler {
	return &CapabilitiesHandler{resolver: resolver}
}

// routingFromQuery builds provider routing from the order query parameter.
// The order is a comma-separated provider list; absent means no narrowing.
func routingFromQuery(c *gin.Context) *capability.ProviderRouting {
	raw := strings.TrimSpace(c.Query("order"))
	if raw == "" {
		return nil
	}
	var order []string
	for _, item := range strings.Split(raw, ",") {
		if cleaned := strings.TrimSpace(item); cleaned != "" {
			order = append(order, cleaned)
		}
	}
	if len(order) == 0 {
		return nil
	}
	return &capability.ProviderRouting{Order: order}
}

func requireModel(c *gin.Context) (string, bool) {
	model := strings.TrimSpace(c.Query("model"))
	if model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model query parameter is required"})
		return "", false
	}
	return model, true
}

// GetParameter reports whether one request parameter will be honored for a
// model under the given provider routing.
func (h *CapabilitiesHandler) GetParameter(c *gin.Context) {
	model, ok := requireModel(c)
	if !ok {
		return
	}
	parameter := strings.TrimSpace(c.Query("parameter"))
	if parameter == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parameter query parameter is required"})
		return
	}

	supported := h.resolver.ParameterSupported(c.Request.Context(), model, parameter, routingFromQuery(c))
	c.JSON(http.StatusOK, gin.H{
		"model":     model,
		"parameter": parameter,
		"supported": supported,
	})
}

// GetLogprobs reports logprobs and top_logprobs support in one call.
func (h *CapabilitiesHandler) GetLogprobs(c *gin.Context) {
	model, ok := requireModel(c)
	if !ok {
		return
	}

	logprobs, topLogprobs := h.resolver.LogprobsCapability(c.Request.Context(), model, routingFromQuery(c))
	c.JSON(http.StatusOK, gin.H{
		"model":        model,
		"logprobs":     logprobs,
		"top_logprobs": topLogprobs,
	})
}

// GetGrammar reports whether a grammar response_format is accepted and which
// dialect the routed provider wants.
func (h *CapabilitiesHandler) GetGrammar(c *gin.Context) {
	model, ok := requireModel(c)
	if !ok {
		return
	}

	routing := routingFromQuery(c)
	supports := h.resolver.SupportsGrammarResponseFormat(c.Request.Context(), model, routing)
	c.JSON(http.StatusOK, gin.H{
		"model":            model,
		"supports_grammar": supports,
		"format":           string(h.resolver.GrammarFormatFor(routing)),
	})
}

// GetModalities returns the model's input and output modalities.
func (h *CapabilitiesHandler) GetModalities(c *gin.Context) {
	model, ok := requireModel(c)
	if !ok {
		return
	}

	input, output := h.resolver.Modalities(c.Request.Context(), model)
	if input == nil {
		input = []string{}
	}
	if output == nil {
		output = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"model":  model,
		"input":  input,
		"output": output,
	})
}
