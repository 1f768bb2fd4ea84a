package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/grammar-gateway/internal/policy"
)

// PolicyHandler serves the loaded grammar policy artifact.
type PolicyHandler struct {
	grammarPolicy *policy.GrammarPolicy
}

func NewPolicyHandler(grammarPolicy *policy.GrammarPolicy) *PolicyHandler {
	return &PolicyHandler{grammarPolicy: grammarPolicy}
}

// GetPolicy returns the policy artifact, or 404 when none is loaded.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	if h.grammarPolicy == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "No grammar policy loaded",
			"message": "Set GRAMMAR_POLICY_PATH to a policy artifact or run the probe to build one",
		})
		return
	}
	c.JSON(http.StatusOK, h.grammarPolicy)
}
