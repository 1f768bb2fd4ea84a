package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/policy"
)

// HealthHandler reports service liveness and which optional pieces are wired.
type HealthHandler struct {
	db            *gorm.DB
	grammarPolicy *policy.GrammarPolicy
}

func NewHealthHandler(db *gorm.DB, grammarPolicy *policy.GrammarPolicy) *HealthHandler {
	return &HealthHandler{db: db, grammarPolicy: grammarPolicy}
}

// HealthCheck returns the health status of the API
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	policyStatus := "absent"
	if h.grammarPolicy != nil {
		policyStatus = "loaded"
	}

	storeStatus := "disabled"
	if h.db != nil {
		storeStatus = "enabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"grammar_policy": gin.H{
			"status": policyStatus,
		},
		"probe_store": gin.H{
			"status": storeStatus,
		},
	})
}
