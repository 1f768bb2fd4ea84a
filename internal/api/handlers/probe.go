package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/logger"
	"github.com/Conceptual-Machines/grammar-gateway/internal/probe"
	"github.com/Conceptual-Machines/grammar-gateway/internal/store"
)

// defaultProbeFormats is the dialect sweep used when a request names none.
var defaultProbeFormats = []capability.Format{
	capability.FormatLark,
	capability.FormatGBNF,
	capability.FormatRegex,
}

// ProbeHandler triggers grammar-support probes and serves their history.
// The store is nil when no database is configured; history endpoints then
// answer 503.
type ProbeHandler struct {
	runner     *probe.Runner
	probeStore *store.ProbeStore
}

func NewProbeHandler(runner *probe.Runner, probeStore *store.ProbeStore) *ProbeHandler {
	return &ProbeHandler{runner: runner, probeStore: probeStore}
}

// ProbeRequest names what to sweep. Formats default to every known dialect.
type ProbeRequest struct {
	Models    []string `json:"models" binding:"required"`
	Providers []string `json:"providers" binding:"required"`
	Formats   []string `json:"formats,omitempty"`
}

// RunProbe sweeps every (model, provider, format) combination synchronously
// and returns the discovery report. The run is persisted when a store is
// wired; a failed save is reported in the response but does not fail the
// probe.
func (h *ProbeHandler) RunProbe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	formats := defaultProbeFormats
	if len(req.Formats) > 0 {
		formats = make([]capability.Format, 0, len(req.Formats))
		for _, name := range req.Formats {
			format := capability.Format(name)
			if _, ok := probe.GrammarDefinition(format); !ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "Unknown grammar format",
					"message": "format '" + name + "' is not one of lark, gbnf, regex",
				})
				return
			}
			formats = append(formats, format)
		}
	}

	report, err := h.runner.Run(c.Request.Context(), req.Models, req.Providers, formats)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Probe run failed", "message": err.Error()})
		return
	}

	response := gin.H{"report": report}
	if h.probeStore != nil {
		run, err := h.probeStore.SaveReport(report)
		if err != nil {
			logger.Error("Failed to persist probe run", err, logger.Fields{
				"request_id": c.GetString("request_id"),
			})
			response["persistence_error"] = err.Error()
		} else {
			response["run_id"] = run.RunID
		}
	}

	c.JSON(http.StatusOK, response)
}

// ListProbes returns recent probe runs from the store, newest first.
func (h *ProbeHandler) ListProbes(c *gin.Context) {
	if h.probeStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Probe history unavailable",
			"message": "DATABASE_URL is not configured",
		})
		return
	}

	runs, err := h.probeStore.ListRuns(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list probe runs", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetProbe returns one probe run with its result rows.
func (h *ProbeHandler) GetProbe(c *gin.Context) {
	if h.probeStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Probe history unavailable",
			"message": "DATABASE_URL is not configured",
		})
		return
	}

	run, err := h.probeStore.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Probe run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load probe run", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
