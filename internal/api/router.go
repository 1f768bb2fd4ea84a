package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/api/handlers"
	apimiddleware "github.com/Conceptual-Machines/grammar-gateway/internal/api/middleware"
	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/config"
	"github.com/Conceptual-Machines/grammar-gateway/internal/llm"
	"github.com/Conceptual-Machines/grammar-gateway/internal/logger"
	"github.com/Conceptual-Machines/grammar-gateway/internal/metrics"
	"github.com/Conceptual-Machines/grammar-gateway/internal/policy"
	"github.com/Conceptual-Machines/grammar-gateway/internal/probe"
	"github.com/Conceptual-Machines/grammar-gateway/internal/store"
)

func SetupRouter(db *gorm.DB, cfg *config.Config, grammarPolicy *policy.GrammarPolicy, version string) *gin.Engine {
	router := gin.New()

	sentryMetrics := metrics.NewSentryMetrics()
	cwMetrics, err := metrics.NewClient(context.Background(), cfg.Environment)
	if err != nil {
		logger.Warn("CloudWatch metrics unavailable", logger.Fields{"error": err.Error()})
		cwMetrics = nil
	}

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(cwMetrics))

	// CORS middleware
	router.Use(apimiddleware.CORS())

	// Shared capability plumbing. One cache keeps catalog and endpoint
	// lookups warm across requests; the policy artifact feeds dialect hints.
	cache := capability.NewCache()
	resolverOpts := capability.Options{
		APIBase: cfg.OpenRouterAPIBase,
		APIKey:  cfg.OpenRouterAPIKey,
		Cache:   cache,
	}
	if grammarPolicy != nil {
		resolverOpts.FormatHint = grammarPolicy
	}
	if cwMetrics != nil {
		resolverOpts.Lookups = cwMetrics
	}
	resolver := capability.NewResolver(resolverOpts)

	factory := llm.NewProviderFactory(llm.FactoryConfig{
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterAPIBase: cfg.OpenRouterAPIBase,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		ReasoningEffort:   cfg.ReasoningEffort,
		Resolver:          resolver,
	})

	var probeStore *store.ProbeStore
	if db != nil {
		probeStore = store.NewProbeStore(db)
	}
	runner := probe.NewRunner(probe.RunnerConfig{
		APIBase:       cfg.OpenRouterAPIBase,
		APIKey:        cfg.OpenRouterAPIKey,
		Metrics:       cwMetrics,
		SentryMetrics: sentryMetrics,
	})

	// Health check
	healthHandler := handlers.NewHealthHandler(db, grammarPolicy)
	router.GET("/health", healthHandler.HealthCheck)

	// Metrics endpoint
	metricsHandler := handlers.NewMetricsHandler(version, cache)
	router.GET("/api/metrics", metricsHandler.GetMetrics)

	v1 := router.Group("/api/v1")
	{
		// Capability lookups
		capabilitiesHandler := handlers.NewCapabilitiesHandler(resolver)
		v1.GET("/capabilities/parameter", capabilitiesHandler.GetParameter)
		v1.GET("/capabilities/logprobs", capabilitiesHandler.GetLogprobs)
		v1.GET("/capabilities/grammar", capabilitiesHandler.GetGrammar)
		v1.GET("/capabilities/modalities", capabilitiesHandler.GetModalities)

		// Policy artifact
		policyHandler := handlers.NewPolicyHandler(grammarPolicy)
		v1.GET("/policy", policyHandler.GetPolicy)

		// Constrained generation (SSE)
		generateHandler := handlers.NewGenerateHandler(factory, resolver, cwMetrics, sentryMetrics)
		v1.POST("/generate", generateHandler.Generate)

		// Probe trigger (service key gated) and history
		probeHandler := handlers.NewProbeHandler(runner, probeStore)
		v1.POST("/probe", apimiddleware.ServiceKeyAuth(cfg.ServiceAPIKey), probeHandler.RunProbe)
		v1.GET("/probes", probeHandler.ListProbes)
		v1.GET("/probes/:id", probeHandler.GetProbe)
	}

	return router
}
