package main

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/api"
	"github.com/Conceptual-Machines/grammar-gateway/internal/config"
	"github.com/Conceptual-Machines/grammar-gateway/internal/database"
	"github.com/Conceptual-Machines/grammar-gateway/internal/observability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/policy"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	environmentProduction = "production"
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

// GetVersion returns the current release version
func GetVersion() string {
	return releaseVersion
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize Sentry
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			Release:          "grammar-gateway@" + releaseVersion,      // Use embedded release version
			EnableTracing:    true,                                     // Enable tracing for spans
			TracesSampleRate: 1.0,                                      // 100% sampling for now, adjust based on volume
			EnableLogs:       true,                                     // Enable Sentry Logs feature
			Debug:            cfg.Environment != environmentProduction, // Enable debug in non-prod
			BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
				// Filter out sensitive data
				if event.Request != nil {
					event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
				}
				return event
			},
		}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
			// Flush on shutdown
			defer sentry.Flush(sentryFlushTimeout)
		}
	} else {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
	}

	// Initialize Langfuse tracing when enabled
	observability.InitializeLangfuse(context.Background(), cfg)

	// Probe-run history storage is optional
	var db *gorm.DB
	if cfg.HasDatabase() {
		connected, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to connect to database:", err)
		}
		if err := database.Migrate(connected); err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to run migrations:", err)
		}
		db = connected
	} else {
		log.Println("⚠️  DATABASE_URL not set, probe history disabled")
	}

	// Load the grammar policy artifact when one is configured
	var grammarPolicy *policy.GrammarPolicy
	if cfg.GrammarPolicyPath != "" {
		loaded, err := policy.Load(cfg.GrammarPolicyPath)
		if err != nil {
			log.Printf("⚠️  Grammar policy not loaded from %s: %v", cfg.GrammarPolicyPath, err)
		} else {
			grammarPolicy = loaded
			log.Printf("📜 Grammar policy loaded (%d providers ranked)", len(grammarPolicy.Rank()))
		}
	}

	// Set Gin mode
	if cfg.Environment == environmentProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := api.SetupRouter(db, cfg, grammarPolicy, GetVersion())

	// Start server
	log.Printf("🚀 Starting server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to start server:", err)
	}
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[k] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
