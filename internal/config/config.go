package config

import "os"

// Config holds the application configuration
// Note: This is a stateless configuration - generation credentials and the
// policy/report paths are all that the service needs; probe history storage
// is optional and only wired when DATABASE_URL is set.
type Config struct {
	// Environment
	Environment string
	Port        string

	// Upstream APIs
	OpenRouterAPIKey  string // OpenRouter API key for chat-completions generation
	OpenRouterAPIBase string // OpenRouter API base URL
	OpenAIAPIKey      string // OpenAI API key for the Responses grammar path

	// Generation defaults
	ReasoningEffort string // default reasoning effort for models that support it

	// Policy artifacts
	GrammarPolicyPath   string // grammar policy JSON consulted for dialect hints
	DiscoveryReportPath string // probe discovery report JSON

	// Storage (optional)
	DatabaseURL string // Postgres DSN for probe-run history

	// Service auth
	ServiceAPIKey string // API key gating mutating endpoints (probe trigger)

	// Observability
	SentryDSN         string // Sentry DSN for error tracking
	LangfusePublicKey string // Langfuse public key
	LangfuseSecretKey string // Langfuse secret key
	LangfuseHost      string // Langfuse host URL (cloud or self-hosted)
	LangfuseEnabled   bool   // Feature flag for Langfuse

	// Debug logging
	Debug bool
}

func Load() *Config {
	return &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Port:                getEnv("PORT", "8080"),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterAPIBase:   getEnv("OPENROUTER_API_BASE", "https://openrouter.ai/api/v1"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		ReasoningEffort:     getEnv("REASONING_EFFORT", ""),
		GrammarPolicyPath:   getEnv("GRAMMAR_POLICY_PATH", ""),
		DiscoveryReportPath: getEnv("DISCOVERY_REPORT_PATH", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ServiceAPIKey:       getEnv("SERVICE_API_KEY", ""),
		SentryDSN:           getEnv("SENTRY_DSN", ""),
		LangfusePublicKey:   getEnv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseSecretKey:   getEnv("LANGFUSE_SECRET_KEY", ""),
		LangfuseHost:        getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		LangfuseEnabled:     getEnv("LANGFUSE_ENABLED", "false") == "true",
		Debug:               getEnv("DEBUG", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

// HasDatabase returns true when probe-run history persistence is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
