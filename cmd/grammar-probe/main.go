package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/Conceptual-Machines/grammar-gateway/internal/capability"
	"github.com/Conceptual-Machines/grammar-gateway/internal/config"
	"github.com/Conceptual-Machines/grammar-gateway/internal/database"
	"github.com/Conceptual-Machines/grammar-gateway/internal/probe"
	"github.com/Conceptual-Machines/grammar-gateway/internal/store"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	apiBase := flag.String("api-base", "", "upstream API base (defaults to OPENROUTER_API_BASE)")
	modelsFlag := flag.String("models", "", "comma-separated model IDs to probe (required)")
	providersFlag := flag.String("providers", "", "comma-separated provider names to probe (required)")
	formatsFlag := flag.String("formats", "lark,gbnf,regex", "comma-separated grammar dialects to probe")
	reportOut := flag.String("out", "", "discovery report JSON path (defaults to DISCOVERY_REPORT_PATH)")
	markdownOut := flag.String("markdown", "", "optional markdown rendering path")
	timeout := flag.Duration("timeout", 15*time.Minute, "overall probe deadline")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			defer sentry.Flush(sentryFlushTimeout)
		}
	}

	models := splitList(*modelsFlag)
	providers := splitList(*providersFlag)
	if len(models) == 0 || len(providers) == 0 {
		flag.Usage()
		log.Fatal("both -models and -providers are required")
	}

	var formats []capability.Format
	for _, name := range splitList(*formatsFlag) {
		format := capability.Format(name)
		if _, ok := probe.GrammarDefinition(format); !ok {
			log.Fatalf("unknown grammar format %q (want lark, gbnf, or regex)", name)
		}
		formats = append(formats, format)
	}

	base := *apiBase
	if base == "" {
		base = cfg.OpenRouterAPIBase
	}

	runner := probe.NewRunner(probe.RunnerConfig{
		APIBase: base,
		APIKey:  cfg.OpenRouterAPIKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := runner.Run(ctx, models, providers, formats)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal("Probe run failed:", err)
	}

	outPath := *reportOut
	if outPath == "" {
		outPath = cfg.DiscoveryReportPath
	}
	if outPath != "" {
		if err := report.Write(outPath); err != nil {
			log.Fatal("Failed to write discovery report:", err)
		}
		log.Printf("📄 Discovery report written to %s", outPath)
	}

	if *markdownOut != "" {
		if err := os.WriteFile(*markdownOut, []byte(probe.Markdown(report)), 0o644); err != nil {
			log.Fatal("Failed to write markdown report:", err)
		}
		log.Printf("📄 Markdown matrix written to %s", *markdownOut)
	}

	if cfg.HasDatabase() {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		if err := database.Migrate(db); err != nil {
			log.Fatal("Failed to run migrations:", err)
		}
		run, err := store.NewProbeStore(db).SaveReport(report)
		if err != nil {
			log.Fatal("Failed to persist probe run:", err)
		}
		log.Printf("🗄️  Probe run saved as %s", run.RunID)
	}

	for _, provider := range report.GrammarProviders() {
		summary := report.Providers[strings.ToLower(provider)]
		log.Printf("✅ %s honors grammars (recommended format: %s)", provider, summary.RecommendedFormat)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if cleaned := strings.TrimSpace(item); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
