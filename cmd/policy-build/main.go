package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/Conceptual-Machines/grammar-gateway/internal/config"
	"github.com/Conceptual-Machines/grammar-gateway/internal/probe"
)

func main() {
	reportPath := flag.String("report", "", "discovery report JSON path (defaults to DISCOVERY_REPORT_PATH)")
	policyPath := flag.String("out", "", "grammar policy JSON path (defaults to GRAMMAR_POLICY_PATH)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	in := *reportPath
	if in == "" {
		in = cfg.DiscoveryReportPath
	}
	if in == "" {
		flag.Usage()
		log.Fatal("a discovery report is required: pass -report or set DISCOVERY_REPORT_PATH")
	}

	out := *policyPath
	if out == "" {
		out = cfg.GrammarPolicyPath
	}
	if out == "" {
		flag.Usage()
		log.Fatal("a policy path is required: pass -out or set GRAMMAR_POLICY_PATH")
	}

	report, err := probe.LoadReport(in)
	if err != nil {
		log.Fatal("Failed to load discovery report:", err)
	}

	grammarPolicy := probe.BuildGrammarPolicy(report)
	if err := grammarPolicy.Write(out); err != nil {
		log.Fatal("Failed to write grammar policy:", err)
	}

	log.Printf("📜 Grammar policy written to %s", out)
	for rank, provider := range grammarPolicy.Rank() {
		entry, _ := grammarPolicy.Lookup(provider)
		log.Printf("  %d. %s (%s, priority %d)", rank+1, entry.ProviderName, entry.RecommendedGrammarFormat, entry.Priority)
	}
}
