package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/d-kowalski/signalpipe/internal/config"
	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/enrich"
	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/ingest"
	"github.com/d-kowalski/signalpipe/internal/llm"
	"github.com/d-kowalski/signalpipe/internal/scrape"
	"github.com/d-kowalski/signalpipe/internal/server"
	"github.com/d-kowalski/signalpipe/internal/validate"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config (optional)")
		once        = flag.Bool("once", false, "run the pipeline once and exit")
		summaryPath = flag.String("summary", "", "write a JSON run summary to this path (with -once)")
		addr        = flag.String("addr", "", "listen address (overrides config)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()
	log.Printf("Using %s store", db.DatabaseType())

	if err := ingest.Seed(db); err != nil {
		log.Fatalf("seed sources: %v", err)
	}

	client := fetchutil.New()
	registry, err := scrape.DefaultRegistry(client)
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}

	// Without an LLM endpoint the pipeline still ingests; enrichment
	// and validation are skipped.
	var engine *enrich.Engine
	var validator *validate.Validator
	if cfg.LLM.BaseURL != "" {
		llmClient := llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
		engine = enrich.New(db, llmClient, cfg.LLM.Batch)
		validator = validate.New(db, llmClient)
	} else {
		log.Printf("no llm endpoint configured, enrichment disabled")
	}

	runner := ingest.NewRunner(db, registry, engine, cfg.Runner.Workers)

	if *once {
		if err := runOnce(runner, validator, *summaryPath); err != nil {
			log.Printf("run failed: %v", err)
			os.Exit(1)
		}
		return
	}

	poller := ingest.NewPoller(db, runner, validator, time.Duration(cfg.Runner.PollMinutes)*time.Minute)
	srv := server.New(db, runner, poller, client)
	defer srv.Stop()
	if err := srv.Start(cfg.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// runOnce executes one full pipeline pass. Partial source failures are
// reported in the summary, never through the exit code; only a failure
// of the orchestration itself (here: writing the artifact) is fatal.
func runOnce(runner *ingest.Runner, validator *validate.Validator, summaryPath string) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	stats, err := runner.RunAll(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	validated := 0
	if validator != nil {
		validated, err = validator.ValidateAndUpdate(ctx)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	}

	summary := ingest.NewRunSummary(started, stats, validated)
	log.Printf("run %s: %d signals (%d new, %d updated, %d errors), %d enriched, %d validated in %s",
		summary.RunID, summary.Total, summary.New, summary.Updated, summary.Errors,
		summary.Enriched, summary.Validated, summary.Duration)

	if summaryPath != "" {
		if err := ingest.WriteSummary(summaryPath, summary); err != nil {
			return err
		}
	}
	return nil
}

func openStore(cfg *config.Config) (database.Store, error) {
	if cfg.DB.Driver == "postgres" {
		return database.NewPostgres(cfg.DB.Connection)
	}
	return database.New(cfg.DB.Path)
}
