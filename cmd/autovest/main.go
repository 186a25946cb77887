package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/martinemde/autovest/backoff"
	"github.com/martinemde/autovest/config"
	"github.com/martinemde/autovest/cycle"
	"github.com/martinemde/autovest/httpapi"
	"github.com/martinemde/autovest/ledger"
	"github.com/martinemde/autovest/llmclient"
	"github.com/martinemde/autovest/marketdata"
	"github.com/martinemde/autovest/secrets"
	"github.com/martinemde/autovest/websearch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "autovest: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; deployed environments inject variables directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := resolveSecrets(context.Background(), cfg, log); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	completer := llmclient.New(llmclient.Options{
		BaseURL:     cfg.GrokBaseURL,
		APIKey:      cfg.GrokAPIKey,
		Model:       cfg.GrokModel,
		Temperature: 0.1,
		Logger:      log.With("component", "llmclient"),
	})

	sheets := ledger.NewClient(cfg.SpreadsheetID, secrets.NewMetadataToken(), log.With("component", "ledger"))
	search := websearch.NewClient(cfg.TavilyAPIKey, backoff.DefaultPolicy(), log.With("component", "websearch"))
	quotes := marketdata.NewService(backoff.DefaultPolicy(), log.With("component", "marketdata"))

	registry := cycle.NewStandardRegistry(cycle.Collaborators{
		Ledger:   sheets,
		Searcher: search,
		Quoter:   quotes,
	})
	orchestrator := cycle.NewOrchestrator(completer, sheets, registry, cycle.Config{
		MaxSteps:      cfg.MaxReasoningSteps,
		MaxDuration:   cfg.MaxCycleDuration,
		HistoryWindow: cfg.HistoryWindow,
		CashCell:      cfg.CashOnHandCell,
	}, log.With("component", "cycle"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := httpapi.NewServer(cfg.ListenAddr, orchestrator, log.With("component", "httpapi"))
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start trigger server: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	return server.Shutdown(context.Background())
}

// resolveSecrets fills API keys absent from the environment, from Secret
// Manager when enabled (using the runtime service-account identity) and from
// the environment otherwise.
func resolveSecrets(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var source secrets.Source = secrets.EnvSource{}
	if cfg.UseSecretManager && cfg.GCPProjectID != "" {
		source = secrets.NewManagerClient(cfg.GCPProjectID, secrets.NewMetadataToken())
	}

	fill := func(target *string, name string) error {
		if *target != "" {
			return nil
		}
		value, err := source.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("fetch secret %s: %w", name, err)
		}
		*target = strings.TrimSpace(value)
		log.Info("secret loaded", "name", name)
		return nil
	}

	if err := fill(&cfg.GrokAPIKey, "grok-api-key"); err != nil {
		return err
	}
	return fill(&cfg.TavilyAPIKey, "tavily-api-key")
}
