package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oncallops/atp-gateway/internal/api"
	"github.com/oncallops/atp-gateway/internal/config"
	"github.com/oncallops/atp-gateway/internal/dispatch"
	"github.com/oncallops/atp-gateway/internal/metrics"
	"github.com/oncallops/atp-gateway/internal/orchestrator"
	"github.com/oncallops/atp-gateway/internal/risk"
	"github.com/oncallops/atp-gateway/internal/server"
	"github.com/oncallops/atp-gateway/internal/store"
	"github.com/oncallops/atp-gateway/internal/telemetry"
	"github.com/oncallops/atp-gateway/internal/verify"
)

const version = "1.0.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("atp-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	// The model-based scorer is optional; without a key the rule-based
	// scorer carries every assessment.
	var scorer risk.Scorer
	var enricher risk.Enricher
	if cfg.OpenAI.APIKey != "" {
		openAIScorer := risk.NewOpenAIScorer(cfg.OpenAI.APIKey,
			risk.WithModel(cfg.OpenAI.Model),
			risk.WithTimeout(cfg.OpenAI.Timeout))
		scorer = openAIScorer
		enricher = openAIScorer
	} else {
		logger.Warn("no OpenAI API key configured, using rule-based risk scoring only")
	}

	assessor := risk.NewAssessor(db, scorer, logger)
	explainer := risk.NewExplainer(enricher, logger)

	dispatcher := dispatch.New(cfg.Dispatch.WebhookURL,
		dispatch.WithHighRiskEndpoint(cfg.Dispatch.HighRiskWebhookURL),
		dispatch.WithTimeout(cfg.Dispatch.Timeout))

	var prober verify.HealthProber
	if cfg.Verify.HealthURL != "" {
		prober = &verify.HTTPProber{URL: cfg.Verify.HealthURL}
	}
	verifier := verify.New(prober)

	m := metrics.New()
	orch := orchestrator.New(db, assessor, explainer, dispatcher, verifier, m, logger)

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, logger)
	api.NewHandler(orch, db, version).Routes(srv.Router)
	srv.Router.Method(http.MethodGet, "/metrics", m.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gateway shutdown complete")
}
