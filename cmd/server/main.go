package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/frethen/casenotify/internal/aggregate"
	"github.com/frethen/casenotify/internal/config"
	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/httpx"
	"github.com/frethen/casenotify/internal/observability"
	"github.com/frethen/casenotify/internal/pipeline"
	"github.com/frethen/casenotify/internal/registry"
	"github.com/frethen/casenotify/internal/scenario"
	"github.com/frethen/casenotify/internal/server"
	"github.com/frethen/casenotify/internal/server/routes"
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return
	}

	ctx := context.Background()
	shutdownOtel, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		slog.Error("Failed to set up OpenTelemetry", "error", err)
		return
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("Failed to shut down OpenTelemetry", "error", err)
		}
	}()

	doer := httpx.NewDoer(int64(cfg.Sources.HTTPConcurrency), cfg.SourceTimeout())
	tokens := registry.NewTokenSource(cfg.Sources.TokenIssuer, cfg.Sources.TokenSecret, cfg.TokenTTL())

	sources := aggregate.Sources{
		Cases:     registry.NewCaseClient(doer, cfg.Sources.ServiceToken),
		Parties:   registry.NewPartyClient(doer, cfg.Sources.PartyBaseURL, tokens),
		Decisions: registry.NewDecisionClient(doer, cfg.Sources.ServiceToken),
		Objects:   registry.NewObjectClient(doer, cfg.Sources.ServiceToken),
		Types:     registry.NewTypeRegistryClient(doer, cfg.Sources.ServiceToken),
	}

	dispatcher := dispatch.New(dispatch.NewProviderFactory(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKeys,
		cfg.Provider.DefaultAPIKey,
		doer,
	), log)

	settings := cfg.ScenarioSettings()
	p := pipeline.New(sources, scenario.NewResolver(settings), dispatcher, settings, log)

	srv := server.New(log)
	srv.RegisterRouter(routes.NewWebhookRoutes(p, log))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port, "environment", cfg.Environment)
	slog.Error("Closing server", "error", srv.Start(addr))
}
