package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"riskapi/internal/analytics"
	"riskapi/internal/config"
	"riskapi/internal/digest"
	"riskapi/internal/domain"
	"riskapi/internal/httpx"
	"riskapi/internal/integrations/llm"
	"riskapi/internal/model"
	"riskapi/internal/server"
	"riskapi/internal/storage"
	"riskapi/internal/storage/sqlite"
	"riskapi/internal/storage/supabase"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Listen=%s ModelDir=%s Origins=%d LLMProvider=%s LLMConfigured=%t ExplanationTimeout=%s Store=%s StoreTimeout=%s RecordPredictions=%t Digest=%t Timezone=%s ExternalHTTPTimeout=%s",
		cfg.ListenAddr,
		cfg.ModelDir,
		len(cfg.CORSAllowedOrigins),
		cfg.LLMProvider,
		cfg.LLMConfigured(),
		cfg.ExplanationTimeout(),
		cfg.StoreBackend,
		cfg.StoreTimeout(),
		cfg.RecordPredictions,
		cfg.DigestConfigured(),
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to init store: %v", err)
	}
	defer store.Close()

	registry := model.LoadRegistry(cfg.ModelDir)
	for _, d := range domain.All {
		if err := registry.LoadError(d); err != nil {
			log.Printf("WARNING: /predict/%s will answer with an error: %v", d, err)
		}
	}

	aggregator := analytics.NewAggregator(store)
	deps := server.Deps{
		Models:    registry,
		Explainer: llm.NewExplainer(cfg, httpx.ExternalHTTPClient()),
		Analytics: aggregator,
	}
	if cfg.RecordPredictions {
		deps.Recorder = store
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.DigestConfigured() {
		api := slack.New(cfg.SlackBotToken, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
		digest.StartDigestScheduler(ctx, cfg, aggregator, api)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(server.Options{AllowedOrigins: cfg.CORSAllowedOrigins}, deps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting Health Risk Prediction API on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		log.Printf("HTTP server error: %v", err)
	}

	stop()

	// Explanations can hold a request for the full explanation timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ExplanationTimeout()+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("Stopped")
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSupabase:
		log.Printf("Using Supabase store table=%s", cfg.SupabaseTable)
		return supabase.New(supabase.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Table:      cfg.SupabaseTable,
			Timeout:    cfg.StoreTimeout(),
			HTTPClient: httpx.ExternalHTTPClient(),
		}), nil
	case config.StoreSQLite:
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Database initialized at %s", cfg.DBPath)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
