package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	commonhttp "claim-enricher/internal/common/http"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/config"
	"claim-enricher/internal/enricher"
	"claim-enricher/internal/handlers"
	"claim-enricher/internal/server"
	"claim-enricher/internal/storage/sqlite"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	store, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Engine wiring: one fetcher with its own connection pool and credential
	// cache, one shared worker pool, one orchestrator
	evaluator := enricher.NewScriptEvaluator(logger)
	fetcher := enricher.NewFetcher(commonhttp.NewHTTPClientWithTimeout(cfg.FetchTimeout), logger)
	extractor := enricher.NewExtractor(logger)
	cache := enricher.NewCacheStore(store, logger)
	pool := enricher.NewWorkerPool(cfg.WorkerPoolSize)
	defer pool.Stop()

	orchestrator := enricher.NewOrchestrator(evaluator, fetcher, extractor, cache, pool,
		cfg.EnrichDeadline, logger)

	h := handlers.New(store, orchestrator, evaluator, fetcher, extractor, cfg, logger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/test-query", h.TestQuery).Methods(http.MethodPost)
	api.HandleFunc("/enrich", h.Enrich).Methods(http.MethodPost)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()
	logger.Info("Server started", logging.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Server failed", err)
	case sig := <-quit:
		logger.Info("Shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", err)
	}
}
