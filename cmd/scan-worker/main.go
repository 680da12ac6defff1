package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-scan-pipeline/internal/config"
	"github.com/tendant/simple-scan-pipeline/internal/handlers"
	"github.com/tendant/simple-scan-pipeline/internal/logger"
	"github.com/tendant/simple-scan-pipeline/pkg/runner"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("SCAN_CONFIG"))
	if err != nil {
		// The logger is not configured yet
		_ = logger.Initialize(false, "info")
		logger.Logger.Fatalw("Failed to load config", "error", err)
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		_ = logger.Initialize(false, "info")
		logger.Logger.Fatalw("Invalid log level", "level", cfg.Log.Level, "error", err)
	}
	defer logger.Sync()
	log := logger.ComponentLogger("scan-worker")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := runner.New(cfg, runner.Options{
		Logger:   logger.ComponentLogger("pipeline"),
		Registry: registry,
	})
	if err != nil {
		log.Fatalw("Failed to initialize pipeline", "error", err)
	}

	// Sessions started over HTTP live until shutdown
	sessions, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	router := mux.NewRouter()
	handlers.NewScanHandler(sessions, r, logger.ComponentLogger("http")).Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Infow("Scan worker starting",
			logger.FieldAddress, cfg.Server.HTTPAddr,
			"camera_source", cfg.Camera.SourceDir,
			"lens", cfg.Camera.Lens,
			"formats", cfg.Scanner.Formats)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}
	cancelSessions()
	r.Shutdown(cfg.ShutdownTimeout())

	log.Infow("Server stopped")
}
