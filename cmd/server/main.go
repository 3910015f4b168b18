package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/aggregate"
	"github.com/captrace/captrace/internal/api"
	"github.com/captrace/captrace/internal/capture"
	"github.com/captrace/captrace/internal/config"
	"github.com/captrace/captrace/internal/detect"
	"github.com/captrace/captrace/internal/export"
	"github.com/captrace/captrace/internal/rules"
	"github.com/captrace/captrace/internal/ws"
)

func main() {
	// .env is optional; the system environment is the fallback.
	_ = godotenv.Load()

	base, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer base.Sync()
	logger := base.Sugar()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}

	ruleWatcher, err := rules.NewWatcher(rules.Default(), cfg.RulesFile, logger)
	if err != nil {
		logger.Fatalw("failed to load rules", "error", err, "path", cfg.RulesFile)
	}
	defer ruleWatcher.Close()
	set := ruleWatcher.Current()
	logger.Infow("rules loaded", "selectors", len(set.Selectors),
		"texts", len(set.Texts), "networkPatterns", len(set.NetworkAllowlist))

	agg := aggregate.NewManager(cfg.MaxCursorPoints, cfg.MaxImages, cfg.ActivatedSlots, logger)

	writer, err := export.NewBundleWriter(cfg.StorageDir)
	if err != nil {
		logger.Fatalw("failed to create bundle writer", "error", err)
	}
	exporter := export.NewExporter(agg, writer, logger)

	registry := detect.NewRegistry(logger)
	interceptor := capture.NewInterceptor(ruleWatcher, logger)
	hub := ws.NewHub(registry, agg, interceptor, exporter, ruleWatcher, logger)

	handler := api.NewHandler(agg, hub, logger)
	limiter := api.NewLimiter(120, 20)
	router := handler.SetupRoutes(hub, limiter)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("collector listening", "addr", cfg.ListenAddr, "storage", cfg.StorageDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalw("forced shutdown", "error", err)
	}

	logger.Info("stopped cleanly")
}
