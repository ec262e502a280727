package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ambralabs/voicebridge/internal/bridge"
	"github.com/ambralabs/voicebridge/internal/config"
	"github.com/ambralabs/voicebridge/internal/httpapi"
	"github.com/ambralabs/voicebridge/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	registry := bridge.NewRegistry(cfg, metrics, log, bridge.DialVoiceLive)

	if cfg.VoiceLiveEndpoint == "" {
		log.Warn("AZURE_VOICELIVE_ENDPOINT not set; clients must supply credentials in start_session")
	}

	api := httpapi.New(cfg, registry, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	registry.Shutdown()

	log.Info("shutdown complete")
}
