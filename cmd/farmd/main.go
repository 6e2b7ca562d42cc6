// Command farmd serves the AI routing core: a websocket streaming endpoint
// plus health and stats surfaces.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	farm "github.com/Cstannahill/farm-framework"
	"github.com/Cstannahill/farm-framework/config"
	"github.com/Cstannahill/farm-framework/live"
	"github.com/Cstannahill/farm-framework/obs"
	"github.com/Cstannahill/farm-framework/router"
)

func main() {
	configPath := flag.String("config", "farm.yaml", "path to configuration file")
	traceStdout := flag.Bool("trace-stdout", false, "write spans to stdout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *traceStdout, logger); err != nil {
		logger.Error("farmd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, traceStdout bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownObs, err := obs.Init(ctx, obs.Options{ServiceName: "farmd", StdoutTrace: traceStdout})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	client := farm.New(cfg, farm.WithLogger(logger))
	logger.Info("providers registered",
		"providers", client.Providers(),
		"default", client.Default(),
		"environment", cfg.Environment,
	)

	monitor := router.NewMonitor(client.Router(), cfg.HealthInterval, logger)
	go monitor.Run(ctx)

	manager := live.NewManager(client, logger)
	defer manager.CloseAll()

	healthUpdates, unsubscribe := monitor.Subscribe()
	defer unsubscribe()
	go func() {
		for snapshot := range healthUpdates {
			manager.Broadcast(live.ProviderHealthEvent{Status: snapshot.Status})
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws/ai", manager)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"health":    monitor.Latest(),
			"providers": client.Router().Describe(),
		})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"sessions":   manager.Stats(),
			"rate_limit": client.RateLimitStatus(),
		})
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("response encode failed", "error", err)
	}
}
