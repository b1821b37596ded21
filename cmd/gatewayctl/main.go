// Command gatewayctl runs the gateway-backed chat session coordinator and
// its read-only status HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/gatewayrt/internal/config"
	"github.com/ashureev/gatewayrt/internal/coordinator"
	"github.com/ashureev/gatewayrt/internal/kvstore"
	"github.com/ashureev/gatewayrt/internal/rpc"
	"github.com/ashureev/gatewayrt/internal/statusd"
	"github.com/ashureev/gatewayrt/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting gatewayctl", "gateway_url", cfg.Transport.GatewayURL, "status_addr", cfg.StatusAddr)

	kv, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize kv store", "error", err)
		os.Exit(1)
	}
	if closer, ok := kv.(interface{ Close() error }); ok {
		defer func() {
			if closeErr := closer.Close(); closeErr != nil {
				slog.Error("Failed to close kv store", "error", closeErr)
			}
		}()
	}
	slog.Info("KV store ready")

	tr := transport.New(transport.Config{
		URL:              cfg.Transport.GatewayURL,
		AuthToken:        cfg.Transport.AuthToken,
		ClientID:         cfg.Transport.ClientID,
		ProtocolMin:      cfg.Transport.ProtocolMin,
		ProtocolMax:      cfg.Transport.ProtocolMax,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		Backoff: transport.BackoffConfig{
			Base: cfg.Backoff.Base,
			Cap:  cfg.Backoff.Cap,
		},
		BinaryBacklogCap: cfg.BinaryBackpressure.BacklogCapBytes,
		Logger:           logger,
	})
	client := rpc.New(tr, rpc.WithLogger(logger))
	coord := coordinator.New(client, kv, coordinator.WithLogger(logger))

	statusServer := statusd.New(cfg.StatusAddr, coord)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.SetConnection(cfg.Transport.GatewayURL, cfg.Transport.AuthToken); err != nil {
		slog.Error("Failed to configure gateway connection", "error", err)
		os.Exit(1)
	}
	if err := coord.Start(); err != nil {
		slog.Error("Failed to start transport", "error", err)
		os.Exit(1)
	}
	slog.Info("Transport starting", "url", cfg.Transport.GatewayURL)

	go func() {
		slog.Info("Status server listening", "addr", cfg.StatusAddr)
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	coord.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Status server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func openStore(cfg config.StoreConfig) (kvstore.KVStore, error) {
	if cfg.DBPath == "" {
		return kvstore.NewMemory(), nil
	}
	return kvstore.NewSQLite(cfg.DBPath)
}
