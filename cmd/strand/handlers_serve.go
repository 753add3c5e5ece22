package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/strand/internal/gateway"
)

// runServe implements the serve command: build the stack, serve until a
// shutdown signal, then drain gracefully.
func runServe(cmd *cobra.Command, configPath string, explicitConfig, debug bool) error {
	cfg, err := loadConfig(configPath, explicitConfig)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	slog.Info("starting strand gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	st, err := buildStack(cfg, true)
	if err != nil {
		return err
	}

	server := gateway.New(cfg, st.store, st.manager, st.auth, st.logger, st.metrics)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		st.Close(context.Background())
		return err
	}

	st.logger.Info(ctx, "strand gateway started",
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"metrics_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		"provider", cfg.Model.Provider,
		"database", cfg.Database.Driver,
	)

	<-ctx.Done()
	st.logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		st.Close(shutdownCtx)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	st.Close(shutdownCtx)

	st.logger.Info(shutdownCtx, "strand gateway stopped gracefully")
	return nil
}
