package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/app"
	"github.com/Brownie44l1/sketch-api/internal/config"
	"github.com/Brownie44l1/sketch-api/internal/handlers"
	"github.com/Brownie44l1/sketch-api/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile, port string
	cmd := &cobra.Command{
		Use:          "sketch-server",
		Short:        "Serve the sketch-to-image HTTP API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.Development,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, dir := range []string{cfg.OutputDir, cfg.SketchDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	a := app.New(cfg, logger)
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown cleanup failed", zap.Error(err))
		}
	}()

	handler := handlers.NewHandler(a.Pipeline, handlers.Options{
		OutputDir:          cfg.OutputDir,
		SketchDir:          cfg.SketchDir,
		UploadDir:          cfg.UploadDir,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		EnsembleSamples:    cfg.EnsembleSamples,
		MaxEnsembleSamples: cfg.MaxEnsembleSamples,
		GeneratorIDs:       a.Registry.IDs(),
	}, logger.Named("http"))

	router, err := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		OutputDir:      cfg.OutputDir,
		SketchDir:      cfg.SketchDir,
	}, handler, logger.Named("http"))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("model_dir", cfg.ModelDir),
			zap.Strings("routes", []string{"GET /health", "POST /generate/", "GET /images/*", "GET /sketches/*"}))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
