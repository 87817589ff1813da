package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/handlers"
	"github.com/MegaGrindStone/veo-web-ui/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "veo-web-ui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := openConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.logger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	previews, err := cfg.Previews.store(cfgPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening preview store: %w", err))
	}

	generator, err := services.NewVideoService(cfg.GeneratorURL, logger)
	if err != nil {
		log.Fatal(err)
	}

	m, err := handlers.NewMain(generator, previews, cfg.handlersConfig(), logger)
	if err != nil {
		log.Fatal(err)
	}

	router, err := m.Routes()
	if err != nil {
		log.Fatal(err)
	}

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepSessions(sweepCtx, m, logger)

	srv.RegisterOnShutdown(func() {
		stopSweep()

		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown chat sessions", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("generatorURL", cfg.GeneratorURL))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	if err := previews.Close(); err != nil {
		logger.Error("Failed to close preview store", slog.String("err", err.Error()))
	}
}

// openConfig reads the config file at path. A missing file is not an error: the defaults and the
// environment are enough to run against a local generation service.
func openConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return loadConfig(strings.NewReader(""))
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	return loadConfig(cfgFile)
}

func sweepSessions(ctx context.Context, m handlers.Main, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SweepSessions(ctx); n > 0 {
				logger.Info("Swept idle chat sessions", slog.Int("count", n))
			}
		}
	}
}
