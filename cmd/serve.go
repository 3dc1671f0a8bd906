package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parkinson-voice/pkg/api"
	"parkinson-voice/pkg/pipeline"
	"parkinson-voice/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loaded

	// Initialize storage
	statuses := storage.NewMemoryStore()
	results, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer results.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := newEngine(ctx, cfg, pipeline.StatusObserver(statuses))
	if err != nil {
		return err
	}
	// Fail fast on missing bundles rather than on the first request.
	if err := engine.Warmup(ctx); err != nil {
		return err
	}
	slog.Info("models loaded", "bundles", engine.Bundles())

	manager := pipeline.NewManager(cfg.Pipeline, engine, statuses, results)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	handlers := api.NewHandlers(api.Options{
		Pipeline:       manager,
		Statuses:       statuses,
		Results:        results,
		UploadDir:      filepath.Join(cfg.StoragePath, "uploads"),
		MinUploadBytes: cfg.Server.MinUploadBytes,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server exited")
	return nil
}
