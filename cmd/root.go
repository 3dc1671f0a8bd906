package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"parkinson-voice/pkg/artifact"
	"parkinson-voice/pkg/config"
	"parkinson-voice/pkg/features"
	"parkinson-voice/pkg/inference"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "parkinson-voice",
	Short: "Voice-based Parkinson's risk inference",
	Long: `Voice-based Parkinson's risk inference.

Extracts acoustic features from a short voice recording, scores them with
two independently trained models and fuses the scores into a calibrated
probability.

Configuration is read from an optional YAML file (--config), a .env file
in the working directory and the environment.

Examples:
  parkinson-voice serve --config config.yaml
  parkinson-voice predict sample.wav --age 63 --sex m
  parkinson-voice inspect models/pca_bridge.msgpack`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		level, _ := cfg.SlogLevel()
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		loaded = cfg
		return nil
	},
}

// loaded is the configuration read by PersistentPreRunE.
var loaded *config.Config

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(inspectCmd)
}

// newStore builds the artifact store, with the S3 fallback when
// credentials are configured.
func newStore(ctx context.Context, cfg *config.Config) (*artifact.Store, error) {
	remote, err := artifact.NewS3Remote(ctx, cfg.S3.Artifact(), &http.Client{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, err
	}
	if remote == nil {
		slog.Info("remote model fallback disabled", "reason", "no S3 bucket or credentials")
	}
	return artifact.New(artifact.Options{Dir: cfg.Models.Dir, Remote: remote}), nil
}

func newEngine(ctx context.Context, cfg *config.Config, observer inference.Observer) (*inference.Engine, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ext, err := features.New(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	return inference.New(inference.Options{
		Store:        store,
		Extractor:    ext,
		AudioBundle:  cfg.Models.Audio,
		BridgeBundle: cfg.Models.Bridge,
		FusionBundle: cfg.Models.Fusion,
		ReduceStep:   cfg.Models.ReduceStep,
		Observer:     observer,
	})
}
