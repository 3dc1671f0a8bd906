// Package inference runs a voice recording through feature extraction,
// the two scoring stages, fusion and sanitization.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"parkinson-voice/pkg/artifact"
	"parkinson-voice/pkg/audio"
	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/features"
	"parkinson-voice/pkg/models"
	"parkinson-voice/pkg/sanitize"
	"parkinson-voice/pkg/scoring"
)

// Observer is told about every status transition of a request. It is
// called from several goroutines and must be safe for concurrent use.
type Observer func(req *models.Request, status models.Status, err error)

// Options configures an Engine.
type Options struct {
	Store     *artifact.Store
	Extractor *features.Extractor

	AudioBundle  string
	BridgeBundle string
	FusionBundle string
	// ReduceStep names the bridge pipeline step exposed as pca_features.
	ReduceStep string

	Observer Observer
	Logger   *slog.Logger
}

// Engine is the inference core. It keeps no per-request state and is safe
// for concurrent use.
type Engine struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Extractor == nil {
		return nil, errors.New("inference: store and extractor are required")
	}
	if opts.AudioBundle == "" || opts.BridgeBundle == "" || opts.FusionBundle == "" {
		return nil, errors.New("inference: bundle names are required")
	}
	if opts.ReduceStep == "" {
		opts.ReduceStep = scoring.DefaultReduceStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{opts: opts, log: opts.Logger.With("component", "inference")}, nil
}

// Bundles returns the configured bundle names.
func (e *Engine) Bundles() []string {
	return []string{e.opts.AudioBundle, e.opts.BridgeBundle, e.opts.FusionBundle}
}

// Warmup resolves every bundle ahead of the first request.
func (e *Engine) Warmup(ctx context.Context) error {
	return e.opts.Store.Preload(ctx, e.Bundles()...)
}

func (e *Engine) notify(req *models.Request, status models.Status, err error) {
	if e.opts.Observer != nil {
		e.opts.Observer(req, status, err)
	}
}

// Infer loads the recording at req.Path and returns its sanitized result.
// On any failure it returns no result.
func (e *Engine) Infer(ctx context.Context, req *models.Request) (*models.FusionResult, error) {
	return e.process(ctx, req, func() (*audio.Clip, error) { return audio.Load(req.Path) })
}

// InferClip is Infer for a clip that is already in memory.
func (e *Engine) InferClip(ctx context.Context, req *models.Request, clip *audio.Clip) (*models.FusionResult, error) {
	return e.process(ctx, req, func() (*audio.Clip, error) { return clip, nil })
}

func (e *Engine) process(ctx context.Context, req *models.Request, load func() (*audio.Clip, error)) (*models.FusionResult, error) {
	start := time.Now()
	e.notify(req, models.StatusReceived, nil)

	clip, err := load()
	if err == nil {
		var res *models.FusionResult
		if res, err = e.run(ctx, req, clip); err == nil {
			e.log.Info("inference complete", "request_id", req.ID, "label", res.Label,
				"fusion_proba", res.PFusion, "elapsed", time.Since(start))
			e.notify(req, models.StatusReturned, nil)
			return res, nil
		}
	}
	e.log.Warn("inference failed", "request_id", req.ID, "error", err)
	e.notify(req, models.StatusFailed, err)
	return nil, err
}

func (e *Engine) run(ctx context.Context, req *models.Request, clip *audio.Clip) (*models.FusionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec, err := e.opts.Extractor.Extract(clip)
	if err != nil {
		return nil, err
	}
	e.log.Debug("features extracted", "request_id", req.ID, "stage", models.StatusFeatureExtracted,
		"features", vec.Len(), "seconds", clip.Seconds())
	e.notify(req, models.StatusFeatureExtracted, nil)

	var (
		pAudio float64
		bridge scoring.BridgeScore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := e.resolve(gctx, e.opts.AudioBundle)
		if err != nil {
			return err
		}
		if pAudio, err = (scoring.AudioStage{Bundle: b}).Score(vec); err != nil {
			return err
		}
		e.notify(req, models.StatusScoredAudio, nil)
		return nil
	})
	g.Go(func() error {
		b, err := e.resolve(gctx, e.opts.BridgeBundle)
		if err != nil {
			return err
		}
		if bridge, err = (scoring.Bridge{Bundle: b, ReduceStep: e.opts.ReduceStep}).Score(vec); err != nil {
			return err
		}
		e.notify(req, models.StatusScoredBridge, nil)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := models.ScoreSet{PAudio: pAudio, PBridge: bridge.P, Reduced: bridge.Reduced}

	fb, err := e.resolve(ctx, e.opts.FusionBundle)
	if err != nil {
		return nil, err
	}
	label, pFusion, err := scoring.Fusion{Bundle: fb}.Fuse(scores.PAudio, scores.PBridge, req.Covariates)
	if err != nil {
		return nil, err
	}
	e.log.Debug("fused", "request_id", req.ID, "stage", models.StatusFused,
		"audio_proba", scores.PAudio, "bridge_proba", scores.PBridge, "fusion_proba", pFusion)
	e.notify(req, models.StatusFused, nil)

	res := sanitize.Result(models.FusionResult{
		Label:       label,
		PAudio:      scores.PAudio,
		PBridge:     scores.PBridge,
		PFusion:     pFusion,
		PCAFeatures: scores.Reduced,
		Summary:     scoring.Summary(pFusion),
	})
	e.notify(req, models.StatusSanitized, nil)
	return &res, nil
}

func (e *Engine) resolve(ctx context.Context, name string) (*bundle.Bundle, error) {
	b, err := e.opts.Store.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return b, nil
}
