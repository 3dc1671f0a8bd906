package inference

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"parkinson-voice/pkg/artifact"
	"parkinson-voice/pkg/audio"
	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/bundle/bundletest"
	"parkinson-voice/pkg/features"
	"parkinson-voice/pkg/models"
	"parkinson-voice/pkg/scoring"
)

type recorder struct {
	mu       sync.Mutex
	statuses []models.Status
}

func (r *recorder) observe(_ *models.Request, s models.Status, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) list() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statuses)
}

func writeBundle(t *testing.T, dir, name string, b *bundle.Bundle) {
	t.Helper()
	data, err := bundle.Encode(b, bundle.EncodingOf(name))
	if err != nil {
		t.Fatalf("Encode %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeSine(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	const sr = 16000
	samples := make([]float64, int(seconds*sr))
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/sr)
	}
	path := filepath.Join(dir, "clip.wav")
	if err := audio.Save(path, &audio.Clip{Samples: samples, SampleRate: sr}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

type fixture struct {
	engine *Engine
	rec    *recorder
	dir    string
}

// newFixture writes bundles matching the default feature layout. skip
// names a bundle to leave out.
func newFixture(t *testing.T, audioVersion, skip string) *fixture {
	t.Helper()
	cfg := features.DefaultConfig()
	ext, err := features.New(cfg)
	if err != nil {
		t.Fatalf("features.New: %v", err)
	}
	names := features.Names(cfg)
	version := features.Version(cfg)
	if audioVersion == "" {
		audioVersion = version
	}

	dir := t.TempDir()
	all := map[string]*bundle.Bundle{
		"audio.msgpack":  bundletest.Audio(names, audioVersion),
		"bridge.msgpack": bundletest.Bridge(names, version, 22),
		"fusion.yaml":    bundletest.Fusion(),
	}
	for name, b := range all {
		if name != skip {
			writeBundle(t, dir, name, b)
		}
	}

	rec := &recorder{}
	e, err := New(Options{
		Store:        artifact.New(artifact.Options{Dir: dir}),
		Extractor:    ext,
		AudioBundle:  "audio.msgpack",
		BridgeBundle: "bridge.msgpack",
		FusionBundle: "fusion.yaml",
		Observer:     rec.observe,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{engine: e, rec: rec, dir: t.TempDir()}
}

func TestInfer(t *testing.T) {
	f := newFixture(t, "", "")
	req := models.NewRequest("u1", "s1", writeSine(t, f.dir, 3), nil)

	res, err := f.engine.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.Label != models.LabelHealthy && res.Label != models.LabelParkinson {
		t.Errorf("label = %q", res.Label)
	}
	for name, p := range map[string]float64{"audio": res.PAudio, "bridge": res.PBridge, "fusion": res.PFusion} {
		if p < 0 || p > 1 {
			t.Errorf("%s probability %v outside [0,1]", name, p)
		}
	}
	if res.Label != scoring.Classify(res.PFusion) {
		t.Errorf("label %s does not match fusion probability %v", res.Label, res.PFusion)
	}
	if len(res.PCAFeatures) != 22 {
		t.Errorf("len(PCAFeatures) = %d, want 22", len(res.PCAFeatures))
	}
	if res.Summary != scoring.Summary(res.PFusion) {
		t.Errorf("summary = %q", res.Summary)
	}

	got := f.rec.list()
	if len(got) != 7 {
		t.Fatalf("statuses = %v", got)
	}
	if got[0] != models.StatusReceived || got[1] != models.StatusFeatureExtracted {
		t.Errorf("statuses = %v", got)
	}
	scored := []models.Status{got[2], got[3]}
	if !slices.Contains(scored, models.StatusScoredAudio) || !slices.Contains(scored, models.StatusScoredBridge) {
		t.Errorf("scoring statuses = %v", scored)
	}
	if !slices.Equal(got[4:], []models.Status{models.StatusFused, models.StatusSanitized, models.StatusReturned}) {
		t.Errorf("statuses = %v", got)
	}
}

func TestInferDeterministic(t *testing.T) {
	f := newFixture(t, "", "")
	path := writeSine(t, f.dir, 2)

	first, err := f.engine.Infer(context.Background(), models.NewRequest("u", "s", path, nil))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	second, err := f.engine.Infer(context.Background(), models.NewRequest("u", "s", path, nil))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if first.PFusion != second.PFusion || !slices.Equal(first.PCAFeatures, second.PCAFeatures) {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestInferFailures(t *testing.T) {
	tests := []struct {
		name         string
		audioVersion string
		skip         string
		seconds      float64
		want         error
	}{
		{name: "short clip", seconds: 0.3, want: features.ErrInsufficientAudio},
		{name: "missing bundle", skip: "bridge.msgpack", seconds: 2, want: artifact.ErrArtifactUnavailable},
		{name: "missing fusion", skip: "fusion.yaml", seconds: 2, want: artifact.ErrArtifactUnavailable},
		{name: "layout mismatch", audioVersion: "core-v0", seconds: 2, want: scoring.ErrFeatureShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.audioVersion, tt.skip)
			req := models.NewRequest("u", "s", writeSine(t, f.dir, tt.seconds), nil)

			res, err := f.engine.Infer(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			got := f.rec.list()
			if got[len(got)-1] != models.StatusFailed {
				t.Errorf("last status = %s, want failed", got[len(got)-1])
			}
			if slices.Contains(got, models.StatusReturned) {
				t.Error("failed request reported returned")
			}
		})
	}
}

func TestInferMissingFile(t *testing.T) {
	f := newFixture(t, "", "")
	req := models.NewRequest("u", "s", filepath.Join(f.dir, "nope.wav"), nil)
	if _, err := f.engine.Infer(context.Background(), req); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("err = %v, want audio.ErrDecode", err)
	}
}

func TestInferCanceled(t *testing.T) {
	f := newFixture(t, "", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clip := &audio.Clip{Samples: make([]float64, 32000), SampleRate: 16000}
	if _, err := f.engine.InferClip(ctx, models.NewRequest("u", "s", "", nil), clip); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWarmup(t *testing.T) {
	f := newFixture(t, "", "")
	if err := f.engine.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	missing := newFixture(t, "", "audio.msgpack")
	if err := missing.engine.Warmup(context.Background()); !errors.Is(err, artifact.ErrArtifactUnavailable) {
		t.Errorf("Warmup err = %v, want ErrArtifactUnavailable", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New(Options{}) succeeded")
	}
}
