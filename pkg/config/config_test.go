package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"LISTEN_ADDR", "STORAGE_PATH", "MODELS_DIR", "AUDIO_BUNDLE", "BRIDGE_BUNDLE",
	"FUSION_BUNDLE", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX",
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "VOICE_QUALITY", "WORKERS", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("", noEnvFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.MinUploadBytes != 1000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Features.SampleRate != 16000 || cfg.Features.VoiceQuality {
		t.Errorf("features = %+v", cfg.Features)
	}
	if cfg.S3.Artifact().Enabled() {
		t.Error("remote enabled without credentials")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  address: ":9000"
pipeline:
  workers: 2
  processing_timeout: 90s
  keep_uploads: true
models:
  dir: /srv/models
  fusion: fusion.yaml
features:
  voice_quality: true
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, noEnvFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9000" || cfg.Pipeline.Workers != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Pipeline.ProcessingTimeout != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Pipeline.ProcessingTimeout)
	}
	if !cfg.Pipeline.KeepUploads {
		t.Error("keep_uploads not read")
	}
	if cfg.Models.Dir != "/srv/models" || cfg.Models.Fusion != "fusion.yaml" || cfg.Models.Audio != "audio_model.msgpack" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if !cfg.Features.VoiceQuality || cfg.Features.NumMFCC != 20 {
		t.Errorf("features = %+v", cfg.Features)
	}
	if lvl, _ := cfg.SlogLevel(); lvl.String() != "DEBUG" {
		t.Errorf("level = %v", lvl)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("WORKERS", "9")
	t.Setenv("VOICE_QUALITY", "true")
	t.Setenv("S3_BUCKET", "models")
	t.Setenv("AWS_ACCESS_KEY_ID", "id")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load("", noEnvFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7000" || cfg.Pipeline.Workers != 9 || !cfg.Features.VoiceQuality {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.S3.Artifact().Enabled() {
		t.Error("remote should be enabled")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even to
	// the empty string, so unset the one read from the file.
	os.Unsetenv("MODELS_DIR")
	t.Cleanup(func() { os.Unsetenv("MODELS_DIR") })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MODELS_DIR=/from/dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Dir != "/from/dotenv" {
		t.Errorf("models dir = %q", cfg.Models.Dir)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]func(t *testing.T) string{
		"workers": func(t *testing.T) string {
			t.Setenv("WORKERS", "zero")
			return ""
		},
		"voice quality": func(t *testing.T) string {
			t.Setenv("VOICE_QUALITY", "maybe")
			return ""
		},
		"log level": func(t *testing.T) string {
			t.Setenv("LOG_LEVEL", "chatty")
			return ""
		},
		"missing file": func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "nope.yaml")
		},
		"bad yaml": func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "bad.yaml")
			os.WriteFile(p, []byte("pipeline: [1, 2"), 0o644)
			return p
		},
		"negative workers": func(t *testing.T) string {
			t.Setenv("WORKERS", "-1")
			return ""
		},
	}
	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			path := setup(t)
			if _, err := Load(path, noEnvFile(t)); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
}
