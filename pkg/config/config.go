package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"parkinson-voice/pkg/artifact"
	"parkinson-voice/pkg/features"
)

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Models      ModelsConfig    `yaml:"models"`
	S3          S3Config        `yaml:"s3"`
	Features    features.Config `yaml:"features"`
	StoragePath string          `yaml:"storage_path"`
	LogLevel    string          `yaml:"log_level"`
}

type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MinUploadBytes int64         `yaml:"min_upload_bytes"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	StatusRetention   time.Duration `yaml:"status_retention"`
	// KeepUploads keeps each request's recording on disk after it finishes.
	KeepUploads bool `yaml:"keep_uploads"`
}

type ModelsConfig struct {
	Dir        string `yaml:"dir"`
	Audio      string `yaml:"audio"`
	Bridge     string `yaml:"bridge"`
	Fusion     string `yaml:"fusion"`
	ReduceStep string `yaml:"reduce_step"`
}

type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
}

// Artifact converts the settings for the artifact remote.
func (c S3Config) Artifact() artifact.S3Config {
	return artifact.S3Config{
		Bucket:          c.Bucket,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Prefix:          c.Prefix,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		URLExpiry:       c.URLExpiry,
	}
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   2 * time.Minute,
			MinUploadBytes: 1000,
			MaxUploadBytes: 32 << 20,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			QueueSize:         64,
			ProcessingTimeout: 5 * time.Minute,
			StatusRetention:   time.Hour,
		},
		Models: ModelsConfig{
			Dir:        "./models",
			Audio:      "audio_model.msgpack",
			Bridge:     "pca_bridge.msgpack",
			Fusion:     "fusion_model.msgpack",
			ReduceStep: "pca",
		},
		S3: S3Config{
			Region:    "us-east-1",
			URLExpiry: 15 * time.Minute,
		},
		Features:    features.DefaultConfig(),
		StoragePath: "./data",
		LogLevel:    "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, the given .env files (".env" when none are given) and finally the
// process environment. Missing .env files are ignored; variables already
// set in the environment win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("LISTEN_ADDR", &c.Server.Address)
	envString("STORAGE_PATH", &c.StoragePath)
	envString("MODELS_DIR", &c.Models.Dir)
	envString("AUDIO_BUNDLE", &c.Models.Audio)
	envString("BRIDGE_BUNDLE", &c.Models.Bridge)
	envString("FUSION_BUNDLE", &c.Models.Fusion)
	envString("S3_BUCKET", &c.S3.Bucket)
	envString("S3_REGION", &c.S3.Region)
	envString("S3_ENDPOINT", &c.S3.Endpoint)
	envString("S3_PREFIX", &c.S3.Prefix)
	envString("AWS_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	envString("AWS_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)
	envString("LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("VOICE_QUALITY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: VOICE_QUALITY: %w", err)
		}
		c.Features.VoiceQuality = b
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WORKERS: %w", err)
		}
		c.Pipeline.Workers = n
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Pipeline.Workers <= 0:
		return fmt.Errorf("config: workers must be positive, got %d", c.Pipeline.Workers)
	case c.Pipeline.QueueSize < 0:
		return fmt.Errorf("config: queue_size must not be negative")
	case c.Models.Audio == "" || c.Models.Bridge == "" || c.Models.Fusion == "":
		return errors.New("config: audio, bridge and fusion bundle names are required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
