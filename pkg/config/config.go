// Package config loads fedhub configuration from the environment with an
// optional YAML file underneath. Environment variables win over file values;
// defaults fill the rest. Validation happens once at startup so the rest of
// the code can trust the struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

// StorageMode selects where artifacts and snapshots live.
type StorageMode string

const (
	StorageModeBlob  StorageMode = "blob"  // remote object store
	StorageModeLocal StorageMode = "local" // filesystem under DataDir
)

// Config holds every runtime knob. Field comments give the env var name.
type Config struct {
	Listen      string      `yaml:"listen"`       // FEDHUB_LISTEN
	DataDir     string      `yaml:"data_dir"`     // FEDHUB_DATA_DIR
	StorageMode StorageMode `yaml:"storage_mode"` // STORAGE_MODE

	// Remote blob store (Dropbox-compatible content API).
	BlobAPIBase     string `yaml:"blob_api_base"`     // BLOB_API_BASE
	BlobContentBase string `yaml:"blob_content_base"` // BLOB_CONTENT_BASE
	BlobAppKey      string `yaml:"blob_app_key"`      // BLOB_APP_KEY
	BlobAppSecret   string `yaml:"blob_app_secret"`   // BLOB_APP_SECRET
	BlobRefresh     string `yaml:"blob_refresh"`      // BLOB_REFRESH_TOKEN
	BlobAccessSeed  string `yaml:"blob_access_seed"`  // BLOB_ACCESS_TOKEN

	// Training policy.
	ModelExt         string        `yaml:"model_ext"`         // MODEL_EXT
	MinTrainingRows  int           `yaml:"min_training_rows"` // MIN_TRAINING_ROWS
	PendingTrigger   int           `yaml:"pending_trigger"`   // PENDING_TRIGGER
	StaleHours       int           `yaml:"stale_hours"`       // STALE_HOURS
	NewRowsTrigger   int           `yaml:"new_rows_trigger"`  // NEW_ROWS_TRIGGER
	RetainModels     int           `yaml:"retain_models"`     // RETAIN_MODELS
	TrainHour        int           `yaml:"train_hour"`        // TRAIN_HOUR
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"` // SNAPSHOT_DEBOUNCE

	// HTTP surface.
	MaxUploadBytes int64    `yaml:"max_upload_bytes"` // MAX_UPLOAD_BYTES
	CORSOrigins    []string `yaml:"cors_origins"`     // CORS_ORIGINS (comma separated)

	// Logging.
	LogLevel string `yaml:"log_level"` // LOG_LEVEL
	LogJSON  bool   `yaml:"log_json"`  // LOG_JSON
}

// Default returns a Config with every knob at its documented default.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		DataDir:          "./data",
		StorageMode:      StorageModeBlob,
		BlobAPIBase:      "https://api.dropboxapi.com/2",
		BlobContentBase:  "https://content.dropboxapi.com/2",
		ModelExt:         ".mlmodel",
		MinTrainingRows:  50,
		PendingTrigger:   3,
		StaleHours:       12,
		NewRowsTrigger:   100,
		RetainModels:     5,
		TrainHour:        2,
		SnapshotDebounce: 60 * time.Second,
		MaxUploadBytes:   600 << 20,
		LogLevel:         "info",
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path (empty path skips the file), then environment overrides, then
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Listen, "FEDHUB_LISTEN")
	setStr(&c.DataDir, "FEDHUB_DATA_DIR")
	if v := os.Getenv("STORAGE_MODE"); v != "" {
		c.StorageMode = StorageMode(v)
	}
	setStr(&c.BlobAPIBase, "BLOB_API_BASE")
	setStr(&c.BlobContentBase, "BLOB_CONTENT_BASE")
	setStr(&c.BlobAppKey, "BLOB_APP_KEY")
	setStr(&c.BlobAppSecret, "BLOB_APP_SECRET")
	setStr(&c.BlobRefresh, "BLOB_REFRESH_TOKEN")
	setStr(&c.BlobAccessSeed, "BLOB_ACCESS_TOKEN")
	setStr(&c.ModelExt, "MODEL_EXT")
	setInt(&c.MinTrainingRows, "MIN_TRAINING_ROWS")
	setInt(&c.PendingTrigger, "PENDING_TRIGGER")
	setInt(&c.StaleHours, "STALE_HOURS")
	setInt(&c.NewRowsTrigger, "NEW_ROWS_TRIGGER")
	setInt(&c.RetainModels, "RETAIN_MODELS")
	setInt(&c.TrainHour, "TRAIN_HOUR")
	if v := os.Getenv("SNAPSHOT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SnapshotDebounce = d
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	setStr(&c.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("LOG_JSON"); v != "" {
		c.LogJSON = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.StorageMode {
	case StorageModeBlob, StorageModeLocal:
	default:
		return fmt.Errorf("%w: unknown storage mode %q", errdefs.ErrInvariant, c.StorageMode)
	}
	if c.StorageMode == StorageModeBlob && (c.BlobRefresh == "" || c.BlobAppKey == "" || c.BlobAppSecret == "") {
		return fmt.Errorf("%w: blob storage requires BLOB_REFRESH_TOKEN, BLOB_APP_KEY and BLOB_APP_SECRET", errdefs.ErrUnconfigured)
	}
	if !strings.HasPrefix(c.ModelExt, ".") {
		return fmt.Errorf("%w: model extension %q must start with a dot", errdefs.ErrInvariant, c.ModelExt)
	}
	if c.MinTrainingRows < 1 {
		return fmt.Errorf("%w: min_training_rows must be positive", errdefs.ErrInvariant)
	}
	if c.TrainHour < 0 || c.TrainHour > 23 {
		return fmt.Errorf("%w: train_hour must be 0..23", errdefs.ErrInvariant)
	}
	if c.RetainModels < 1 {
		return fmt.Errorf("%w: retain_models must be positive", errdefs.ErrInvariant)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max_upload_bytes must be positive", errdefs.ErrInvariant)
	}
	return nil
}

// TokensPath is the location of the persisted OAuth2 token state.
func (c *Config) TokensPath() string {
	return c.DataDir + "/tokens.json"
}

// DBPath is the location of the embedded database file.
func (c *Config) DBPath() string {
	return c.DataDir + "/fedhub.db"
}
