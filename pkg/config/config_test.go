package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, StorageModeBlob, cfg.StorageMode)
	assert.Equal(t, ".mlmodel", cfg.ModelExt)
	assert.Equal(t, 50, cfg.MinTrainingRows)
	assert.Equal(t, 3, cfg.PendingTrigger)
	assert.Equal(t, 12, cfg.StaleHours)
	assert.Equal(t, 100, cfg.NewRowsTrigger)
	assert.Equal(t, 5, cfg.RetainModels)
	assert.Equal(t, 2, cfg.TrainHour)
	assert.Equal(t, 60*time.Second, cfg.SnapshotDebounce)
	assert.Equal(t, int64(600<<20), cfg.MaxUploadBytes)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
storage_mode: local
retain_models: 7
`), 0o644))

	t.Setenv("RETAIN_MODELS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, StorageModeLocal, cfg.StorageMode)
	// Environment wins over the file.
	assert.Equal(t, 9, cfg.RetainModels)
}

func TestValidateRejectsUnknownStorageMode(t *testing.T) {
	cfg := Default()
	cfg.StorageMode = "s3"
	err := cfg.Validate()
	assert.True(t, errors.Is(err, errdefs.ErrInvariant))
}

func TestValidateBlobModeNeedsCredentials(t *testing.T) {
	cfg := Default()
	cfg.StorageMode = StorageModeBlob
	err := cfg.Validate()
	assert.True(t, errors.Is(err, errdefs.ErrUnconfigured))

	cfg.BlobAppKey = "k"
	cfg.BlobAppSecret = "s"
	cfg.BlobRefresh = "r"
	assert.NoError(t, cfg.Validate())
}

func TestValidateLocalModeNeedsNoCredentials(t *testing.T) {
	cfg := Default()
	cfg.StorageMode = StorageModeLocal
	assert.NoError(t, cfg.Validate())
}

func TestValidateModelExt(t *testing.T) {
	cfg := Default()
	cfg.StorageMode = StorageModeLocal
	cfg.ModelExt = "mlmodel"
	assert.Error(t, cfg.Validate())
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/fedhub"
	assert.Equal(t, "/var/lib/fedhub/tokens.json", cfg.TokensPath())
	assert.Equal(t, "/var/lib/fedhub/fedhub.db", cfg.DBPath())
}
