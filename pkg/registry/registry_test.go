package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Store, blob.Storage) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	return New(store, blobs, ".mlmodel"), store, blobs
}

func TestResolveUnknownVersion(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.ResolveForDownload(context.Background(), "9.9.9")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestResolvePublishedVersionStreams(t *testing.T) {
	reg, store, blobs := newTestRegistry(t)
	ctx := context.Background()

	ref, err := blobs.Put(ctx, blob.FolderTrained, "model_1.0.100.mlmodel", bytes.NewReader([]byte("artifact")))
	require.NoError(t, err)
	require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
		Version:   "1.0.100",
		BlobRef:   ref,
		CreatedAt: time.Now(),
	}))

	res, err := reg.ResolveForDownload(ctx, "1.0.100")
	require.NoError(t, err)
	assert.Equal(t, ResolveStream, res.Kind)
	assert.Equal(t, "model_1.0.100.mlmodel", res.Filename)

	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)
}

func TestBaseAliasResolvesToLatestPointer(t *testing.T) {
	reg, store, blobs := newTestRegistry(t)
	ctx := context.Background()

	// The seed row points anywhere; the alias must ignore it.
	require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
		Version:   BaseVersion,
		BlobRef:   "blob:trained/ancient.mlmodel",
		CreatedAt: time.Now(),
	}))
	_, err := blobs.Put(ctx, blob.FolderBaseModel, "model_latest.mlmodel", bytes.NewReader([]byte("latest-bytes")))
	require.NoError(t, err)

	res, err := reg.ResolveForDownload(ctx, BaseVersion)
	require.NoError(t, err)
	require.Equal(t, ResolveStream, res.Kind)

	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("latest-bytes"), data)
}

func TestMemSchemeServesFromCache(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	reg.PutCache("degraded", []byte("cached-bytes"))
	require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
		Version:   "1.0.200",
		BlobRef:   "mem:degraded",
		CreatedAt: time.Now(),
	}))

	res, err := reg.ResolveForDownload(context.Background(), "1.0.200")
	require.NoError(t, err)
	assert.Equal(t, ResolveStream, res.Kind)
	assert.Equal(t, int64(len("cached-bytes")), res.Size)

	reg.InvalidateCache()
	_, err = reg.ResolveForDownload(context.Background(), "1.0.200")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestBaseModelBytesCaches(t *testing.T) {
	reg, _, blobs := newTestRegistry(t)
	ctx := context.Background()

	_, err := blobs.Put(ctx, blob.FolderBaseModel, "model_latest.mlmodel", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)

	data, err := reg.BaseModelBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	// A new publish is invisible until the cache is invalidated.
	_, err = blobs.Put(ctx, blob.FolderBaseModel, "model_latest.mlmodel", bytes.NewReader([]byte("v2")))
	require.NoError(t, err)

	data, err = reg.BaseModelBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	reg.InvalidateCache()
	data, err = reg.BaseModelBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestLatest(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	_, err := reg.Latest()
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	require.NoError(t, store.SaveModelVersion(&types.ModelVersion{
		Version:   "1.0.300",
		BlobRef:   "blob:trained/model_1.0.300.mlmodel",
		CreatedAt: time.Now(),
	}))
	v, err := reg.Latest()
	require.NoError(t, err)
	assert.Equal(t, "1.0.300", v.Version)
}
