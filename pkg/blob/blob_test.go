package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{"blob ref", "blob:base_model/model_latest.mlmodel", Ref{SchemeBlob, "base_model/model_latest.mlmodel"}, false},
		{"stream ref", "stream:trained/model_1.mlmodel", Ref{SchemeStream, "trained/model_1.mlmodel"}, false},
		{"file ref", "file:/data/blobs/x.bin", Ref{SchemeFile, "/data/blobs/x.bin"}, false},
		{"mem ref", "mem:base", Ref{SchemeMem, "base"}, false},
		{"no scheme", "base_model/model.mlmodel", Ref{}, true},
		{"unknown scheme", "ftp:whatever", Ref{}, true},
		{"empty path", "blob:", Ref{}, true},
		{"empty string", "", Ref{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errdefs.ErrInvariant))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefRoundTrip(t *testing.T) {
	ref := MakeRef(SchemeBlob, "uploaded/abc.mlmodel")
	parsed, err := ParseRef(ref)
	require.NoError(t, err)
	assert.Equal(t, "uploaded/abc.mlmodel", parsed.Path)
	assert.Equal(t, ref, parsed.String())
}

func TestMakeRefPaths(t *testing.T) {
	// Namespace paths normalize away a leading slash; file: paths are
	// absolute and must survive untouched.
	assert.Equal(t, "blob:trained/m.mlmodel", MakeRef(SchemeBlob, "/trained/m.mlmodel"))
	assert.Equal(t, "file:/data/blobs/trained/m.mlmodel", MakeRef(SchemeFile, "/data/blobs/trained/m.mlmodel"))

	parsed, err := ParseRef(MakeRef(SchemeFile, "/data/blobs/trained/m.mlmodel"))
	require.NoError(t, err)
	assert.Equal(t, "/data/blobs/trained/m.mlmodel", parsed.Path)
}

func TestLocalPutGet(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := local.Put(ctx, FolderTrained, "model_1.mlmodel", bytes.NewReader([]byte("artifact-bytes")))
	require.NoError(t, err)

	data, err := local.GetBytes(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact-bytes"), data)

	body, size, err := local.OpenStream(ctx, ref)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(len(data)), size)
	streamed, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, data, streamed)
}

func TestLocalMissingObject(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = local.GetBytes(ctx, MakeRef(SchemeBlob, "trained/nope.mlmodel"))
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	// Deleting a missing object is fine.
	assert.NoError(t, local.Delete(ctx, MakeRef(SchemeBlob, "trained/nope.mlmodel")))
}

func TestLocalList(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocal(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = local.Put(ctx, FolderUserData, "a.json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	_, err = local.Put(ctx, FolderUserData, "b.json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)

	// Leftover temp files are invisible.
	require.NoError(t, os.WriteFile(filepath.Join(dir, FolderUserData, "c.json.tmp"), []byte("x"), 0o644))

	objects, err := local.List(ctx, FolderUserData)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	for _, obj := range objects {
		assert.Contains(t, obj.Path, FolderUserData+"/")
	}
}

func TestLocalTempLinkEmpty(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ref, err := local.Put(context.Background(), FolderTrained, "m.mlmodel", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	link, err := local.TempLink(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, link, "local backend cannot mint direct links")
}

func TestLocalSnapshotRoundTrip(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = local.FetchDBSnapshot(ctx)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	require.NoError(t, local.PushDBSnapshot(ctx, []byte("db-bytes")))
	data, err := local.FetchDBSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("db-bytes"), data)
}
