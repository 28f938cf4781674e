package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

// Local is the filesystem backend used in degraded/local mode. Layout under
// root mirrors the remote namespace folders. Temp links are never minted so
// downloads always take the byte-streaming path.
type Local struct {
	root string
}

// NewLocal creates the backend rooted at dir, creating the namespace
// folders up front.
func NewLocal(dir string) (*Local, error) {
	for _, folder := range []string{
		FolderBaseModel, FolderTrained, FolderUploads,
		FolderUserData, FolderModelInfo, FolderNLTKData, FolderBackups,
	} {
		if err := os.MkdirAll(filepath.Join(dir, folder), 0755); err != nil {
			return nil, fmt.Errorf("create blob folder %s: %w", folder, err)
		}
	}
	return &Local{root: dir}, nil
}

func (l *Local) Mode() string { return "local" }

// resolve maps a ref onto a filesystem path. blob:/stream: paths are
// relative to root; file: paths are taken as-is.
func (l *Local) resolve(ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case SchemeFile:
		return parsed.Path, nil
	case SchemeBlob, SchemeStream:
		clean := filepath.Clean("/" + parsed.Path)
		return filepath.Join(l.root, clean), nil
	default:
		return "", fmt.Errorf("%w: local store cannot resolve %s", errdefs.ErrInvariant, ref)
	}
}

func (l *Local) Put(ctx context.Context, folder, name string, r io.Reader) (string, error) {
	path := filepath.Join(l.root, folder, filepath.Base(name))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return MakeRef(SchemeFile, path), nil
}

func (l *Local) GetBytes(ctx context.Context, ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, ref)
	}
	return data, err
}

func (l *Local) OpenStream(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", errdefs.ErrNotFound, ref)
	}
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// TempLink always returns "": the filesystem has no URL to offer.
func (l *Local) TempLink(ctx context.Context, ref string) (string, error) {
	return "", nil
}

func (l *Local) List(ctx context.Context, folder string) ([]Object, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, folder))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Object
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Object{
			Name: e.Name(),
			Path: folder + "/" + e.Name(),
			Size: info.Size(),
		})
	}
	return out, nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) PushDBSnapshot(ctx context.Context, data []byte) error {
	_, err := l.Put(ctx, FolderBackups, snapshotName, bytes.NewReader(data))
	return err
}

func (l *Local) FetchDBSnapshot(ctx context.Context) ([]byte, error) {
	return l.GetBytes(ctx, MakeRef(SchemeBlob, FolderBackups+"/"+snapshotName))
}

func (l *Local) Healthy(ctx context.Context) error {
	_, err := os.Stat(l.root)
	return err
}
