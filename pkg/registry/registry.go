package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/types"
)

// BaseVersion is the alias every fresh client knows. It always resolves to
// the base_model/model_latest pointer, never to a fixed artifact, so old
// clients pick up new models without a version discovery round trip.
const BaseVersion = "1.0.0"

// ResolutionKind says how the API should serve a download.
type ResolutionKind string

const (
	// ResolveRedirect: 302 to a short-lived direct URL.
	ResolveRedirect ResolutionKind = "redirect"
	// ResolveStream: stream the bytes through the server as an attachment.
	ResolveStream ResolutionKind = "stream"
)

// Resolution is the outcome of resolving a version for download.
type Resolution struct {
	Kind     ResolutionKind
	URL      string        // redirect target, ResolveRedirect only
	Body     io.ReadCloser // ResolveStream only; caller closes
	Size     int64         // -1 when unknown
	Filename string
}

// Registry answers "what is the latest model" and "where are the bytes for
// version X". It also owns the in-memory base-model cache.
type Registry struct {
	store storage.Store
	blobs blob.Storage
	ext   string

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string][]byte // mem: scheme entries; "base" holds the base model
}

// New creates a registry. ext is the configured artifact extension.
func New(store storage.Store, blobs blob.Storage, ext string) *Registry {
	return &Registry{
		store: store,
		blobs: blobs,
		ext:   ext,
		cache: make(map[string][]byte),
	}
}

// baseRef is the pointer object every publish overwrites.
func (r *Registry) baseRef() string {
	return blob.MakeRef(blob.SchemeBlob, blob.FolderBaseModel+"/model_latest"+r.ext)
}

// Latest returns the newest published model version.
func (r *Registry) Latest() (*types.ModelVersion, error) {
	return r.store.LatestModelVersion()
}

// ResolveForDownload maps a version onto bytes or a redirect.
//
// The 1.0.0 alias is authoritative over whatever blob_ref its seed row
// carries: it always serves base_model/model_latest.
func (r *Registry) ResolveForDownload(ctx context.Context, version string) (*Resolution, error) {
	filename := "model_" + version + r.ext

	var ref string
	if version == BaseVersion {
		ref = r.baseRef()
	} else {
		row, err := r.store.GetModelVersion(version)
		if err != nil {
			return nil, err
		}
		ref = row.BlobRef
	}

	parsed, err := blob.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	switch parsed.Scheme {
	case blob.SchemeMem:
		r.mu.RLock()
		data, ok := r.cache[parsed.Path]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: cache entry %s", errdefs.ErrNotFound, parsed.Path)
		}
		return &Resolution{
			Kind:     ResolveStream,
			Body:     io.NopCloser(bytes.NewReader(data)),
			Size:     int64(len(data)),
			Filename: filename,
		}, nil

	case blob.SchemeFile:
		f, err := os.Open(parsed.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, ref)
			}
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &Resolution{Kind: ResolveStream, Body: f, Size: info.Size(), Filename: filename}, nil

	case blob.SchemeBlob:
		if url, err := r.blobs.TempLink(ctx, ref); err == nil && url != "" {
			return &Resolution{Kind: ResolveRedirect, URL: url, Filename: filename}, nil
		} else if err != nil && errors.Is(err, errdefs.ErrNotFound) {
			return nil, err
		}
		fallthrough

	case blob.SchemeStream:
		body, size, err := r.blobs.OpenStream(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &Resolution{Kind: ResolveStream, Body: body, Size: size, Filename: filename}, nil

	default:
		return nil, fmt.Errorf("%w: unresolvable scheme %s", errdefs.ErrInvariant, parsed.Scheme)
	}
}

// BaseModelBytes fetches the current base artifact, serving repeat calls
// from memory. Concurrent cold fetches collapse into one blob-store round
// trip.
func (r *Registry) BaseModelBytes(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	if data, ok := r.cache["base"]; ok {
		r.mu.RUnlock()
		return data, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.flight.Do("base", func() (interface{}, error) {
		data, err := r.blobs.GetBytes(ctx, r.baseRef())
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache["base"] = data
		r.mu.Unlock()
		log.WithComponent("registry").Debug().Int("bytes", len(data)).Msg("base model cached")
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// InvalidateCache drops cached artifacts. Called after every publish.
func (r *Registry) InvalidateCache() {
	r.mu.Lock()
	r.cache = make(map[string][]byte)
	r.mu.Unlock()
}

// PutCache stores bytes under a mem: key (degraded mode and tests).
func (r *Registry) PutCache(key string, data []byte) {
	r.mu.Lock()
	r.cache[key] = data
	r.mu.Unlock()
}
