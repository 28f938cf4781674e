package blob

import (
	"fmt"
	"strings"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

// Scheme tags a blob reference with where the bytes live.
type Scheme string

const (
	// SchemeBlob is a remote object addressed by namespace path.
	SchemeBlob Scheme = "blob"
	// SchemeStream is a remote object that must be streamed (no temp link).
	SchemeStream Scheme = "stream"
	// SchemeFile is a local filesystem path.
	SchemeFile Scheme = "file"
	// SchemeMem is an in-memory cache key (tests and degraded mode).
	SchemeMem Scheme = "mem"
)

// Ref is a parsed blob reference such as "blob:base_model/model_latest.mlmodel".
type Ref struct {
	Scheme Scheme
	Path   string
}

func (r Ref) String() string {
	return string(r.Scheme) + ":" + r.Path
}

// ParseRef splits a scheme-tagged reference. Unknown or missing schemes are
// invariant violations: a ref written by this server always carries one.
func ParseRef(s string) (Ref, error) {
	scheme, path, ok := strings.Cut(s, ":")
	if !ok || path == "" {
		return Ref{}, fmt.Errorf("%w: malformed blob ref %q", errdefs.ErrInvariant, s)
	}
	switch Scheme(scheme) {
	case SchemeBlob, SchemeStream, SchemeFile, SchemeMem:
		return Ref{Scheme: Scheme(scheme), Path: path}, nil
	default:
		return Ref{}, fmt.Errorf("%w: unknown blob ref scheme %q", errdefs.ErrInvariant, scheme)
	}
}

// MakeRef builds a reference string. Namespace paths are stored without a
// leading slash; file: paths are absolute and keep theirs.
func MakeRef(scheme Scheme, path string) string {
	if scheme != SchemeFile {
		path = strings.TrimPrefix(path, "/")
	}
	return Ref{Scheme: scheme, Path: path}.String()
}
