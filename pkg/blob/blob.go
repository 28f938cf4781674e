package blob

import (
	"context"
	"io"
)

// Namespace folders. Paths handed to Put are always <folder>/<name>.
const (
	FolderBaseModel = "base_model"
	FolderTrained   = "trained"
	FolderUploads   = "uploaded"
	FolderUserData  = "user_data"
	FolderModelInfo = "model_info"
	FolderNLTKData  = "nltk_data"
	FolderBackups   = "backups"
)

// Object is one entry of a folder listing.
type Object struct {
	Name string
	Path string
	Size int64
}

// Storage is the artifact and snapshot store. Implementations: Remote
// (OAuth2-protected content API) and Local (filesystem, degraded mode).
type Storage interface {
	// Put stores the reader's bytes at <folder>/<name>, overwriting, and
	// returns the canonical ref for the stored object.
	Put(ctx context.Context, folder, name string, r io.Reader) (string, error)

	// GetBytes fetches a whole object into memory.
	GetBytes(ctx context.Context, ref string) ([]byte, error)

	// OpenStream opens the object for sequential reading. Size is -1 when
	// unknown. Caller closes.
	OpenStream(ctx context.Context, ref string) (io.ReadCloser, int64, error)

	// TempLink returns a short-lived direct download URL, or "" when the
	// backend cannot mint one (local mode).
	TempLink(ctx context.Context, ref string) (string, error)

	// List enumerates a namespace folder.
	List(ctx context.Context, folder string) ([]Object, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref string) error

	// PushDBSnapshot uploads a database snapshot to the backups folder.
	PushDBSnapshot(ctx context.Context, data []byte) error

	// FetchDBSnapshot downloads the newest database snapshot, or
	// ErrNotFound when none has been pushed yet.
	FetchDBSnapshot(ctx context.Context) ([]byte, error)

	// Healthy reports whether the backend is reachable and authenticated.
	Healthy(ctx context.Context) error

	// Mode names the backend for /health ("blob" or "local").
	Mode() string
}
