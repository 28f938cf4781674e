// Package errdefs defines the error taxonomy shared across fedhub packages.
//
// Errors are classified with sentinel values wrapped via fmt.Errorf("%w: ...")
// and tested with errors.Is. The HTTP layer maps the taxonomy to status codes
// and workers use it to decide whether an operation is worth retrying.
package errdefs

import "errors"

var (
	// ErrInvariant indicates caller input that violates a documented
	// invariant (missing required field, unknown blob_ref scheme, bad
	// extension). Never retried.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotFound indicates a row, blob, or version that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient indicates a failure that may succeed on retry: store
	// lock contention, network timeouts, 5xx/429 from the blob store.
	ErrTransient = errors.New("transient failure")

	// ErrAuthExpired indicates the blob store rejected the current access
	// token. One token refresh plus replay is attempted before this
	// surfaces.
	ErrAuthExpired = errors.New("access token expired")

	// ErrRefreshFailed indicates the OAuth2 refresh grant itself failed.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrUnconfigured indicates remote storage credentials are absent.
	// Fatal in blob mode, degraded-but-running in local mode.
	ErrUnconfigured = errors.New("storage not configured")

	// ErrInternal is the catch-all for bugs and unclassified failures.
	ErrInternal = errors.New("internal error")
)

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
