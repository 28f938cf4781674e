package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/log"
)

// TokenSource supplies bearer tokens for the remote backend. Implemented by
// the token manager.
type TokenSource interface {
	// Current returns a valid access token, refreshing if close to expiry.
	Current(ctx context.Context) (string, error)
	// ForceRefresh refreshes regardless of expiry and returns the new token.
	// Called after the backend rejects a token the manager thought valid.
	ForceRefresh(ctx context.Context) (string, error)
}

const (
	remoteAttempts = 3
	snapshotName   = "fedhub_latest.db"
)

// Remote is a client for a Dropbox-compatible OAuth2 content API.
type Remote struct {
	apiBase     string
	contentBase string
	tokens      TokenSource
	client      *http.Client
}

// NewRemote builds a remote blob store client. apiBase hosts the JSON RPC
// endpoints, contentBase the upload/download endpoints.
func NewRemote(apiBase, contentBase string, tokens TokenSource) *Remote {
	return &Remote{
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		contentBase: strings.TrimSuffix(contentBase, "/"),
		tokens:      tokens,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (r *Remote) Mode() string { return "blob" }

// --- request plumbing ---

// apiArg is the JSON argument of an RPC or content call.
type apiArg map[string]interface{}

// do issues one authenticated request, refreshing the token and replaying
// once on a 401. Transient failures (network, 429, 5xx) are retried with
// fibonacci backoff. The returned response body is the caller's to close.
func (r *Remote) do(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	backoff := retry.WithMaxRetries(remoteAttempts, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := r.tokens.Current(ctx)
		if err != nil {
			return err // unconfigured or refresh-failed, not retryable here
		}

		res, err := r.send(ctx, build, token)
		if err == nil && res.StatusCode == http.StatusUnauthorized {
			res.Body.Close()
			log.WithComponent("blob").Warn().Msg("access token rejected, forcing refresh")
			token, err = r.tokens.ForceRefresh(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", errdefs.ErrAuthExpired, err)
			}
			res, err = r.send(ctx, build, token)
		}
		if err != nil {
			if isNetTransient(err) {
				return retry.RetryableError(fmt.Errorf("%w: %v", errdefs.ErrTransient, err))
			}
			return err
		}

		switch {
		case res.StatusCode == http.StatusUnauthorized:
			res.Body.Close()
			return fmt.Errorf("%w: token rejected after refresh", errdefs.ErrAuthExpired)
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
			res.Body.Close()
			return retry.RetryableError(fmt.Errorf("%w: status %d: %s", errdefs.ErrTransient, res.StatusCode, bytes.TrimSpace(body)))
		}

		resp = res
		return nil
	})
	return resp, err
}

func (r *Remote) send(ctx context.Context, build func(token string) (*http.Request, error), token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, err
	}
	return r.client.Do(req.WithContext(ctx))
}

func isNetTransient(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// rpc posts a JSON argument to an api endpoint and decodes the reply into out.
func (r *Remote) rpc(ctx context.Context, endpoint string, arg, out interface{}) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return err
	}

	resp, err := r.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, r.apiBase+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// Path errors (not_found etc.) come back as 409 with a JSON summary.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if bytes.Contains(body, []byte("not_found")) {
			return fmt.Errorf("%w: %s", errdefs.ErrNotFound, endpoint)
		}
		return fmt.Errorf("%w: %s: %s", errdefs.ErrInternal, endpoint, bytes.TrimSpace(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", errdefs.ErrInternal, endpoint, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Storage implementation ---

func (r *Remote) Put(ctx context.Context, folder, name string, src io.Reader) (string, error) {
	// Content endpoints take the whole body; buffer so a token-refresh
	// replay can resend it.
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	path := "/" + folder + "/" + name

	arg, err := json.Marshal(apiArg{"path": path, "mode": "overwrite", "mute": true})
	if err != nil {
		return "", err
	}

	resp, err := r.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, r.contentBase+"/files/upload", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Dropbox-API-Arg", string(arg))
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: upload %s: status %d", errdefs.ErrInternal, path, resp.StatusCode)
	}
	return MakeRef(SchemeBlob, folder+"/"+name), nil
}

func (r *Remote) openDownload(ctx context.Context, path string) (*http.Response, error) {
	arg, err := json.Marshal(apiArg{"path": path})
	if err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, r.contentBase+"/files/download", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Dropbox-API-Arg", string(arg))
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s: status %d", errdefs.ErrInternal, path, resp.StatusCode)
	}
	return resp, nil
}

func (r *Remote) GetBytes(ctx context.Context, ref string) ([]byte, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != SchemeBlob && parsed.Scheme != SchemeStream {
		return nil, fmt.Errorf("%w: remote store cannot resolve %s", errdefs.ErrInvariant, ref)
	}
	resp, err := r.openDownload(ctx, "/"+parsed.Path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (r *Remote) OpenStream(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, 0, err
	}
	if parsed.Scheme != SchemeBlob && parsed.Scheme != SchemeStream {
		return nil, 0, fmt.Errorf("%w: remote store cannot resolve %s", errdefs.ErrInvariant, ref)
	}
	resp, err := r.openDownload(ctx, "/"+parsed.Path)
	if err != nil {
		return nil, 0, err
	}
	size := resp.ContentLength
	return resp.Body, size, nil
}

func (r *Remote) TempLink(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == SchemeStream {
		// Stream-only objects never get direct links.
		return "", nil
	}
	var reply struct {
		Link string `json:"link"`
	}
	err = r.rpc(ctx, "/files/get_temporary_link", apiArg{"path": "/" + parsed.Path}, &reply)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return "", err
		}
		// Link minting is an optimization; callers fall back to streaming.
		log.WithComponent("blob").Debug().Err(err).Str("ref", ref).Msg("temp link unavailable")
		return "", nil
	}
	return reply.Link, nil
}

func (r *Remote) List(ctx context.Context, folder string) ([]Object, error) {
	var reply struct {
		Entries []struct {
			Tag  string `json:".tag"`
			Name string `json:"name"`
			Path string `json:"path_display"`
			Size int64  `json:"size"`
		} `json:"entries"`
		HasMore bool   `json:"has_more"`
		Cursor  string `json:"cursor"`
	}

	if err := r.rpc(ctx, "/files/list_folder", apiArg{"path": "/" + folder}, &reply); err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, nil // folder not created yet
		}
		return nil, err
	}

	var out []Object
	collect := func() {
		for _, e := range reply.Entries {
			if e.Tag != "file" {
				continue
			}
			out = append(out, Object{Name: e.Name, Path: strings.TrimPrefix(e.Path, "/"), Size: e.Size})
		}
	}
	collect()

	for reply.HasMore {
		cursor := reply.Cursor
		reply.Entries = nil
		if err := r.rpc(ctx, "/files/list_folder/continue", apiArg{"cursor": cursor}, &reply); err != nil {
			return nil, err
		}
		collect()
	}
	return out, nil
}

func (r *Remote) Delete(ctx context.Context, ref string) error {
	parsed, err := ParseRef(ref)
	if err != nil {
		return err
	}
	err = r.rpc(ctx, "/files/delete_v2", apiArg{"path": "/" + parsed.Path}, nil)
	if errors.Is(err, errdefs.ErrNotFound) {
		return nil
	}
	return err
}

func (r *Remote) PushDBSnapshot(ctx context.Context, data []byte) error {
	name := fmt.Sprintf("fedhub_backup_%d.db", time.Now().Unix())
	if _, err := r.Put(ctx, FolderBackups, name, bytes.NewReader(data)); err != nil {
		return err
	}
	// The fixed-name copy is what boot restores from.
	_, err := r.Put(ctx, FolderBackups, snapshotName, bytes.NewReader(data))
	return err
}

func (r *Remote) FetchDBSnapshot(ctx context.Context) ([]byte, error) {
	return r.GetBytes(ctx, MakeRef(SchemeBlob, FolderBackups+"/"+snapshotName))
}

func (r *Remote) Healthy(ctx context.Context) error {
	_, err := r.tokens.Current(ctx)
	return err
}
