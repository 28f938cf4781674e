// Package client is a Go client for the fedhub HTTP API, used by tooling
// and integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/types"
)

// Client talks to one fedhub server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at base (e.g. "http://host:8080").
func New(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

// Learn submits a batch of interactions and feedback.
func (c *Client) Learn(ctx context.Context, batch *types.InteractionBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/ai/learn", "application/json", func() io.Reader {
		return bytes.NewReader(body)
	}, nil)
}

// UploadResult is the server's answer to a model upload.
type UploadResult struct {
	ModelID            string `json:"modelId"`
	LatestModelVersion string `json:"latestModelVersion"`
	ModelDownloadURL   string `json:"modelDownloadURL"`
}

// UploadModel sends a model artifact. The artifact is buffered so transient
// failures can be retried safely.
func (c *Client) UploadModel(ctx context.Context, filename, deviceID string, artifact []byte) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("model", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(artifact); err != nil {
		return nil, err
	}
	if deviceID != "" {
		_ = mw.WriteField("deviceId", deviceID)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out UploadResult
	err = c.post(ctx, "/api/ai/upload-model", mw.FormDataContentType(), func() io.Reader {
		return bytes.NewReader(body.Bytes())
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadModel writes the artifact for version to w, following redirects.
func (c *Client) DownloadModel(ctx context.Context, version string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/ai/models/"+version, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errdefs.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.Copy(w, resp.Body)
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: model version %s", errdefs.ErrNotFound, version)
	default:
		return 0, fmt.Errorf("download %s: unexpected status %d", version, resp.StatusCode)
	}
}

// LatestModel is the /api/ai/latest-model response.
type LatestModel struct {
	LatestModelVersion string    `json:"latestModelVersion"`
	ModelDownloadURL   string    `json:"modelDownloadURL"`
	Accuracy           float64   `json:"accuracy"`
	TrainingDataSize   int       `json:"trainingDataSize"`
	TrainingDate       time.Time `json:"trainingDate"`
}

// Latest fetches the newest published version metadata.
func (c *Client) Latest(ctx context.Context) (*LatestModel, error) {
	var out LatestModel
	if err := c.get(ctx, "/api/ai/latest-model", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches the aggregate statistics view.
func (c *Client) Stats(ctx context.Context) (*types.Stats, error) {
	var out struct {
		Stats types.Stats `json:"stats"`
	}
	if err := c.get(ctx, "/api/ai/stats", &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// Healthy reports whether the server answers its health check.
func (c *Client) Healthy(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// post sends a body with retries on transient failures. makeBody is called
// per attempt so retries never replay a consumed reader.
func (c *Client) post(ctx context.Context, path, contentType string, makeBody func() io.Reader, out interface{}) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, makeBody())
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", errdefs.ErrTransient, err))
		}
		defer resp.Body.Close()
		return c.decode(resp, out)
	})
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrTransient, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

func (c *Client) decode(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 500 {
		return retry.RetryableError(fmt.Errorf("%w: server status %d", errdefs.ErrTransient, resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", errdefs.ErrNotFound, resp.Request.URL.Path)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("request rejected (%d): %s", resp.StatusCode, apiErr.Message)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
