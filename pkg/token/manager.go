package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/fedhub/pkg/errdefs"
	"github.com/cortexlab/fedhub/pkg/log"
)

const (
	// refreshThreshold: refresh when the token expires within this window.
	refreshThreshold = 300 * time.Second
	// refreshCooldown: minimum spacing between successful refreshes.
	refreshCooldown = 60 * time.Second
	// refreshTimeout bounds the token endpoint round trip.
	refreshTimeout = 10 * time.Second
)

// State is the persisted token file. The file, once written, is the source
// of truth; environment variables only seed the first write.
type State struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AppKey       string    `json:"app_key"`
	AppSecret    string    `json:"app_secret"`
	Expiry       time.Time `json:"expiry"`
	LastRefresh  time.Time `json:"last_refresh"`
}

// Manager owns the OAuth2 refresh-token lifecycle for the blob store.
// All refreshes are serialized; concurrent callers piggyback on the result.
type Manager struct {
	path     string
	tokenURL string
	client   *http.Client
	now      func() time.Time

	mu    sync.Mutex
	state State
}

// NewManager loads (or seeds) the token file at path. tokenURL is the OAuth2
// token endpoint. A corrupt file is quarantined aside and re-seeded.
func NewManager(path, tokenURL string, seed State) (*Manager, error) {
	m := &Manager{
		path:     path,
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: refreshTimeout},
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &m.state); jsonErr != nil {
			quarantine := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
			if renameErr := os.Rename(path, quarantine); renameErr == nil {
				log.WithComponent("token").Warn().
					Str("quarantine", quarantine).
					Msg("token file unreadable, quarantined and re-seeding")
			}
			m.state = seed
			if err := m.persistLocked(); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err):
		m.state = seed
		if seed.RefreshToken != "" {
			if err := m.persistLocked(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("read token file: %w", err)
	}

	// The file wins over the seed, but credentials absent from an old file
	// are backfilled so rotation via env works.
	if m.state.AppKey == "" {
		m.state.AppKey = seed.AppKey
	}
	if m.state.AppSecret == "" {
		m.state.AppSecret = seed.AppSecret
	}
	if m.state.RefreshToken == "" {
		m.state.RefreshToken = seed.RefreshToken
	}

	return m, nil
}

// Configured reports whether a refresh grant is possible.
func (m *Manager) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.RefreshToken != "" && m.state.AppKey != "" && m.state.AppSecret != ""
}

// Current returns a valid access token, refreshing when the expiry is
// within the refresh threshold.
func (m *Manager) Current(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", errdefs.ErrUnconfigured)
	}

	usable := m.state.AccessToken != "" && m.now().Before(m.state.Expiry)
	needsRefresh := m.state.AccessToken == "" || m.now().After(m.state.Expiry.Add(-refreshThreshold))

	if needsRefresh {
		// Skip the refresh when one just succeeded and the token still
		// works; this caps refresh traffic under concurrent callers.
		withinCooldown := m.now().Sub(m.state.LastRefresh) < refreshCooldown
		if !withinCooldown || !usable {
			if err := m.refreshLocked(ctx); err != nil {
				if usable {
					// Keep serving the old token until it actually dies.
					log.WithComponent("token").Warn().Err(err).Msg("refresh failed, serving existing token")
					return m.state.AccessToken, nil
				}
				return "", err
			}
		}
	}
	return m.state.AccessToken, nil
}

// ForceRefresh refreshes regardless of expiry. Called after the blob store
// rejects a token. The cooldown still applies so a misbehaving backend
// cannot drive a refresh loop.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", errdefs.ErrUnconfigured)
	}
	if m.now().Sub(m.state.LastRefresh) < refreshCooldown {
		return m.state.AccessToken, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.state.AccessToken, nil
}

// refreshLocked performs the refresh grant. Caller holds mu.
func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.state.AppKey == "" || m.state.AppSecret == "" {
		return fmt.Errorf("%w: missing app credentials", errdefs.ErrUnconfigured)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.state.RefreshToken},
		"client_id":     {m.state.AppKey},
		"client_secret": {m.state.AppSecret},
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned %d", errdefs.ErrRefreshFailed, resp.StatusCode)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		// Some providers rotate the refresh token on use.
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("%w: decode reply: %v", errdefs.ErrRefreshFailed, err)
	}
	if reply.AccessToken == "" {
		return fmt.Errorf("%w: empty access token in reply", errdefs.ErrRefreshFailed)
	}

	m.state.AccessToken = reply.AccessToken
	if reply.RefreshToken != "" {
		m.state.RefreshToken = reply.RefreshToken
	}
	if reply.ExpiresIn > 0 {
		m.state.Expiry = m.now().Add(time.Duration(reply.ExpiresIn) * time.Second)
	} else {
		// Providers that omit expires_in get the conservative default.
		m.state.Expiry = m.now().Add(4 * time.Hour)
	}
	m.state.LastRefresh = m.now()

	if err := m.persistLocked(); err != nil {
		// The refresh worked; a persistence failure only costs us a
		// refresh on next boot.
		log.WithComponent("token").Error().Err(err).Msg("failed to persist token state")
	}

	log.WithComponent("token").Info().
		Time("expiry", m.state.Expiry).
		Msg("access token refreshed")
	return nil
}

// persistLocked writes the state atomically (temp file + rename).
func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(&m.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
