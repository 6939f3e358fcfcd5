package halaxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Halaxy issues 15-minute tokens. The buffer keeps a token from expiring
// mid-request under normal network latency.
const tokenExpiryBuffer = 2 * time.Minute

// TokenManager obtains and caches an OAuth2 client-credentials token for the
// Halaxy API. Owned by the caller and injected into the Client so there is no
// hidden package-level state; mutex-guarded so the sync worker and the HTTP
// booking path can share one instance.
type TokenManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewTokenManager creates a token manager. Missing credentials are not an
// error here; they surface as ConfigurationError on first use so health
// probes can still call HasCredentials.
func NewTokenManager(clientID, clientSecret, tokenURL string, timeout time.Duration) *TokenManager {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}
}

// HasCredentials reports whether client credentials are configured.
func (tm *TokenManager) HasCredentials() bool {
	return tm.clientID != "" && tm.clientSecret != ""
}

// GetAccessToken returns a cached token while it is still inside the expiry
// buffer, otherwise fetches a fresh one.
func (tm *TokenManager) GetAccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.now().Before(tm.expiresAt.Add(-tokenExpiryBuffer)) {
		return tm.token, nil
	}

	return tm.refreshLocked(ctx)
}

func (tm *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	if tm.clientID == "" {
		return "", &ConfigurationError{Field: "HALAXY_CLIENT_ID"}
	}
	if tm.clientSecret == "" {
		return "", &ConfigurationError{Field: "HALAXY_CLIENT_SECRET"}
	}
	if tm.tokenURL == "" {
		return "", &ConfigurationError{Field: "HALAXY_TOKEN_URL"}
	}

	// Halaxy's token endpoint takes a JSON body, not form encoding.
	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     tm.clientID,
		"client_secret": tm.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("halaxy: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("halaxy: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("halaxy: token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("halaxy: read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return "", fmt.Errorf("halaxy: decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: "token response missing access_token"}
	}

	tm.token = tokenResp.AccessToken
	tm.expiresAt = tm.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return tm.token, nil
}

// Invalidate clears the cached token unconditionally. Idempotent; called on
// 401 responses before the single retry.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = ""
	tm.expiresAt = time.Time{}
}

// TokenStatus is a read-only snapshot for health checks.
type TokenStatus struct {
	HasToken  bool      `json:"hasToken"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsExpired bool      `json:"isExpired"`
}

// Status reports the cached token state without triggering a fetch.
func (tm *TokenManager) Status() TokenStatus {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return TokenStatus{
		HasToken:  tm.token != "",
		ExpiresAt: tm.expiresAt,
		IsExpired: tm.token == "" || !tm.now().Before(tm.expiresAt.Add(-tokenExpiryBuffer)),
	}
}
