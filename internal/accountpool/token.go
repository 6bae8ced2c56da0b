package accountpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the minimal surface Refresher needs from an egress
// transport, satisfied by *http.Client and by transport.Manager's default
// client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OAuthRefresher implements Refresher against a Google OAuth-compatible
// token endpoint, grounded on the teacher's callOAuthRefresh shape.
type OAuthRefresher struct {
	TokenURL string
	ClientID string
	Client   HTTPClient
	Timeout  time.Duration
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     r.ClientID,
	})

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TokenURL, bytes.NewReader(body))
	if err != nil {
		return RefreshResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "antigravity")

	resp, err := r.Client.Do(req)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("oauth refresh request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("oauth refresh read: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden {
		return RefreshResult{}, &AuthInvalidError{Detail: fmt.Sprintf("oauth refresh %d: %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		return RefreshResult{}, fmt.Errorf("oauth refresh returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return RefreshResult{}, fmt.Errorf("oauth refresh parse: %w", err)
	}
	if tr.AccessToken == "" {
		return RefreshResult{}, fmt.Errorf("oauth refresh: empty access_token")
	}

	return RefreshResult{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

// StaticProjectIDFetcher satisfies ProjectIDFetcher by generating a random
// project id, used when the config asks to skip the real fetch but still
// needs a stand-in value (spec §4.1: "or randomly generated if configured
// to skip").
type StaticProjectIDFetcher struct {
	Generate func() string
}

func (s *StaticProjectIDFetcher) Fetch(ctx context.Context, acct *Account) (string, bool, error) {
	return s.Generate(), false, nil
}

// HTTPProjectIDFetcher resolves the project id via an upstream lookup
// endpoint, disabling the account if the upstream reports ineligibility.
type HTTPProjectIDFetcher struct {
	URL     string
	Client  HTTPClient
	Timeout time.Duration
}

func (f *HTTPProjectIDFetcher) Fetch(ctx context.Context, acct *Account) (string, bool, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)
	req.Header.Set("User-Agent", "antigravity")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", true, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("project id fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, fmt.Errorf("project id parse: %w", err)
	}
	return out.ProjectID, false, nil
}
