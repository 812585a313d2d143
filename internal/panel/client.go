// Package panel talks to the external panel API that tracks accounts per
// checkout URL. Every call is best-effort: failures degrade to nil/false and
// never propagate to the automation flow.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const tokenHeader = "X-Extension-Token"

// ConfigSource yields the normalized base URL and trimmed token for one
// call. Implemented by the settings store.
type ConfigSource interface {
	PanelConfig() PanelConfig
}

// PanelConfig mirrors settings.PanelConfig without importing it, keeping the
// client free of a settings dependency.
type PanelConfig struct {
	BaseURL   string
	AuthToken string
}

// Account is the subset of the account lookup response the agent consumes.
// Additional fields are tolerated and ignored.
type Account struct {
	Email     string `json:"email"`
	AccountID string `json:"account_id,omitempty"`
}

// Client calls the panel extension API.
type Client struct {
	cfg  ConfigSource
	http *http.Client
}

// NewClient builds a panel client. A nil httpClient uses a 10s-timeout
// default.
func NewClient(cfg ConfigSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// LookupAccountByURL fetches the account registered for a checkout URL.
// Returns nil on any failure: network error, non-2xx status or a body that
// does not parse.
func (c *Client) LookupAccountByURL(ctx context.Context, pageURL string) *Account {
	if pageURL == "" {
		return nil
	}
	pc := c.cfg.PanelConfig()
	target := pc.BaseURL + "/api/v1/extension/account?url=" + url.QueryEscape(pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	if pc.AuthToken != "" {
		req.Header.Set(tokenHeader, pc.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("panel account lookup failed", "error", err)
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("panel account lookup non-ok", "status", resp.StatusCode)
		return nil
	}

	var acct Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		slog.Debug("panel account lookup bad body", "error", err)
		return nil
	}
	return &acct
}

// NotifyBillingSuccess posts a fire-and-forget billing-success event.
// Returns false when both url and accountID are empty or the call fails.
func (c *Client) NotifyBillingSuccess(ctx context.Context, pageURL, accountID string) bool {
	if pageURL == "" && accountID == "" {
		return false
	}
	pc := c.cfg.PanelConfig()

	payload := map[string]string{}
	if pageURL != "" {
		payload["url"] = pageURL
	}
	if accountID != "" {
		payload["account_id"] = accountID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.BaseURL+"/api/v1/extension/billing-success", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if pc.AuthToken != "" {
		req.Header.Set(tokenHeader, pc.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("panel billing-success notify failed", "error", err)
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
