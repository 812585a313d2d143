// Package companion talks to the local companion service that imports
// captured sessions. The import call is best-effort; callers map outcomes to
// log entries and never fail on it.
package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Outcome classifies one import attempt.
type Outcome int

const (
	// OK means the session was imported.
	OK Outcome = iota
	// Duplicate means the companion already holds an account with this email.
	Duplicate
	// Failed means the companion rejected the import for another reason;
	// Result.Message carries the server-provided text or a generic fallback.
	Failed
	// Unreachable means the companion endpoint could not be contacted.
	Unreachable
)

const duplicateEmailCode = "DUPLICATE_EMAIL"

// Result is the mapped outcome of an import call.
type Result struct {
	Outcome Outcome
	Message string
}

// Client posts sessions to the companion import endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a companion client for the given endpoint, e.g.
// "http://127.0.0.1:8766". A nil httpClient uses a 10s-timeout default.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

// ImportSession posts the session value and maps the response. It never
// returns an error; every failure mode is an Outcome.
func (c *Client) ImportSession(ctx context.Context, session string) Result {
	body, err := json.Marshal(map[string]string{"session": session})
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/import/session", bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: Unreachable, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// The failure body is optional and may be malformed; decode best-effort.
	var payload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Outcome: OK}
	}

	if resp.StatusCode == http.StatusConflict && payload.Code == duplicateEmailCode {
		return Result{Outcome: Duplicate}
	}

	msg := payload.Error
	if msg == "" {
		msg = payload.Message
	}
	if msg == "" {
		msg = "unknown error"
	}
	return Result{Outcome: Failed, Message: msg}
}
