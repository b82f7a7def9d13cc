// Package tokensafety implements the token-safety port against an HTTP
// safety API.
package tokensafety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client checks token safety over HTTP. Verdicts are cached; tokens do
// not become unsafe retroactively fast enough to matter at trade time.
type Client struct {
	apiURL string
	http   *http.Client
}

// NewClient creates a token safety client
func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		http:   &http.Client{Timeout: timeout},
	}
}

// Check returns the safety verdict and reject reason for a token
func (c *Client) Check(ctx context.Context, token string) (bool, string, error) {
	reqURL := c.apiURL + "/check?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("safety api status %d", resp.StatusCode)
	}

	var sr struct {
		Safe   bool   `json:"safe"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &sr); err != nil {
		return false, "", fmt.Errorf("decode safety response: %w", err)
	}
	return sr.Safe, sr.Reason, nil
}
