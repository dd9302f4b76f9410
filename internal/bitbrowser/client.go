// Package bitbrowser is a client for the local browser-profile automation
// API. Only the profile listing is implemented.
package bitbrowser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the address the automation app listens on.
const DefaultBaseURL = "http://127.0.0.1:54345"

// ErrAPI is returned when the API answers with success=false or a non-2xx
// status.
var ErrAPI = errors.New("bitbrowser api error")

// Profile is one browser profile. Remark is free text written by operators.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Remark string `json:"remark"`
}

type listRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type listResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    *struct {
		List json.RawMessage `json:"list"`
	} `json:"data"`
}

// Client talks to the automation API over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL. A non-positive timeout defaults to
// 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ListProfiles returns one page of profiles. Page numbers start at 0. A
// missing, null or non-list "list" field yields an empty page.
func (c *Client) ListProfiles(ctx context.Context, page, pageSize int) ([]Profile, error) {
	var out listResponse
	if err := c.postJSON(ctx, "/browser/list", listRequest{Page: page, PageSize: pageSize}, &out); err != nil {
		return nil, fmt.Errorf("list profiles page %d: %w", page, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("list profiles page %d: %w: %s", page, ErrAPI, out.Msg)
	}
	if out.Data == nil {
		return nil, nil
	}

	raw := bytes.TrimSpace(out.Data.List)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("list profiles page %d: decode list: %w", page, err)
	}
	return profiles, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: http %d: %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
