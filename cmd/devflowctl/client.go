package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// apiClient is a thin JSON client for the devflow HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() (*apiClient, error) {
	base := strings.TrimRight(viper.GetString("server.url"), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, usagef("invalid server URL %q", base)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, usagef("server URL must be http or https, got %q", u.Scheme)
	}
	timeout := viper.GetDuration("request.timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// wsURL returns the WebSocket endpoint derived from the base URL.
func (c *apiClient) wsURL() string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(c.base, "http://") + "/ws"
	}
}

// apiError carries a non-2xx response. The server wraps every error body
// as {"error": "..."}.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wire struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return &apiError{Status: resp.StatusCode, Message: wire.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// getStatus fetches path and decodes the body into out regardless of the
// HTTP status. The health endpoint serves its full body on 503, so the
// caller can show which subsystem failed instead of a bare status line.
func (c *apiClient) getStatus(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cannot reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) del(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// printJSON renders v as indented JSON for --output json.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
