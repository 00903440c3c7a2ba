package supabase

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

// ErrNotConfigured is returned when no remote URL or key is set; every
// remote-touching operation treats it as a documented no-op.
var ErrNotConfigured = errors.New("supabase: url or anon key not configured")

// APIError is a non-2xx response from the REST interface.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: %d %s", e.StatusCode, e.Message)
}

// Client speaks the PostgREST dialect: resource paths per table,
// query-string filters (?column=eq.value), order/range conventions and an
// apikey/Authorization header pair.
type Client struct {
	httpClient *http.Client

	// credentials provides the current URL and anon key; reading them per
	// request lets the settings store change them at runtime
	credentials func() (url, key string)
}

func NewClient(credentials func() (url, key string)) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: credentials,
	}
}

// Configured reports whether a URL and key are currently available.
func (c *Client) Configured() bool {
	url, key := c.credentials()
	return url != "" && key != ""
}

// RequestOptions carries the optional PostgREST headers.
type RequestOptions struct {
	// Prefer header, e.g. "return=representation" or "return=minimal"
	Prefer string
	// Range header for pagination, e.g. "0-999999"
	Range string
}

// Get fetches rows from endpoint (table plus query string) and decodes the
// JSON array into out.
func (c *Client) Get(ctx context.Context, endpoint string, opts *RequestOptions, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, opts)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Post inserts payload into endpoint. With Prefer: return=representation the
// created rows are decoded into out.
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}, opts *RequestOptions, out interface{}) error {
	body, err := c.do(ctx, http.MethodPost, endpoint, payload, opts)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Patch updates the rows matched by the endpoint's filter.
func (c *Client) Patch(ctx context.Context, endpoint string, payload interface{}, opts *RequestOptions) error {
	_, err := c.do(ctx, http.MethodPatch, endpoint, payload, opts)
	return err
}

// Delete removes the rows matched by the endpoint's filter.
func (c *Client) Delete(ctx context.Context, endpoint string, opts *RequestOptions) error {
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, opts)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}, opts *RequestOptions) ([]byte, error) {
	baseURL, key := c.credentials()
	if baseURL == "" || key == "" {
		return nil, ErrNotConfigured
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	fullURL := strings.TrimSuffix(baseURL, "/") + "/rest/v1/" + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if opts != nil {
		if opts.Prefer != "" {
			req.Header.Set("Prefer", opts.Prefer)
		}
		if opts.Range != "" {
			req.Header.Set("Range", opts.Range)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		var remote struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &remote) == nil && remote.Message != "" {
			apiErr.Message = remote.Message
		} else {
			apiErr.Message = resp.Status
		}
		return nil, apiErr
	}

	// 204 No Content has no body
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	return body, nil
}
