// Package client is an HTTP client for the scan worker API
package client

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

	"github.com/cockroachdb/errors"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a 409 from the worker, returned when
// the session is in the wrong state for the request
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is a 404 from the worker
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to a scan worker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new scan client
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewWithHTTPClient creates a new scan client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Start begins a scan session on the worker
func (c *Client) Start(ctx context.Context) (*pipeline.ScanStatus, error) {
	var st pipeline.ScanStatus
	if err := c.do(ctx, http.MethodPost, "/v1/scan/start", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop abandons the session in progress
func (c *Client) Stop(ctx context.Context) (*pipeline.ScanStatus, error) {
	var st pipeline.ScanStatus
	if err := c.do(ctx, http.MethodPost, "/v1/scan/stop", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Reset returns a finished session to Idle
func (c *Client) Reset(ctx context.Context) (*pipeline.ScanStatus, error) {
	var st pipeline.ScanStatus
	if err := c.do(ctx, http.MethodPost, "/v1/scan/reset", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// State fetches the current session state
func (c *Client) State(ctx context.Context) (*pipeline.ScanStatus, error) {
	var st pipeline.ScanStatus
	if err := c.do(ctx, http.MethodGet, "/v1/scan/state", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitForResult polls the state until the session succeeds or fails
func (c *Client) WaitForResult(ctx context.Context, interval time.Duration) (*pipeline.ScanStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.State(ctx)
		if err != nil {
			return nil, err
		}
		switch st.State {
		case pipeline.StateSucceeded, pipeline.StateFatal:
			return st, nil
		case pipeline.StateIdle:
			return st, errors.New("no scan session in progress")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Decode asks the worker to recognize a stored still image
func (c *Client) Decode(ctx context.Context, key string) (*pipeline.OutcomeView, error) {
	var out pipeline.OutcomeView
	if err := c.do(ctx, http.MethodPost, "/v1/decode", pipeline.DecodeRequest{Key: key}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capture decodes one still from the worker's bound camera
func (c *Client) Capture(ctx context.Context) (*pipeline.OutcomeView, error) {
	var out pipeline.OutcomeView
	if err := c.do(ctx, http.MethodPost, "/v1/scan/capture", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview fetches the latest preview frame as JPEG bytes. A width of 0
// uses the worker default.
func (c *Client) Preview(ctx context.Context, width int) ([]byte, error) {
	path := "/v1/scan/preview"
	if width > 0 {
		path += "?" + url.Values{"width": {fmt.Sprint(width)}}.Encode()
	}

	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read preview")
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// send executes the request and returns the response for any 2xx status
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	return resp, nil
}
