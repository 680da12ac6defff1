package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// HTTPSource provides read access to images served over HTTP at
// {baseURL}/{key}
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a new HTTP-based image source
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) url(key string) (string, error) {
	if key == "" {
		return "", errors.Wrap(ErrInvalidKey, "empty key")
	}
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		if p == ".." {
			return "", errors.Wrapf(ErrInvalidKey, "path traversal in %q", key)
		}
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/"), nil
}

// GetReader downloads the image at key
func (s *HTTPSource) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	u, err := s.url(key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.Wrapf(ErrNotFound, "image %s", key)
	default:
		resp.Body.Close()
		return nil, errors.Newf("download failed with status %d", resp.StatusCode)
	}
}

// GetMetadata reads size, type and ETag from a HEAD response
func (s *HTTPSource) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	resp, err := s.head(ctx, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "image %s", key)
	default:
		return nil, errors.Newf("unexpected status code: %d", resp.StatusCode)
	}

	meta := &Metadata{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Size:        resp.ContentLength,
	}
	return meta, nil
}

func (s *HTTPSource) head(ctx context.Context, key string) (*http.Response, error) {
	u, err := s.url(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check image")
	}
	return resp, nil
}
