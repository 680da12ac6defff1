// Package storage resolves file references to still images for decoding.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when nothing is stored under a key
	ErrNotFound = errors.New("image not found")

	// ErrInvalidKey is returned for keys that escape the source root
	ErrInvalidKey = errors.New("invalid image key")

	// ErrNotImage is returned when the stored object is not an image
	ErrNotImage = errors.New("not an image")
)

// Reader provides read access to stored images
type Reader interface {
	// GetReader returns a reader for the image at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// ReaderWithMetadata provides read access with metadata
type ReaderWithMetadata interface {
	Reader

	// GetMetadata returns metadata for the image at the given key
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// New picks the HTTP source when baseURL is set, the filesystem otherwise
func New(baseDir, baseURL string) (ReaderWithMetadata, error) {
	if baseURL != "" {
		return NewHTTPSource(baseURL), nil
	}
	return NewFilesystemSource(baseDir)
}

// IsImageType reports whether a MIME type names an image
func IsImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// CheckImage fetches metadata for key and rejects objects whose content
// type is known and not an image
func CheckImage(ctx context.Context, r ReaderWithMetadata, key string) (*Metadata, error) {
	meta, err := r.GetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta.ContentType != "" && !IsImageType(meta.ContentType) {
		return nil, errors.Wrapf(ErrNotImage, "%s has type %s", key, meta.ContentType)
	}
	return meta, nil
}
