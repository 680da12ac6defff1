package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// FilesystemSource implements Reader over a local directory
type FilesystemSource struct {
	baseDir string
}

// NewFilesystemSource creates a source rooted at baseDir
func NewFilesystemSource(baseDir string) (*FilesystemSource, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create base directory")
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve base directory")
	}
	return &FilesystemSource{baseDir: abs}, nil
}

// resolve maps a key to a path inside baseDir
func (fs *FilesystemSource) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.Wrap(ErrInvalidKey, "empty key")
	}
	path := filepath.Join(fs.baseDir, filepath.FromSlash(key))

	// Security: prevent directory traversal
	rel, err := filepath.Rel(fs.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrInvalidKey, "path traversal in %q", key)
	}
	return path, nil
}

// GetReader returns a reader for the file at the given key
func (fs *FilesystemSource) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "file %s", key)
		}
		return nil, errors.Wrap(err, "failed to open file")
	}
	return file, nil
}

// GetMetadata returns size and sniffed content type of the file
func (fs *FilesystemSource) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "file %s", key)
		}
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}
	if info.IsDir() {
		return nil, errors.Wrapf(ErrNotFound, "%s is a directory", key)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to read file header")
	}

	return &Metadata{
		Size:        info.Size(),
		ContentType: http.DetectContentType(head[:n]),
	}, nil
}
