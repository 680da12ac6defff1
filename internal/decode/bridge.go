// Package decode turns a callback-driven barcode recognizer into a single
// awaitable result per image.
package decode

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/logger"
	"github.com/tendant/simple-scan-pipeline/internal/metrics"
	"github.com/tendant/simple-scan-pipeline/internal/storage"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// ErrUnreadableImage marks stored images that cannot be decoded into pixels
var ErrUnreadableImage = errors.New("unreadable image")

// Image is the recognizer input: pixels plus the clockwise rotation needed
// to show them upright
type Image struct {
	Pixels   image.Image
	Rotation int
}

// Recognizer reports the result of one image through exactly one of the
// callbacks, possibly on another goroutine. Implementations must be safe
// for concurrent use.
type Recognizer interface {
	Process(img Image, onSuccess func([]pipeline.Barcode), onFailure func(error))
}

// Bridge awaits recognizer callbacks
type Bridge struct {
	recognizer Recognizer
	files      storage.ReaderWithMetadata
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
}

// NewBridge creates a bridge. files may be nil when file decoding is not needed.
func NewBridge(recognizer Recognizer, files storage.ReaderWithMetadata, log *zap.SugaredLogger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		recognizer: recognizer,
		files:      files,
		log:        log,
		metrics:    m,
	}
}

// Decode recognizes a camera frame. The frame stays owned by the caller.
func (b *Bridge) Decode(ctx context.Context, f *camera.Frame) (pipeline.Outcome, error) {
	if f == nil {
		return pipeline.Outcome{}, errors.New("nil frame")
	}
	return b.DecodeImage(ctx, f.Image, f.Rotation)
}

// DecodeImage recognizes an image with rotation metadata. It returns
// ctx.Err() if ctx ends before the recognizer reports; a late report is
// then dropped.
func (b *Bridge) DecodeImage(ctx context.Context, img image.Image, rotation int) (pipeline.Outcome, error) {
	if img == nil {
		return pipeline.Outcome{}, errors.New("nil image")
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Outcome{}, err
	}

	start := time.Now()
	gate := newCompletion(b.log)
	b.recognizer.Process(Image{Pixels: img, Rotation: rotation}, gate.succeed, gate.fail)

	out, err := gate.wait(ctx)
	if err != nil {
		b.log.Debugw("Decode abandoned", logger.FieldError, err)
		return pipeline.Outcome{}, err
	}

	elapsed := time.Since(start)
	b.metrics.DecodeCompleted(out.Kind.String(), elapsed)
	b.log.Debugw("Decode completed",
		logger.FieldOutcome, out.Kind.String(),
		logger.FieldCount, len(out.Barcodes),
		logger.FieldDuration, elapsed.Milliseconds())
	return out, nil
}

// DecodeFile loads a stored still image and recognizes it. EXIF
// orientation is applied while loading. Objects that are not images fail
// with storage.ErrNotImage, undecodable ones with ErrUnreadableImage.
func (b *Bridge) DecodeFile(ctx context.Context, key string) (pipeline.Outcome, error) {
	if b.files == nil {
		return pipeline.Outcome{}, errors.New("no image source configured")
	}

	meta, err := storage.CheckImage(ctx, b.files, key)
	if err != nil {
		return pipeline.Outcome{}, errors.Wrapf(err, "inspect image %s", key)
	}

	rc, err := b.files.GetReader(ctx, key)
	if err != nil {
		return pipeline.Outcome{}, errors.Wrapf(err, "open image %s", key)
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return pipeline.Outcome{}, errors.Mark(errors.Wrapf(err, "read image %s", key), ErrUnreadableImage)
	}

	b.log.Debugw("Decoding stored image",
		logger.FieldKey, key,
		"content_type", meta.ContentType,
		"size", meta.Size)
	return b.DecodeImage(ctx, img, 0)
}

// completion delivers the first recognizer callback and ignores the rest
type completion struct {
	once sync.Once
	ch   chan pipeline.Outcome
	log  *zap.SugaredLogger
}

func newCompletion(log *zap.SugaredLogger) *completion {
	return &completion{
		ch:  make(chan pipeline.Outcome, 1),
		log: log,
	}
}

func (c *completion) succeed(barcodes []pipeline.Barcode) {
	c.complete(pipeline.Decoded(barcodes))
}

func (c *completion) fail(err error) {
	if err == nil {
		err = errors.New("recognizer failed")
	}
	c.complete(pipeline.Failed(err))
}

func (c *completion) complete(out pipeline.Outcome) {
	first := false
	c.once.Do(func() {
		first = true
		c.ch <- out
	})
	if !first {
		c.log.Warnw("Ignoring duplicate recognizer callback", logger.FieldOutcome, out.Kind.String())
	}
}

func (c *completion) wait(ctx context.Context) (pipeline.Outcome, error) {
	select {
	case out := <-c.ch:
		return out, nil
	case <-ctx.Done():
		return pipeline.Outcome{}, ctx.Err()
	}
}
