package decode

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/storage"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// funcRecognizer adapts a function to Recognizer
type funcRecognizer func(img Image, onSuccess func([]pipeline.Barcode), onFailure func(error))

func (f funcRecognizer) Process(img Image, onSuccess func([]pipeline.Barcode), onFailure func(error)) {
	f(img, onSuccess, onFailure)
}

func newTestBridge(r Recognizer) *Bridge {
	return NewBridge(r, nil, zap.NewNop().Sugar(), nil)
}

func testFrame() *camera.Frame {
	return camera.NewFrame(image.NewGray(image.Rect(0, 0, 8, 8)), 90, 1, nil)
}

func TestDecode_EmptyResult(t *testing.T) {
	b := newTestBridge(funcRecognizer(func(_ Image, ok func([]pipeline.Barcode), _ func(error)) {
		ok(nil)
	}))

	out, err := b.Decode(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeEmpty, out.Kind)
	assert.Empty(t, out.Barcodes)
}

func TestDecode_ResultsInOrder(t *testing.T) {
	want := []pipeline.Barcode{
		{Value: "4006381333931", Symbology: pipeline.SymbologyEAN13},
		{Value: "ABC123", Symbology: pipeline.SymbologyQRCode},
	}
	var gotRotation int
	b := newTestBridge(funcRecognizer(func(img Image, ok func([]pipeline.Barcode), _ func(error)) {
		gotRotation = img.Rotation
		go ok(want)
	}))

	out, err := b.Decode(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeDecoded, out.Kind)
	assert.Equal(t, want, out.Barcodes)
	assert.Equal(t, 90, gotRotation)
}

func TestDecode_Failure(t *testing.T) {
	cause := errors.New("network timeout")
	b := newTestBridge(funcRecognizer(func(_ Image, _ func([]pipeline.Barcode), fail func(error)) {
		fail(cause)
	}))

	out, err := b.Decode(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeFailed, out.Kind)
	assert.Equal(t, "network timeout", out.Err.Error())
}

func TestDecode_FirstCallbackWins(t *testing.T) {
	b := newTestBridge(funcRecognizer(func(_ Image, ok func([]pipeline.Barcode), fail func(error)) {
		ok([]pipeline.Barcode{{Value: "first", Symbology: pipeline.SymbologyCode128}})
		fail(errors.New("late failure"))
		ok([]pipeline.Barcode{{Value: "second", Symbology: pipeline.SymbologyCode128}})
	}))

	out, err := b.Decode(context.Background(), testFrame())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDecoded, out.Kind)
	assert.Equal(t, "first", out.Barcodes[0].Value)
}

func TestDecode_CancelledBeforeCallback(t *testing.T) {
	callbacks := make(chan func([]pipeline.Barcode), 1)
	b := newTestBridge(funcRecognizer(func(_ Image, ok func([]pipeline.Barcode), _ func(error)) {
		callbacks <- ok
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Decode(ctx, testFrame())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A late result goes nowhere and does not block the recognizer
	late := <-callbacks
	done := make(chan struct{})
	go func() {
		late([]pipeline.Barcode{{Value: "late"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late callback blocked")
	}
}

func TestDecode_AlreadyCancelled(t *testing.T) {
	called := false
	b := newTestBridge(funcRecognizer(func(_ Image, ok func([]pipeline.Barcode), _ func(error)) {
		called = true
		ok(nil)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Decode(ctx, testFrame())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDecode_DoesNotReleaseFrame(t *testing.T) {
	released := false
	f := camera.NewFrame(image.NewGray(image.Rect(0, 0, 4, 4)), 0, 1, func() { released = true })
	b := newTestBridge(funcRecognizer(func(_ Image, ok func([]pipeline.Barcode), _ func(error)) {
		ok(nil)
	}))

	_, err := b.Decode(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestDecode_NilFailureCause(t *testing.T) {
	b := newTestBridge(funcRecognizer(func(_ Image, _ func([]pipeline.Barcode), fail func(error)) {
		fail(nil)
	}))

	out, err := b.Decode(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeFailed, out.Kind)
	assert.Error(t, out.Err)
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(qrImage(t, "FILE-42"), filepath.Join(dir, "still.png")))
	require.NoError(t, imaging.Save(imaging.New(50, 50, color.White), filepath.Join(dir, "blank.png")))

	files, err := storage.NewFilesystemSource(dir)
	require.NoError(t, err)

	rec := NewZXingRecognizer(ZXingOptions{Workers: 1, TryHarder: true}, zap.NewNop().Sugar())
	defer rec.Close()
	b := NewBridge(rec, files, zap.NewNop().Sugar(), nil)

	out, err := b.DecodeFile(context.Background(), "still.png")
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDecoded, out.Kind)
	qr, ok := pipeline.NewFormatSet(pipeline.SymbologyQRCode).First(out.Barcodes)
	require.True(t, ok)
	assert.Equal(t, "FILE-42", qr.Value)

	out, err = b.DecodeFile(context.Background(), "blank.png")
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeEmpty, out.Kind)

	_, err = b.DecodeFile(context.Background(), "missing.png")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a picture\n"), 0o644))
	_, err = b.DecodeFile(context.Background(), "readme.txt")
	assert.True(t, errors.Is(err, storage.ErrNotImage))

	// PNG signature followed by garbage sniffs as an image but cannot be read
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), []byte("truncated")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.png"), corrupt, 0o644))
	_, err = b.DecodeFile(context.Background(), "corrupt.png")
	assert.True(t, errors.Is(err, ErrUnreadableImage))
	assert.False(t, errors.Is(err, storage.ErrNotImage))

	_, err = newTestBridge(rec).DecodeFile(context.Background(), "still.png")
	assert.Error(t, err)
}
