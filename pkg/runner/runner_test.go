package runner

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/config"
	"github.com/tendant/simple-scan-pipeline/internal/permission"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

func writeQR(t *testing.T, path, content string) {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	require.NoError(t, err)
	require.NoError(t, imaging.Save(imaging.Clone(matrix), path))
}

func testConfig(t *testing.T, overrides map[string]interface{}) *config.Config {
	t.Helper()
	v := config.New()
	v.Set("camera.source_dir", t.TempDir())
	v.Set("camera.frame_interval_ms", 10)
	v.Set("storage.base_dir", t.TempDir())
	v.Set("decode.workers", 1)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, opts Options) *Runner {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	r, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Shutdown(time.Second) })
	return r
}

func TestRunner_ScansFromDirectory(t *testing.T) {
	cfg := testConfig(t, nil)
	require.NoError(t, imaging.Save(imaging.New(80, 80, color.White), filepath.Join(cfg.Camera.SourceDir, "a-blank.png")))
	writeQR(t, filepath.Join(cfg.Camera.SourceDir, "b-code.png"), "SHELF-0042")

	r := newRunner(t, cfg, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, r.Start(ctx))
	st, err := r.Await(ctx)
	require.NoError(t, err)

	done, ok := st.(pipeline.Succeeded)
	require.True(t, ok, "got %s", st.Kind())
	assert.Equal(t, "SHELF-0042", done.Barcode.Value)
	assert.Equal(t, pipeline.SymbologyQRCode, done.Barcode.Symbology)
	assert.NotEmpty(t, r.SessionID())

	_, bound := r.Preview()
	assert.False(t, bound)
	require.NoError(t, r.Reset())
	assert.Equal(t, pipeline.StateIdle, r.State().Kind())
}

func TestRunner_PermissionDenied(t *testing.T) {
	cfg := testConfig(t, nil)
	r := newRunner(t, cfg, Options{Platform: permission.NewStaticPlatform(nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))
	st, err := r.Await(ctx)
	require.NoError(t, err)

	fatal, ok := st.(pipeline.Fatal)
	require.True(t, ok, "got %s", st.Kind())
	assert.True(t, pipeline.IsPermanentlyDenied(fatal.Cause))

	reqs := r.Permissions()
	require.Len(t, reqs, 1)
	assert.Equal(t, permission.StatusDeniedPermanent, reqs[0].Status)
}

func TestRunner_DecodeStill(t *testing.T) {
	// The allowlist rejects QR, so the session keeps scanning
	cfg := testConfig(t, map[string]interface{}{"scanner.formats": []string{"product"}})
	writeQR(t, filepath.Join(cfg.Camera.SourceDir, "code.png"), "STILL")

	r := newRunner(t, cfg, Options{})

	_, err := r.DecodeStill(context.Background())
	assert.True(t, errors.Is(err, camera.ErrNotBound))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	var out pipeline.Outcome
	require.Eventually(t, func() bool {
		out, err = r.DecodeStill(ctx)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	qr, ok := pipeline.NewFormatSet(pipeline.SymbologyQRCode).First(out.Barcodes)
	require.True(t, ok)
	assert.Equal(t, "STILL", qr.Value)
	assert.Equal(t, pipeline.StateScanning, r.State().Kind())

	r.Stop()
	assert.Equal(t, pipeline.StateIdle, r.State().Kind())
}

func TestRunner_DecodeFile(t *testing.T) {
	cfg := testConfig(t, nil)
	writeQR(t, filepath.Join(cfg.Storage.BaseDir, "label.png"), "FILE-1")
	r := newRunner(t, cfg, Options{})

	out, err := r.DecodeFile(context.Background(), "label.png")
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDecoded, out.Kind)

	_, err = r.DecodeFile(context.Background(), "../outside.png")
	assert.Error(t, err)
}

func TestRunner_AwaitStopped(t *testing.T) {
	cfg := testConfig(t, nil)
	r := newRunner(t, cfg, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	go func() {
		assert.Eventually(t, func() bool {
			return r.State().Kind() == pipeline.StateScanning
		}, 2*time.Second, 5*time.Millisecond)
		r.Stop()
	}()

	_, err := r.Await(ctx)
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	cfg := testConfig(t, nil)
	cfg.Decode.Workers = 0
	_, err = New(cfg, Options{})
	assert.Error(t, err)
}
