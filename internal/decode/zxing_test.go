package decode

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

func qrImage(t *testing.T, content string) image.Image {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	require.NoError(t, err)
	// Copy onto a plain RGBA so the image type matches what cameras produce
	return imaging.Clone(matrix)
}

// padded places the code on a white canvas with a quiet zone around it
func padded(img image.Image) image.Image {
	b := img.Bounds()
	canvas := imaging.New(b.Dx()+80, b.Dy()+80, color.White)
	return imaging.Paste(canvas, img, image.Pt(40, 40))
}

func TestZXing_RecognizesEncodedSymbologies(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{TryHarder: true}, zap.NewNop().Sugar())
	defer rec.Close()

	tests := []struct {
		name      string
		writer    gozxing.Writer
		format    gozxing.BarcodeFormat
		content   string
		width     int
		height    int
		symbology pipeline.Symbology
		want      string
	}{
		{"data matrix", datamatrix.NewDataMatrixWriter(), gozxing.BarcodeFormat_DATA_MATRIX, "ABC123", 200, 200, pipeline.SymbologyDataMatrix, "ABC123"},
		{"codabar", oned.NewCodaBarWriter(), gozxing.BarcodeFormat_CODABAR, "A123456B", 300, 80, pipeline.SymbologyCodabar, "123456"},
		{"code 93", oned.NewCode93Writer(), gozxing.BarcodeFormat_CODE_93, "CODE93", 300, 80, pipeline.SymbologyCode93, "CODE93"},
		{"code 128", oned.NewCode128Writer(), gozxing.BarcodeFormat_CODE_128, "SHELF-7", 300, 80, pipeline.SymbologyCode128, "SHELF-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matrix, err := tt.writer.Encode(tt.content, tt.format, tt.width, tt.height, nil)
			require.NoError(t, err)

			barcodes, err := rec.Recognize(Image{Pixels: padded(imaging.Clone(matrix))})
			require.NoError(t, err)
			b, ok := pipeline.NewFormatSet(tt.symbology).First(barcodes)
			require.True(t, ok, "got %v", barcodes)
			assert.Equal(t, tt.want, b.Value)
		})
	}
}

func TestZXing_MultipleQRCodes(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{Formats: pipeline.NewFormatSet(pipeline.SymbologyQRCode)}, zap.NewNop().Sugar())
	defer rec.Close()

	canvas := imaging.New(480, 260, color.White)
	canvas = imaging.Paste(canvas, qrImage(t, "LEFT"), image.Pt(20, 30))
	canvas = imaging.Paste(canvas, qrImage(t, "RIGHT"), image.Pt(260, 30))

	barcodes, err := rec.Recognize(Image{Pixels: canvas})
	require.NoError(t, err)
	var values []string
	for _, b := range barcodes {
		values = append(values, b.Value)
	}
	assert.ElementsMatch(t, []string{"LEFT", "RIGHT"}, values)
}

func TestZXing_RecognizesQRCode(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{Workers: 2, TryHarder: true}, zap.NewNop().Sugar())
	defer rec.Close()

	barcodes, err := rec.Recognize(Image{Pixels: qrImage(t, "ABC123")})
	require.NoError(t, err)
	qr, ok := pipeline.NewFormatSet(pipeline.SymbologyQRCode).First(barcodes)
	require.True(t, ok)
	assert.Equal(t, "ABC123", qr.Value)
	assert.Equal(t, "QR Code", qr.Symbology.DisplayName())
	assert.False(t, qr.Bounds.Empty())
}

func TestZXing_ThroughBridge(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{Workers: 1}, zap.NewNop().Sugar())
	defer rec.Close()
	b := newTestBridge(rec)

	// Rotation metadata is applied before recognition
	rotated := imaging.Rotate90(qrImage(t, "ROTATED"))
	out, err := b.DecodeImage(context.Background(), rotated, 90)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeDecoded, out.Kind)
	qr, ok := pipeline.NewFormatSet(pipeline.SymbologyQRCode).First(out.Barcodes)
	require.True(t, ok)
	assert.Equal(t, "ROTATED", qr.Value)

	out, err = b.DecodeImage(context.Background(), imaging.New(64, 64, color.White), 0)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeEmpty, out.Kind)
}

func TestZXing_FormatRestriction(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{Formats: pipeline.ProductFormats()}, zap.NewNop().Sugar())
	defer rec.Close()

	barcodes, err := rec.Recognize(Image{Pixels: qrImage(t, "ABC123")})
	require.NoError(t, err)
	assert.Empty(t, barcodes)
}

func TestZXing_Closed(t *testing.T) {
	rec := NewZXingRecognizer(ZXingOptions{}, zap.NewNop().Sugar())
	rec.Close()
	rec.Close()

	failed := make(chan error, 1)
	rec.Process(Image{Pixels: qrImage(t, "x")}, func([]pipeline.Barcode) {
		t.Error("closed recognizer reported success")
	}, func(err error) { failed <- err })

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, ErrRecognizerClosed)
	case <-time.After(time.Second):
		t.Fatal("closed recognizer did not report")
	}
}

func TestSupportedFormats(t *testing.T) {
	set := SupportedFormats()
	assert.True(t, set.Contains(pipeline.SymbologyQRCode))
	assert.True(t, set.Contains(pipeline.SymbologyEAN13))
	assert.False(t, set.Contains(pipeline.SymbologyUnknown))
	assert.False(t, set.Contains(pipeline.SymbologyPDF417))

	// Every preset member must have a reader or a session could never succeed
	presets := []pipeline.FormatSet{
		pipeline.AllFormats(), pipeline.ProductFormats(),
		pipeline.OneDimensionalFormats(), pipeline.TwoDimensionalFormats(),
	}
	for _, preset := range presets {
		for _, s := range preset.Symbologies() {
			assert.True(t, set.Contains(s), s.String())
		}
	}
}

func TestUpright(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(1, 0, color.NRGBA{R: 255, A: 255})

	// 90 clockwise: (x, y) -> (h-1-y, x)
	up := Upright(src, 90)
	assert.Equal(t, image.Rect(0, 0, 1, 2), up.Bounds())
	r, _, _, _ := up.At(0, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	up = Upright(src, -270)
	assert.Equal(t, image.Rect(0, 0, 1, 2), up.Bounds())

	up = Upright(src, 180)
	r, _, _, _ = up.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	assert.Same(t, src, Upright(src, 360))

	up = Upright(imaging.New(10, 10, color.Black), 45)
	assert.Greater(t, up.Bounds().Dx(), 10)
}
