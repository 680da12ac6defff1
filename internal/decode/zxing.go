package decode

import (
	"image"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// ErrRecognizerClosed is reported for images submitted after Close
var ErrRecognizerClosed = errors.New("recognizer closed")

type symbologyReader func(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)

// Readers are built per call; gozxing readers keep per-decode state and
// are not shared between goroutines.
var symbologyReaders = map[pipeline.Symbology]symbologyReader{
	pipeline.SymbologyQRCode:     readQRCodes,
	pipeline.SymbologyAztec:      single(func() gozxing.Reader { return aztec.NewAztecReader() }),
	pipeline.SymbologyDataMatrix: single(func() gozxing.Reader { return datamatrix.NewDataMatrixReader() }),
	pipeline.SymbologyCodabar:    single(oned.NewCodaBarReader),
	pipeline.SymbologyCode39:     single(func() gozxing.Reader { return oned.NewCode39Reader() }),
	pipeline.SymbologyCode93:     single(oned.NewCode93Reader),
	pipeline.SymbologyCode128:    single(func() gozxing.Reader { return oned.NewCode128Reader() }),
	pipeline.SymbologyEAN13:      single(func() gozxing.Reader { return oned.NewEAN13Reader() }),
	pipeline.SymbologyEAN8:       single(func() gozxing.Reader { return oned.NewEAN8Reader() }),
	pipeline.SymbologyUPCA:       single(func() gozxing.Reader { return oned.NewUPCAReader() }),
	pipeline.SymbologyUPCE:       single(func() gozxing.Reader { return oned.NewUPCEReader() }),
	pipeline.SymbologyITF:        single(func() gozxing.Reader { return oned.NewITFReader() }),
}

func single(newReader func() gozxing.Reader) symbologyReader {
	return func(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
		result, err := newReader().Decode(bmp, hints)
		if err != nil {
			return nil, err
		}
		return []*gozxing.Result{result}, nil
	}
}

// readQRCodes returns every QR code in the image. The single reader is
// the fallback for codes the multi detector misses.
func readQRCodes(bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, hints)
	if err == nil && len(results) > 0 {
		return results, nil
	}
	return single(func() gozxing.Reader { return qrcode.NewQRCodeReader() })(bmp, hints)
}

var formatSymbologies = map[gozxing.BarcodeFormat]pipeline.Symbology{
	gozxing.BarcodeFormat_AZTEC:       pipeline.SymbologyAztec,
	gozxing.BarcodeFormat_CODABAR:     pipeline.SymbologyCodabar,
	gozxing.BarcodeFormat_CODE_39:     pipeline.SymbologyCode39,
	gozxing.BarcodeFormat_CODE_93:     pipeline.SymbologyCode93,
	gozxing.BarcodeFormat_CODE_128:    pipeline.SymbologyCode128,
	gozxing.BarcodeFormat_DATA_MATRIX: pipeline.SymbologyDataMatrix,
	gozxing.BarcodeFormat_EAN_8:       pipeline.SymbologyEAN8,
	gozxing.BarcodeFormat_EAN_13:      pipeline.SymbologyEAN13,
	gozxing.BarcodeFormat_ITF:         pipeline.SymbologyITF,
	gozxing.BarcodeFormat_PDF_417:     pipeline.SymbologyPDF417,
	gozxing.BarcodeFormat_QR_CODE:     pipeline.SymbologyQRCode,
	gozxing.BarcodeFormat_UPC_A:       pipeline.SymbologyUPCA,
	gozxing.BarcodeFormat_UPC_E:       pipeline.SymbologyUPCE,
}

// SupportedFormats lists the symbologies the zxing recognizer can read
func SupportedFormats() pipeline.FormatSet {
	set := make(pipeline.FormatSet, len(symbologyReaders))
	for s := range symbologyReaders {
		set[s] = struct{}{}
	}
	return set
}

// ZXingOptions configures a ZXingRecognizer
type ZXingOptions struct {
	Formats   pipeline.FormatSet // nil means every supported format
	TryHarder bool
	Workers   int
}

// ZXingRecognizer runs gozxing readers on a fixed pool of goroutines
type ZXingRecognizer struct {
	symbologies []pipeline.Symbology
	tryHarder   bool
	log         *zap.SugaredLogger

	jobs      chan job
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type job struct {
	img       Image
	onSuccess func([]pipeline.Barcode)
	onFailure func(error)
}

// NewZXingRecognizer starts the worker pool. Close stops it.
func NewZXingRecognizer(opts ZXingOptions, log *zap.SugaredLogger) *ZXingRecognizer {
	formats := opts.Formats
	if formats == nil {
		formats = pipeline.AllFormats()
	}

	var symbologies []pipeline.Symbology
	for _, s := range formats.Symbologies() {
		if _, ok := symbologyReaders[s]; ok {
			symbologies = append(symbologies, s)
		} else {
			log.Infow("No reader for symbology, skipping", "symbology", s.String())
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	r := &ZXingRecognizer{
		symbologies: symbologies,
		tryHarder:   opts.TryHarder,
		log:         log,
		jobs:        make(chan job),
		closed:      make(chan struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// Process implements Recognizer. It never blocks the caller.
func (r *ZXingRecognizer) Process(img Image, onSuccess func([]pipeline.Barcode), onFailure func(error)) {
	j := job{img: img, onSuccess: onSuccess, onFailure: onFailure}

	// jobs is unbuffered, so a job is either taken by a live worker or
	// rejected once closed
	go func() {
		select {
		case r.jobs <- j:
		case <-r.closed:
			onFailure(ErrRecognizerClosed)
		}
	}()
}

// Close stops the workers after their current image
func (r *ZXingRecognizer) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
	r.wg.Wait()
}

func (r *ZXingRecognizer) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.closed:
			return
		case j := <-r.jobs:
			r.run(j)
		}
	}
}

func (r *ZXingRecognizer) run(j job) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("Recognizer panic", "panic", p)
			j.onFailure(errors.Newf("recognizer panic: %v", p))
		}
	}()

	barcodes, err := r.Recognize(j.img)
	if err != nil {
		j.onFailure(err)
		return
	}
	j.onSuccess(barcodes)
}

// Recognize decodes synchronously on the calling goroutine
func (r *ZXingRecognizer) Recognize(img Image) ([]pipeline.Barcode, error) {
	if img.Pixels == nil {
		return nil, errors.New("nil image")
	}

	upright := Upright(img.Pixels, img.Rotation)
	bmp, err := gozxing.NewBinaryBitmapFromImage(upright)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build binary bitmap")
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if r.tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	var barcodes []pipeline.Barcode
	seen := make(map[pipeline.Barcode]bool)
	for _, s := range r.symbologies {
		results, err := symbologyReaders[s](bmp, hints)
		if err != nil {
			// NotFound, checksum and format errors all mean no hit
			continue
		}
		for _, result := range results {
			b := toBarcode(result)
			key := pipeline.Barcode{Value: b.Value, Symbology: b.Symbology}
			if seen[key] {
				continue
			}
			seen[key] = true
			barcodes = append(barcodes, b)
		}
	}
	return barcodes, nil
}

func toBarcode(result *gozxing.Result) pipeline.Barcode {
	sym, ok := formatSymbologies[result.GetBarcodeFormat()]
	if !ok {
		sym = pipeline.SymbologyUnknown
	}
	return pipeline.Barcode{
		Value:     result.GetText(),
		Symbology: sym,
		Bounds:    boundsOf(result.GetResultPoints()),
	}
}

func boundsOf(points []gozxing.ResultPoint) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	n := 0
	for _, p := range points {
		if p == nil {
			continue
		}
		n++
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	if n == 0 {
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}
