package pipeline

import (
	"image"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Symbology is the barcode encoding format
type Symbology int

// Symbology constants
const (
	SymbologyUnknown Symbology = iota
	SymbologyQRCode
	SymbologyAztec
	SymbologyCodabar
	SymbologyCode39
	SymbologyCode93
	SymbologyCode128
	SymbologyDataMatrix
	SymbologyEAN13
	SymbologyEAN8
	SymbologyITF
	SymbologyPDF417
	SymbologyUPCA
	SymbologyUPCE
)

var symbologyNames = map[Symbology]string{
	SymbologyUnknown:    "UNKNOWN",
	SymbologyQRCode:     "QR_CODE",
	SymbologyAztec:      "AZTEC",
	SymbologyCodabar:    "CODABAR",
	SymbologyCode39:     "CODE_39",
	SymbologyCode93:     "CODE_93",
	SymbologyCode128:    "CODE_128",
	SymbologyDataMatrix: "DATA_MATRIX",
	SymbologyEAN13:      "EAN_13",
	SymbologyEAN8:       "EAN_8",
	SymbologyITF:        "ITF",
	SymbologyPDF417:     "PDF_417",
	SymbologyUPCA:       "UPC_A",
	SymbologyUPCE:       "UPC_E",
}

var symbologyDisplayNames = map[Symbology]string{
	SymbologyQRCode:     "QR Code",
	SymbologyAztec:      "Aztec",
	SymbologyCodabar:    "Codabar",
	SymbologyCode39:     "Code 39",
	SymbologyCode93:     "Code 93",
	SymbologyCode128:    "Code 128",
	SymbologyDataMatrix: "Data Matrix",
	SymbologyEAN13:      "EAN 13",
	SymbologyEAN8:       "EAN 8",
	SymbologyITF:        "ITF",
	SymbologyPDF417:     "PDF 417",
	SymbologyUPCA:       "UPC A",
	SymbologyUPCE:       "UPC E",
}

// String returns the canonical upper-case name, e.g. "QR_CODE"
func (s Symbology) String() string {
	if name, ok := symbologyNames[s]; ok {
		return name
	}
	return symbologyNames[SymbologyUnknown]
}

// DisplayName returns the human-readable name shown to users, e.g. "QR Code"
func (s Symbology) DisplayName() string {
	if name, ok := symbologyDisplayNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s Symbology) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Symbology) UnmarshalText(text []byte) error {
	parsed, err := ParseSymbology(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSymbology parses a symbology name. Matching ignores case, dashes,
// underscores and spaces so "ean-13", "EAN_13" and "EAN 13" are equivalent.
func ParseSymbology(name string) (Symbology, error) {
	key := normalizeName(name)
	for sym, canonical := range symbologyNames {
		if normalizeName(canonical) == key {
			return sym, nil
		}
	}
	// Accept "QR" as shorthand
	if key == "QR" {
		return SymbologyQRCode, nil
	}
	return SymbologyUnknown, errors.Newf("unknown symbology: %q", name)
}

func normalizeName(name string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(name)))
}

// FormatSet is an allowlist of accepted symbologies
type FormatSet map[Symbology]struct{}

// Format presets
const (
	FormatPresetAll     = "all"
	FormatPresetProduct = "product"
	FormatPreset1D      = "1d"
	FormatPreset2D      = "2d"
)

// NewFormatSet builds a set from explicit symbologies
func NewFormatSet(symbologies ...Symbology) FormatSet {
	set := make(FormatSet, len(symbologies))
	for _, s := range symbologies {
		set[s] = struct{}{}
	}
	return set
}

// AllFormats accepts every 1D and 2D symbology. PDF 417 has a name but
// belongs to no preset since nothing can read it.
func AllFormats() FormatSet {
	set := OneDimensionalFormats()
	for s := range TwoDimensionalFormats() {
		set[s] = struct{}{}
	}
	return set
}

// ProductFormats accepts retail product codes only
func ProductFormats() FormatSet {
	return NewFormatSet(SymbologyEAN13, SymbologyEAN8, SymbologyUPCA, SymbologyUPCE)
}

// OneDimensionalFormats accepts linear barcodes
func OneDimensionalFormats() FormatSet {
	return NewFormatSet(
		SymbologyCodabar, SymbologyCode39, SymbologyCode93, SymbologyCode128,
		SymbologyEAN13, SymbologyEAN8, SymbologyITF, SymbologyUPCA, SymbologyUPCE,
	)
}

// TwoDimensionalFormats accepts matrix codes
func TwoDimensionalFormats() FormatSet {
	return NewFormatSet(SymbologyQRCode, SymbologyAztec, SymbologyDataMatrix)
}

// ParseFormatSet builds a set from preset names and/or symbology names.
// An empty list yields every format.
func ParseFormatSet(names []string) (FormatSet, error) {
	if len(names) == 0 {
		return AllFormats(), nil
	}

	set := make(FormatSet)
	for _, name := range names {
		var add FormatSet
		switch strings.ToLower(strings.TrimSpace(name)) {
		case FormatPresetAll:
			add = AllFormats()
		case FormatPresetProduct:
			add = ProductFormats()
		case FormatPreset1D:
			add = OneDimensionalFormats()
		case FormatPreset2D:
			add = TwoDimensionalFormats()
		default:
			sym, err := ParseSymbology(name)
			if err != nil {
				return nil, err
			}
			add = NewFormatSet(sym)
		}
		for s := range add {
			set[s] = struct{}{}
		}
	}
	return set, nil
}

// Contains reports whether the symbology is accepted
func (f FormatSet) Contains(s Symbology) bool {
	_, ok := f[s]
	return ok
}

// First returns the first barcode, in result order, whose symbology is accepted
func (f FormatSet) First(barcodes []Barcode) (Barcode, bool) {
	for _, b := range barcodes {
		if f.Contains(b.Symbology) {
			return b, true
		}
	}
	return Barcode{}, false
}

// Symbologies returns the members sorted by enum order
func (f FormatSet) Symbologies() []Symbology {
	out := make([]Symbology, 0, len(f))
	for s := range f {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Barcode is a single recognized code
type Barcode struct {
	Value     string          `json:"value"`
	Symbology Symbology       `json:"symbology"`
	Bounds    image.Rectangle `json:"bounds"`
}

// OutcomeKind tags a decode outcome
type OutcomeKind int

// OutcomeKind constants
const (
	OutcomeEmpty OutcomeKind = iota
	OutcomeDecoded
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDecoded:
		return "decoded"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of decoding one image
type Outcome struct {
	Kind     OutcomeKind
	Barcodes []Barcode // set when Kind is OutcomeDecoded
	Err      error     // set when Kind is OutcomeFailed
}

// Decoded builds a decoded outcome. An empty result list yields Empty.
func Decoded(barcodes []Barcode) Outcome {
	if len(barcodes) == 0 {
		return Empty()
	}
	return Outcome{Kind: OutcomeDecoded, Barcodes: barcodes}
}

// Empty builds an outcome for an image with no barcode
func Empty() Outcome {
	return Outcome{Kind: OutcomeEmpty}
}

// Failed builds a failed outcome
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// OutcomeView is the JSON form of an Outcome
type OutcomeView struct {
	Kind     string    `json:"kind"`
	Barcodes []Barcode `json:"barcodes,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// View converts the outcome for JSON transport
func (o Outcome) View() OutcomeView {
	v := OutcomeView{Kind: o.Kind.String(), Barcodes: o.Barcodes}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

// DecodeRequest asks the host to decode a stored still image
type DecodeRequest struct {
	Key string `json:"key"`
}
