package camera

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDeviceBusy is returned by Device.Start when another client holds the device
	ErrDeviceBusy = errors.New("camera device busy")

	// ErrNotBound is returned by Manager.Capture when no binding is live
	ErrNotBound = errors.New("camera not bound")
)

// Lens is the camera facing
type Lens string

// Lens constants
const (
	LensBack  Lens = "back"
	LensFront Lens = "front"
)

// ParseLens parses "back" or "front"; empty means back
func ParseLens(s string) (Lens, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(LensBack):
		return LensBack, nil
	case string(LensFront):
		return LensFront, nil
	default:
		return "", errors.Newf("unknown lens %q", s)
	}
}

// Device is a platform camera
type Device interface {
	ID() string
	Lens() Lens

	// Start begins streaming. emit is called from the device's goroutine for
	// every frame; the callee owns the frame and must release it. Start
	// returns ErrDeviceBusy when the device cannot be opened concurrently.
	Start(ctx context.Context, emit func(*Frame)) error

	// Stop ends streaming. Stopping a stopped device is a no-op.
	Stop() error

	// Capture takes a single still image from a started device
	Capture(ctx context.Context) (*Frame, error)
}

// Provider enumerates the cameras available to the host
type Provider interface {
	Devices(ctx context.Context) ([]Device, error)
}

// StaticProvider serves a fixed device list
type StaticProvider []Device

// Devices implements Provider
func (p StaticProvider) Devices(_ context.Context) ([]Device, error) {
	return []Device(p), nil
}
