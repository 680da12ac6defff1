package camera

import (
	"image"
	"sync"
)

// Snapshot is the most recent preview image
type Snapshot struct {
	Image    image.Image
	Rotation int
	Seq      uint64
}

// Preview is the render handle of a binding. It keeps the image of the
// latest frame, not the frame itself, so it never delays a release.
type Preview struct {
	deviceID string

	mu     sync.RWMutex
	latest Snapshot
	ok     bool

	updated chan struct{}
}

func newPreview(deviceID string) *Preview {
	return &Preview{
		deviceID: deviceID,
		updated:  make(chan struct{}, 1),
	}
}

// DeviceID returns the camera the preview is attached to
func (p *Preview) DeviceID() string {
	return p.deviceID
}

// Latest returns the newest image; ok is false before the first frame
func (p *Preview) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ok
}

// Updated signals that a newer image is available. Signals coalesce: a
// reader that falls behind sees one pending signal, not one per frame.
func (p *Preview) Updated() <-chan struct{} {
	return p.updated
}

func (p *Preview) update(f *Frame) {
	p.mu.Lock()
	p.latest = Snapshot{Image: f.Image, Rotation: f.Rotation, Seq: f.Seq}
	p.ok = true
	p.mu.Unlock()

	select {
	case p.updated <- struct{}{}:
	default:
	}
}
