package camera

import (
	"image"
	"sync"
	"time"
)

// Frame is one camera image handed to the analysis sink. The image is
// immutable; the frame's buffer is returned to the device by Release.
type Frame struct {
	Image     image.Image
	Rotation  int // clockwise degrees needed to display the image upright
	Seq       uint64
	Timestamp time.Time

	release func()
	once    sync.Once
}

// NewFrame wraps an image. release may be nil.
func NewFrame(img image.Image, rotation int, seq uint64, release func()) *Frame {
	return &Frame{
		Image:     img,
		Rotation:  normalizeRotation(rotation),
		Seq:       seq,
		Timestamp: time.Now(),
		release:   release,
	}
}

// Release returns the frame buffer. Only the first call has an effect.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
