package camera

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// DirectoryDevice is a camera that replays the image files of a directory
// in name order, one per interval, looping. The directory is re-listed on
// every pass so files added while streaming are picked up.
type DirectoryDevice struct {
	id       string
	dir      string
	lens     Lens
	interval time.Duration
	rotation int
	log      *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	last    image.Image
	seq     uint64
}

// DirectoryOptions configures a DirectoryDevice
type DirectoryOptions struct {
	Lens     Lens
	Interval time.Duration
	Rotation int // reported on every frame
}

// NewDirectoryDevice creates a device over dir
func NewDirectoryDevice(dir string, opts DirectoryOptions, log *zap.SugaredLogger) *DirectoryDevice {
	lens := opts.Lens
	if lens == "" {
		lens = LensBack
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &DirectoryDevice{
		id:       "dir:" + filepath.Clean(dir),
		dir:      dir,
		lens:     lens,
		interval: interval,
		rotation: normalizeRotation(opts.Rotation),
		log:      log,
	}
}

// ID implements Device
func (d *DirectoryDevice) ID() string { return d.id }

// Lens implements Device
func (d *DirectoryDevice) Lens() Lens { return d.lens }

// Start implements Device
func (d *DirectoryDevice) Start(ctx context.Context, emit func(*Frame)) error {
	info, err := os.Stat(d.dir)
	if err != nil {
		return errors.Wrapf(err, "open frame directory %s", d.dir)
	}
	if !info.IsDir() {
		return errors.Newf("%s is not a directory", d.dir)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrDeviceBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})
	go d.run(runCtx, emit, d.stopped)
	return nil
}

// Stop implements Device
func (d *DirectoryDevice) Stop() error {
	d.mu.Lock()
	cancel, stopped := d.cancel, d.stopped
	d.cancel, d.stopped = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	return nil
}

// Capture implements Device. It returns the most recently emitted image.
func (d *DirectoryDevice) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil, errors.New("device not started")
	}
	if d.last == nil {
		return nil, errors.New("no frame captured yet")
	}
	return NewFrame(d.last, d.rotation, d.seq, nil), nil
}

func (d *DirectoryDevice) run(ctx context.Context, emit func(*Frame), stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var files []string
	next := 0
	for {
		if next >= len(files) {
			files = d.list()
			next = 0
		}
		if len(files) > 0 {
			d.emitFile(files[next], emit)
			next++
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *DirectoryDevice) emitFile(path string, emit func(*Frame)) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		d.log.Debugw("Skipping unreadable frame file", "path", path, "error", err)
		return
	}

	d.mu.Lock()
	d.seq++
	d.last = img
	seq := d.seq
	d.mu.Unlock()

	emit(NewFrame(img, d.rotation, seq, nil))
}

func (d *DirectoryDevice) list() []string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warnw("Failed to list frame directory", "dir", d.dir, "error", err)
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(d.dir, e.Name()))
	}
	sort.Strings(files)
	return files
}
