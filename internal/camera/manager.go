// Package camera binds a platform camera to a preview and a single-slot
// analysis stream.
//
// A Manager owns at most one binding. Frames are delivered to the sink one
// at a time on a dedicated goroutine; a frame that arrives while another is
// waiting replaces it, and the replaced frame is released immediately. Every
// frame is released exactly once, whether it was analyzed or dropped.
package camera

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tendant/simple-scan-pipeline/internal/logger"
	"github.com/tendant/simple-scan-pipeline/internal/metrics"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// FrameSink analyzes one frame. ctx is cancelled when the binding goes
// away. The frame is released after the sink returns; the sink may release
// it earlier. A sink may call Unbind but must not call Bind.
type FrameSink func(ctx context.Context, f *Frame)

// Options configures a Manager
type Options struct {
	Lens           Lens
	MaxAnalysisFPS float64 // 0 = no cap
}

// Manager binds and unbinds the camera
type Manager struct {
	provider Provider
	lens     Lens
	fps      float64
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics

	bindMu  sync.Mutex // serializes Bind
	mu      sync.Mutex // guards current
	current *binding
}

// NewManager creates a manager over the provider's devices
func NewManager(provider Provider, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Manager {
	lens := opts.Lens
	if lens == "" {
		lens = LensBack
	}
	return &Manager{
		provider: provider,
		lens:     lens,
		fps:      opts.MaxAnalysisFPS,
		log:      log,
		metrics:  m,
	}
}

// Bind attaches the camera to a new preview and starts delivering frames to
// sink. Any existing binding is torn down first and its analyzer has exited
// before the new device starts. The binding ends when owner is done or
// Unbind is called.
func (m *Manager) Bind(owner context.Context, sink FrameSink) (*Preview, error) {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()

	if prev := m.detach(nil); prev != nil {
		m.log.Infow("Replacing camera binding", logger.FieldBindingID, prev.id)
		if err := prev.close(); err != nil {
			m.log.Warnw("Failed to stop previous device", logger.FieldBindingID, prev.id, logger.FieldError, err)
		}
		<-prev.done
	}

	if err := owner.Err(); err != nil {
		return nil, errors.Wrap(err, "bind camera")
	}

	device, err := m.selectDevice(owner)
	if err != nil {
		return nil, err
	}

	b := m.newBinding(owner, device)
	go b.analyze(sink)

	// Publish before starting so a sink that unbinds on its first frame
	// finds the binding.
	m.mu.Lock()
	m.current = b
	m.mu.Unlock()
	m.metrics.BindingOpened()

	if err := device.Start(b.ctx, b.offer); err != nil {
		m.detach(b)
		_ = b.close()
		<-b.done
		kind := pipeline.BindDeviceUnavailable
		if errors.Is(err, ErrDeviceBusy) {
			kind = pipeline.BindBindingConflict
		}
		m.log.Warnw("Camera start failed",
			logger.FieldBindingID, b.id,
			logger.FieldDevice, device.ID(),
			logger.FieldError, err)
		return nil, &pipeline.BindError{Kind: kind, Err: err}
	}

	go m.watch(b)

	m.log.Infow("Camera bound",
		logger.FieldBindingID, b.id,
		logger.FieldDevice, device.ID(),
		logger.FieldLens, device.Lens())
	return b.preview, nil
}

// Unbind stops the current binding. It does not wait for an in-flight sink
// call, so it is safe to call from the sink. Calling it with nothing bound
// is a no-op.
func (m *Manager) Unbind() error {
	b := m.detach(nil)
	if b == nil {
		return nil
	}
	m.log.Infow("Camera unbound", logger.FieldBindingID, b.id)
	return b.close()
}

// Bound reports whether a binding is live
func (m *Manager) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Capture takes a still image from the bound device
func (m *Manager) Capture(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	b := m.current
	m.mu.Unlock()
	if b == nil {
		return nil, ErrNotBound
	}

	f, err := b.device.Capture(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "capture from %s", b.device.ID())
	}
	return f, nil
}

func (m *Manager) selectDevice(ctx context.Context) (Device, error) {
	devices, err := m.provider.Devices(ctx)
	if err != nil {
		return nil, &pipeline.BindError{Kind: pipeline.BindDeviceUnavailable, Err: err}
	}
	for _, d := range devices {
		if d.Lens() == m.lens {
			return d, nil
		}
	}
	return nil, &pipeline.BindError{
		Kind: pipeline.BindDeviceUnavailable,
		Err:  errors.Newf("no %s camera among %d devices", m.lens, len(devices)),
	}
}

// detach clears current. With a non-nil want it only clears when current
// is want. Returns the detached binding.
func (m *Manager) detach(want *binding) *binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.current
	if b == nil || (want != nil && b != want) {
		return nil
	}
	m.current = nil
	return b
}

// watch unbinds when the binding context ends for any reason, including
// the owner finishing.
func (m *Manager) watch(b *binding) {
	<-b.ctx.Done()
	if m.detach(b) != nil {
		m.log.Infow("Camera owner finished, unbinding", logger.FieldBindingID, b.id)
	}
	if err := b.close(); err != nil {
		m.log.Warnw("Failed to stop device", logger.FieldBindingID, b.id, logger.FieldError, err)
	}
}

func (m *Manager) newBinding(owner context.Context, device Device) *binding {
	ctx, cancel := context.WithCancel(owner)
	b := &binding{
		id:      uuid.NewString(),
		device:  device,
		preview: newPreview(device.ID()),
		ctx:     ctx,
		cancel:  cancel,
		slot:    make(chan *Frame, 1),
		done:    make(chan struct{}),
		metrics: m.metrics,
	}
	if m.fps > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(m.fps), 1)
	}
	return b
}

type binding struct {
	id      string
	device  Device
	preview *Preview
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	offerMu sync.Mutex // guards inserts into slot
	slot    chan *Frame
	done    chan struct{} // closed when the analyzer exits

	closeOnce sync.Once
	closeErr  error

	metrics *metrics.Metrics
}

// offer is the device's emit callback
func (b *binding) offer(f *Frame) {
	if f == nil {
		return
	}
	b.preview.update(f)

	if b.limiter != nil && !b.limiter.Allow() {
		f.Release()
		b.metrics.FrameDropped(metrics.DropRateLimited)
		return
	}

	b.offerMu.Lock()
	defer b.offerMu.Unlock()

	if b.ctx.Err() != nil {
		f.Release()
		b.metrics.FrameDropped(metrics.DropUnbound)
		return
	}

	select {
	case old := <-b.slot:
		old.Release()
		b.metrics.FrameDropped(metrics.DropReplaced)
	default:
	}
	// Only offer inserts, under offerMu, and the slot is empty here
	b.slot <- f
}

func (b *binding) analyze(sink FrameSink) {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case f := <-b.slot:
			if b.ctx.Err() != nil {
				f.Release()
				b.metrics.FrameDropped(metrics.DropUnbound)
				return
			}
			b.metrics.FrameDelivered()
			sink(b.ctx, f)
			f.Release()
		}
	}
}

// close cancels the binding, stops the device and releases a pending
// frame. Only the first call does anything.
func (b *binding) close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.closeErr = b.device.Stop()

		b.offerMu.Lock()
		select {
		case f := <-b.slot:
			f.Release()
			b.metrics.FrameDropped(metrics.DropUnbound)
		default:
		}
		b.offerMu.Unlock()

		b.metrics.BindingClosed()
	})
	return b.closeErr
}
