// Package runner assembles the scan pipeline from configuration and exposes
// it to hosts: HTTP servers, CLIs, or applications embedding the library.
package runner

import (
	"context"
	"image"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/config"
	"github.com/tendant/simple-scan-pipeline/internal/decode"
	"github.com/tendant/simple-scan-pipeline/internal/metrics"
	"github.com/tendant/simple-scan-pipeline/internal/permission"
	"github.com/tendant/simple-scan-pipeline/internal/scanner"
	"github.com/tendant/simple-scan-pipeline/internal/storage"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// Options supplies the host side of the pipeline. Zero values fall back
// to the headless implementations driven by configuration.
type Options struct {
	Provider  camera.Provider            // default: a directory device over camera.source_dir
	Platform  permission.Platform        // default: scanner.granted_permissions are granted
	Rationale scanner.RationalePresenter // default: retries are declined
	Logger    *zap.SugaredLogger         // default: no-op
	Registry  prometheus.Registerer      // nil disables metrics
}

// Runner is a fully wired scan pipeline
type Runner struct {
	cfg        *config.Config
	log        *zap.SugaredLogger
	perms      *permission.Tracker
	camera     *camera.Manager
	recognizer *decode.ZXingRecognizer
	bridge     *decode.Bridge
	scanner    *scanner.Orchestrator
}

// New creates and wires a runner
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := metrics.New(opts.Registry)

	formats, err := cfg.FormatSet()
	if err != nil {
		return nil, err
	}
	lens, err := camera.ParseLens(cfg.Camera.Lens)
	if err != nil {
		return nil, err
	}

	files, err := storage.New(cfg.Storage.BaseDir, cfg.Storage.ContentAPIURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up image source")
	}

	provider := opts.Provider
	if provider == nil {
		provider = camera.StaticProvider{
			camera.NewDirectoryDevice(cfg.Camera.SourceDir, camera.DirectoryOptions{
				Lens:     lens,
				Interval: cfg.FrameInterval(),
			}, log.Named("device")),
		}
	}
	platform := opts.Platform
	if platform == nil {
		platform = permission.NewStaticPlatform(cfg.Scanner.GrantedPermissions)
	}

	perms := permission.NewTracker(platform, cfg.Scanner.Permissions, log.Named("permission"))
	cam := camera.NewManager(provider, camera.Options{
		Lens:           lens,
		MaxAnalysisFPS: cfg.Camera.MaxAnalysisFPS,
	}, log.Named("camera"), m)

	// The recognizer reads every format it supports; the allowlist is
	// applied when choosing the winning barcode.
	recognizer := decode.NewZXingRecognizer(decode.ZXingOptions{
		TryHarder: cfg.Decode.TryHarder,
		Workers:   cfg.Decode.Workers,
	}, log.Named("zxing"))
	bridge := decode.NewBridge(recognizer, files, log.Named("decode"), m)

	orch := scanner.New(cam, bridge, perms, scanner.Options{
		Formats:              formats,
		MaxPermissionPrompts: cfg.Scanner.MaxPermissionPrompts,
		Rationale:            opts.Rationale,
	}, log.Named("scanner"), m)

	log.Infow("Scan pipeline ready",
		"lens", lens,
		"formats", len(formats),
		"workers", cfg.Decode.Workers,
		"permissions", perms.Permissions())

	return &Runner{
		cfg:        cfg,
		log:        log,
		perms:      perms,
		camera:     cam,
		recognizer: recognizer,
		bridge:     bridge,
		scanner:    orch,
	}, nil
}

// Config returns the configuration the runner was built from
func (r *Runner) Config() *config.Config {
	return r.cfg
}

// Start begins a scan session owned by ctx
func (r *Runner) Start(ctx context.Context) error {
	return r.scanner.Start(ctx)
}

// Stop abandons a session in progress
func (r *Runner) Stop() {
	r.scanner.Stop()
}

// Reset returns a finished session to Idle
func (r *Runner) Reset() error {
	return r.scanner.Reset()
}

// State returns the current scan state
func (r *Runner) State() pipeline.State {
	return r.scanner.State()
}

// SessionID identifies the current or last session
func (r *Runner) SessionID() string {
	return r.scanner.SessionID()
}

// Subscribe streams state changes, starting with the current state
func (r *Runner) Subscribe() (<-chan pipeline.State, func()) {
	return r.scanner.Subscribe()
}

// Preview returns the live preview while a session holds the camera
func (r *Runner) Preview() (*camera.Preview, bool) {
	return r.scanner.Preview()
}

// Permissions returns the last known permission statuses
func (r *Runner) Permissions() []permission.Requirement {
	return r.perms.Snapshot()
}

// Await blocks until the session reaches Succeeded or Fatal, or ctx ends.
// A session that falls back to Idle is reported as an error.
func (r *Runner) Await(ctx context.Context) (pipeline.State, error) {
	states, cancel := r.scanner.Subscribe()
	defer cancel()

	sawSession := false
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-states:
			if !ok {
				return nil, errors.New("state stream closed")
			}
			switch s.(type) {
			case pipeline.Succeeded, pipeline.Fatal:
				return s, nil
			case pipeline.Idle:
				if sawSession {
					return s, errors.New("session ended without a result")
				}
			case pipeline.RequestingPermission, pipeline.Scanning:
				sawSession = true
			}
		}
	}
}

// DecodeFile recognizes a stored still image
func (r *Runner) DecodeFile(ctx context.Context, key string) (pipeline.Outcome, error) {
	return r.bridge.DecodeFile(ctx, key)
}

// DecodeImage recognizes an image already in memory. rotation is the
// clockwise angle that makes it upright.
func (r *Runner) DecodeImage(ctx context.Context, img image.Image, rotation int) (pipeline.Outcome, error) {
	return r.bridge.DecodeImage(ctx, img, rotation)
}

// DecodeStill captures one frame from the bound camera and recognizes it.
// It fails with camera.ErrNotBound outside a session.
func (r *Runner) DecodeStill(ctx context.Context) (pipeline.Outcome, error) {
	f, err := r.camera.Capture(ctx)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	defer f.Release()
	return r.bridge.Decode(ctx, f)
}

// Shutdown ends any session and stops the recognizer workers
func (r *Runner) Shutdown(timeout time.Duration) {
	r.scanner.Stop()
	if err := r.camera.Unbind(); err != nil {
		r.log.Warnw("Camera unbind failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		r.recognizer.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		r.log.Warnw("Recognizer did not stop in time", "timeout", timeout)
	}
}
