// Package scanner drives one scan session from permission negotiation to
// a single accepted barcode.
//
// The Orchestrator is a state machine over pipeline.State:
//
//	Idle -> RequestingPermission -> Scanning -> Succeeded | Fatal -> Idle
//
// Every transition is applied and published under one lock, so observers
// never read a state that was already superseded. Results from a session
// that has since been stopped, reset or finished are dropped by checking
// the session generation before committing.
package scanner

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/logger"
	"github.com/tendant/simple-scan-pipeline/internal/metrics"
	"github.com/tendant/simple-scan-pipeline/internal/permission"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// ErrInvalidTransition is returned when an inbound event is not valid in
// the current state
var ErrInvalidTransition = errors.New("invalid state transition")

// Camera is the camera session the orchestrator owns
type Camera interface {
	Bind(owner context.Context, sink camera.FrameSink) (*camera.Preview, error)
	Unbind() error
}

// Decoder recognizes one frame
type Decoder interface {
	Decode(ctx context.Context, f *camera.Frame) (pipeline.Outcome, error)
}

// Permissions is the permission tracker
type Permissions interface {
	Refresh(ctx context.Context) []permission.Requirement
	Request(ctx context.Context) ([]permission.Requirement, error)
}

// RationalePresenter explains to the user why permissions are needed after
// a soft denial and reports whether to prompt again
type RationalePresenter interface {
	ShowRationale(ctx context.Context, denied []string) bool
}

// RationaleFunc adapts a function to RationalePresenter
type RationaleFunc func(ctx context.Context, denied []string) bool

// ShowRationale implements RationalePresenter
func (f RationaleFunc) ShowRationale(ctx context.Context, denied []string) bool {
	return f(ctx, denied)
}

// Options configures an Orchestrator
type Options struct {
	Formats              pipeline.FormatSet // nil accepts every symbology
	MaxPermissionPrompts int                // system prompts per start; default 1
	Rationale            RationalePresenter // nil declines every retry
}

// Orchestrator owns the scan state and the camera session
type Orchestrator struct {
	camera     Camera
	decoder    Decoder
	perms      Permissions
	rationale  RationalePresenter
	formats    pipeline.FormatSet
	maxPrompts int
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	state     pipeline.State
	gen       uint64
	sessionID string
	cancel    context.CancelFunc
	preview   *camera.Preview
	subs      map[int]chan pipeline.State
	nextSub   int
}

// New creates an orchestrator in Idle
func New(cam Camera, decoder Decoder, perms Permissions, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Orchestrator {
	formats := opts.Formats
	if formats == nil {
		formats = pipeline.AllFormats()
	}
	prompts := opts.MaxPermissionPrompts
	if prompts < 1 {
		prompts = 1
	}
	return &Orchestrator{
		camera:     cam,
		decoder:    decoder,
		perms:      perms,
		rationale:  opts.Rationale,
		formats:    formats,
		maxPrompts: prompts,
		log:        log,
		metrics:    m,
		state:      pipeline.Idle{},
		subs:       make(map[int]chan pipeline.State),
	}
}

// State returns the current state
func (o *Orchestrator) State() pipeline.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the id of the latest session, empty before the first Start
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Preview returns the preview of the live binding
func (o *Orchestrator) Preview() (*camera.Preview, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preview, o.preview != nil
}

// Subscribe returns a channel that holds the newest unread state. The
// current state is delivered first. A slow reader skips intermediate
// states but always ends on the latest. cancel closes the channel.
func (o *Orchestrator) Subscribe() (<-chan pipeline.State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan pipeline.State, 1)
	ch <- o.state
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
}

// Start begins a session. ctx owns the session: when it ends, the camera
// is unbound and a session that has not finished returns to Idle.
// Start returns once the session is under way; progress is reported
// through State and Subscribe.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.state.(pipeline.Idle); !ok {
		return errors.Wrapf(ErrInvalidTransition, "start from %s", o.state.Kind())
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "start")
	}

	o.gen++
	gen := o.gen
	o.sessionID = uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.setState(pipeline.RequestingPermission{})
	go o.run(runCtx, gen, o.log.With(logger.FieldSessionID, o.sessionID))
	return nil
}

// Stop abandons a session in progress and returns to Idle. Succeeded and
// Fatal are left for Reset so the host can still read the result.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.(type) {
	case pipeline.RequestingPermission, pipeline.Scanning:
		o.endSession()
		o.setState(pipeline.Idle{})
	case pipeline.Idle, pipeline.Succeeded, pipeline.Fatal:
	}
}

// Reset returns a finished session to Idle
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !pipeline.IsTerminal(o.state) {
		return errors.Wrapf(ErrInvalidTransition, "reset from %s", o.state.Kind())
	}
	o.endSession()
	o.setState(pipeline.Idle{})
	return nil
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, log *zap.SugaredLogger) {
	log.Infow("Scan session started")

	if err := o.acquirePermissions(ctx, log); err != nil {
		if ctx.Err() != nil {
			o.ownerDone(gen)
			return
		}
		log.Warnw("Permissions not granted", logger.FieldError, err)
		o.commit(gen, pipeline.StateRequestingPermission, pipeline.Fatal{Cause: err})
		return
	}

	if !o.commit(gen, pipeline.StateRequestingPermission, pipeline.Scanning{}) {
		return
	}

	preview, err := o.camera.Bind(ctx, o.sink(gen, log))
	if err != nil {
		if ctx.Err() != nil {
			o.ownerDone(gen)
			return
		}
		log.Warnw("Camera bind failed", logger.FieldError, err)
		o.commit(gen, pipeline.StateScanning, pipeline.Fatal{Cause: err})
		return
	}

	o.mu.Lock()
	if o.gen == gen && o.state.Kind() == pipeline.StateScanning {
		o.preview = preview
	}
	o.mu.Unlock()

	<-ctx.Done()
	o.ownerDone(gen)
}

// acquirePermissions returns nil once every permission is granted. The
// platform is prompted even when the first read looks permanent, since a
// permission that was never requested reads the same way.
func (o *Orchestrator) acquirePermissions(ctx context.Context, log *zap.SugaredLogger) error {
	reqs := o.perms.Refresh(ctx)
	if permission.AllGranted(reqs) {
		return nil
	}

	for prompt := 1; ; prompt++ {
		reqs, err := o.perms.Request(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warnw("Permission prompt failed", logger.FieldError, err)
		}
		if permission.AllGranted(reqs) {
			return nil
		}

		if permission.AnyPermanentlyDenied(reqs) {
			return pipeline.NewPermissionError(true, permanentlyDenied(reqs)...)
		}

		denied := permission.Denied(reqs)
		if prompt >= o.maxPrompts || o.rationale == nil || !o.rationale.ShowRationale(ctx, denied) {
			return pipeline.NewPermissionError(false, denied...)
		}
		log.Infow("Prompting again after rationale", "permissions", denied, "prompt", prompt+1)
	}
}

func permanentlyDenied(reqs []permission.Requirement) []string {
	var out []string
	for _, r := range reqs {
		if r.Status == permission.StatusDeniedPermanent {
			out = append(out, r.Permission)
		}
	}
	return out
}

// sink analyzes frames for session gen. The camera delivers frames one at
// a time, so at most one decode is in flight.
func (o *Orchestrator) sink(gen uint64, log *zap.SugaredLogger) camera.FrameSink {
	return func(ctx context.Context, f *camera.Frame) {
		defer f.Release()

		if !o.isCurrent(gen, pipeline.StateScanning) {
			return
		}

		out, err := o.decoder.Decode(ctx, f)
		if err != nil {
			log.Debugw("Decode cancelled", logger.FieldFrameSeq, f.Seq, logger.FieldError, err)
			return
		}

		switch out.Kind {
		case pipeline.OutcomeDecoded:
			b, ok := o.formats.First(out.Barcodes)
			if !ok {
				log.Debugw("No accepted symbology in frame",
					logger.FieldFrameSeq, f.Seq,
					logger.FieldCount, len(out.Barcodes))
				return
			}
			if o.commit(gen, pipeline.StateScanning, pipeline.Succeeded{Barcode: b}) {
				log.Infow("Barcode accepted",
					logger.FieldSymbology, b.Symbology.String(),
					logger.FieldFrameSeq, f.Seq)
			}
		case pipeline.OutcomeFailed:
			if o.commit(gen, pipeline.StateScanning, pipeline.Fatal{Cause: &pipeline.DecodeError{Err: out.Err}}) {
				log.Warnw("Decode failed", logger.FieldFrameSeq, f.Seq, logger.FieldError, out.Err)
			}
		case pipeline.OutcomeEmpty:
		}
	}
}

func (o *Orchestrator) isCurrent(gen uint64, kind pipeline.StateKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen && o.state.Kind() == kind
}

// commit moves session gen from the expected state to next. It reports
// false, changing nothing, when the session or state has moved on.
func (o *Orchestrator) commit(gen uint64, expect pipeline.StateKind, next pipeline.State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.gen != gen || o.state.Kind() != expect {
		return false
	}
	if pipeline.IsTerminal(next) {
		o.endSession()
	}
	o.setState(next)
	return true
}

// ownerDone returns an unfinished session to Idle after its context ended
func (o *Orchestrator) ownerDone(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.gen != gen {
		return
	}
	switch o.state.(type) {
	case pipeline.RequestingPermission, pipeline.Scanning:
		o.endSession()
		o.setState(pipeline.Idle{})
	case pipeline.Idle, pipeline.Succeeded, pipeline.Fatal:
	}
}

// endSession invalidates in-flight work of the current session and
// releases the camera. Caller holds mu. Unbind does not wait for the
// analyzer, so this is safe from inside the sink.
func (o *Orchestrator) endSession() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	o.preview = nil
	if err := o.camera.Unbind(); err != nil {
		o.log.Warnw("Camera unbind failed", logger.FieldSessionID, o.sessionID, logger.FieldError, err)
	}
}

// setState applies and publishes a transition. Caller holds mu.
func (o *Orchestrator) setState(next pipeline.State) {
	from := o.state
	o.state = next
	o.metrics.Transition(string(next.Kind()))
	o.log.Infow("State transition",
		logger.FieldSessionID, o.sessionID,
		logger.FieldFrom, from.Kind(),
		logger.FieldTo, next.Kind())

	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
