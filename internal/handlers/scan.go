package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tendant/simple-scan-pipeline/internal/camera"
	"github.com/tendant/simple-scan-pipeline/internal/decode"
	"github.com/tendant/simple-scan-pipeline/internal/permission"
	"github.com/tendant/simple-scan-pipeline/internal/scanner"
	"github.com/tendant/simple-scan-pipeline/internal/storage"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

const (
	defaultPreviewWidth = 640
	maxPreviewWidth     = 1920
	maxPreviewHeight    = 1920
	previewJPEGQuality  = 80
)

// ScanService is the pipeline surface the HTTP host drives
type ScanService interface {
	Start(ctx context.Context) error
	Stop()
	Reset() error
	State() pipeline.State
	SessionID() string
	Subscribe() (<-chan pipeline.State, func())
	Preview() (*camera.Preview, bool)
	Permissions() []permission.Requirement
	DecodeFile(ctx context.Context, key string) (pipeline.Outcome, error)
	DecodeStill(ctx context.Context) (pipeline.Outcome, error)
}

// ScanHandler serves the scan API
type ScanHandler struct {
	service ScanService
	// sessions outlive the request that started them
	base context.Context
	log  *zap.SugaredLogger
}

// NewScanHandler creates a handler. Sessions started over HTTP end when
// base is cancelled.
func NewScanHandler(base context.Context, service ScanService, log *zap.SugaredLogger) *ScanHandler {
	return &ScanHandler{service: service, base: base, log: log}
}

// Register adds the scan routes to r
func (h *ScanHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", HandleHealth).Methods(http.MethodGet)

	// Full paths on the root router so a method mismatch answers 405
	r.HandleFunc("/v1/scan/start", h.HandleStart).Methods(http.MethodPost)
	r.HandleFunc("/v1/scan/stop", h.HandleStop).Methods(http.MethodPost)
	r.HandleFunc("/v1/scan/reset", h.HandleReset).Methods(http.MethodPost)
	r.HandleFunc("/v1/scan/state", h.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/v1/scan/events", h.HandleEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/scan/preview", h.HandlePreview).Methods(http.MethodGet)
	r.HandleFunc("/v1/scan/capture", h.HandleCapture).Methods(http.MethodPost)
	r.HandleFunc("/v1/decode", h.HandleDecode).Methods(http.MethodPost)
}

// HandleStart handles POST /v1/scan/start
func (h *ScanHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Start(h.base); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Infow("Scan started over HTTP", "session_id", h.service.SessionID())
	h.writeState(w, http.StatusAccepted)
}

// HandleStop handles POST /v1/scan/stop
func (h *ScanHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.service.Stop()
	h.writeState(w, http.StatusOK)
}

// HandleReset handles POST /v1/scan/reset
func (h *ScanHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(); err != nil {
		h.fail(w, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

// HandleState handles GET /v1/scan/state
func (h *ScanHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, http.StatusOK)
}

// HandleEvents handles GET /v1/scan/events as a server-sent event stream.
// Intermediate states may be skipped; the latest is always delivered.
func (h *ScanHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	states, cancel := h.service.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			data, err := json.Marshal(pipeline.ViewOf(s))
			if err != nil {
				h.log.Errorw("Failed to encode state", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandlePreview handles GET /v1/scan/preview?width=N, returning the latest
// frame as an upright JPEG
func (h *ScanHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	width := defaultPreviewWidth
	if raw := r.URL.Query().Get("width"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPreviewWidth {
			http.Error(w, fmt.Sprintf("width must be between 1 and %d", maxPreviewWidth), http.StatusBadRequest)
			return
		}
		width = n
	}

	preview, ok := h.service.Preview()
	if !ok {
		http.Error(w, "No active preview", http.StatusNotFound)
		return
	}
	snap, ok := preview.Latest()
	if !ok {
		http.Error(w, "No frame yet", http.StatusNotFound)
		return
	}

	img := imaging.Fit(decode.Upright(snap.Image, snap.Rotation), width, maxPreviewHeight, imaging.Linear)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(snap.Seq, 10))
	w.Header().Set("X-Device-ID", preview.DeviceID())
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(previewJPEGQuality)); err != nil {
		h.log.Warnw("Failed to encode preview", "error", err)
	}
}

// HandleCapture handles POST /v1/scan/capture, decoding one still from the
// bound camera without changing the session state
func (h *ScanHandler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.DecodeStill(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.View())
}

// HandleDecode handles POST /v1/decode
func (h *ScanHandler) HandleDecode(w http.ResponseWriter, r *http.Request) {
	var req pipeline.DecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	h.log.Debugw("Decoding stored image", "key", req.Key)
	out, err := h.service.DecodeFile(r.Context(), req.Key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.View())
}

// HandleHealth returns health status
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *ScanHandler) writeState(w http.ResponseWriter, status int) {
	reqs := h.service.Permissions()
	perms := make([]pipeline.PermissionView, 0, len(reqs))
	for _, req := range reqs {
		perms = append(perms, pipeline.PermissionView{Permission: req.Permission, Status: req.Status.String()})
	}
	writeJSON(w, status, pipeline.ScanStatus{
		SessionID:   h.service.SessionID(),
		Permissions: perms,
		StateView:   pipeline.ViewOf(h.service.State()),
	})
}

// fail maps pipeline errors onto HTTP status codes
func (h *ScanHandler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scanner.ErrInvalidTransition), errors.Is(err, camera.ErrNotBound):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotImage):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, decode.ErrUnreadableImage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("Request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
