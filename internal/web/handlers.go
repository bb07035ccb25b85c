package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
	"github.com/cjeanneret/RollGo/internal/logic/rolling"
	"github.com/cjeanneret/RollGo/internal/storage/catalog"
)

const (
	defaultFramesLimit = 50
	maxFramesLimit     = 500
)

// Rolling is the part of the controller the handlers drive.
// *rolling.Controller implements it.
type Rolling interface {
	RequestStart() error
	RequestStop() error
	CurrentState() rolling.DeviceState
	Session() string
	Stats() rolling.Stats
}

// FrameSource returns the most recent frame. *observers.Latest implements it.
type FrameSource interface {
	Get() (camera.Frame, bool)
}

// FrameIndex lists stored frames. *catalog.Catalog implements it.
type FrameIndex interface {
	Recent(ctx context.Context, limit int) ([]catalog.Entry, error)
	Count(ctx context.Context, session string) (int, error)
}

// FramesResponse is the body of GET /frames.
type FramesResponse struct {
	Total  int             `json:"total"`
	Frames []catalog.Entry `json:"frames"`
}

// FrameCountResponse is the body of GET /frames/count.
type FrameCountResponse struct {
	Session string `json:"session,omitempty"`
	Count   int    `json:"count"`
}

// StateResponse is the body of GET /state and of start/stop replies.
type StateResponse struct {
	State   string         `json:"state"`
	Session string         `json:"session,omitempty"`
	Stats   *rolling.Stats `json:"stats,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Controller  Rolling
	Latest      FrameSource
	Frames      FrameIndex // nil when no catalog is configured
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If ctrl is nil, start and stop return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Rolling, latest FrameSource, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Controller:  ctrl,
		Latest:      latest,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Status: status, Message: message})
}

// requestStatus maps a controller error to an HTTP status.
func requestStatus(err error) int {
	switch {
	case errors.Is(err, rolling.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, rolling.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) state() StateResponse {
	stats := h.Controller.Stats()
	return StateResponse{
		State:   h.Controller.CurrentState().String(),
		Session: h.Controller.Session(),
		Stats:   &stats,
	}
}

// HandleStart handles POST /rolling/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.request(w, "start", func() error { return h.Controller.RequestStart() })
}

// HandleStop handles POST /rolling/stop. It returns once the last tick
// has finished.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.request(w, "stop", func() error { return h.Controller.RequestStop() })
}

func (h *Handlers) request(w http.ResponseWriter, name string, do func() error) {
	if h.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "controller not configured")
		return
	}
	if err := do(); err != nil {
		debug.Info("web: %s rejected: %v", name, err)
		writeError(w, requestStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.state())
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "controller not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleLatestFrame handles GET /frame/latest. It answers 204 while no
// frame with image data has been captured.
func (h *Handlers) HandleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if h.Latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f, ok := h.Latest.Get()
	if !ok || len(f.Data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ct := "application/octet-stream"
	if f.Format == camera.FormatJPEG {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	w.Header().Set("X-Frame-Session", f.Session)
	w.Header().Set("X-Frame-Captured-At", f.CapturedAt.UTC().Format(time.RFC3339Nano))
	w.Write(f.Data)
}

// HandleFrames handles GET /frames?limit=N: the newest indexed frames,
// 404 when no catalog is configured.
func (h *Handlers) HandleFrames(w http.ResponseWriter, r *http.Request) {
	if h.Frames == nil {
		writeError(w, http.StatusNotFound, "frame catalog not configured")
		return
	}
	limit := defaultFramesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxFramesLimit)
	}

	frames, err := h.Frames.Recent(r.Context(), limit)
	if err != nil {
		debug.Warn("web: list frames: %v", err)
		writeError(w, http.StatusInternalServerError, "list frames failed")
		return
	}
	total, err := h.Frames.Count(r.Context(), "")
	if err != nil {
		debug.Warn("web: count frames: %v", err)
		writeError(w, http.StatusInternalServerError, "count frames failed")
		return
	}
	if frames == nil {
		frames = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, FramesResponse{Total: total, Frames: frames})
}

// HandleFrameCount handles GET /frames/count?session=ID.
func (h *Handlers) HandleFrameCount(w http.ResponseWriter, r *http.Request) {
	if h.Frames == nil {
		writeError(w, http.StatusNotFound, "frame catalog not configured")
		return
	}
	session := r.URL.Query().Get("session")
	n, err := h.Frames.Count(r.Context(), session)
	if err != nil {
		debug.Warn("web: count frames: %v", err)
		writeError(w, http.StatusInternalServerError, "count frames failed")
		return
	}
	writeJSON(w, http.StatusOK, FrameCountResponse{Session: session, Count: n})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
