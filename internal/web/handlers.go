package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/logic/capture"
)

// TriggerFunc starts one capture cycle.
// It is called from the POST /trigger handler and must not block on the cycle.
type TriggerFunc func() (*capture.Cycle, error)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Trigger     TriggerFunc
	Display     *PageDisplay
	Preview     *Preview
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If trigger is nil, POST /trigger will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, trigger TriggerFunc, display *PageDisplay, preview *Preview, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Trigger:     trigger,
		Display:     display,
		Preview:     preview,
		staticFS:    staticFS,
	}
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

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleTrigger handles POST /trigger to start a capture cycle.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Trigger == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	cycle, err := h.Trigger()
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "capture already in progress"})
		return
	case errors.Is(err, capture.ErrNotReady), errors.Is(err, capture.ErrNotStarted):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "camera not ready"})
		return
	case errors.Is(err, capture.ErrCameraUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "camera unavailable"})
		return
	default:
		debug.Error(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	debug.Live("Web: cycle %s started by %s", cycle.ID, r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"cycle":      cycle.ID,
		"started_at": cycle.StartedAt.Format(time.RFC3339Nano),
	})
}

// HandleResult handles GET /result: the current display region and camera status.
func (h *Handlers) HandleResult(w http.ResponseWriter, r *http.Request) {
	if h.Display == nil {
		writeJSON(w, http.StatusOK, PageState{})
		return
	}
	writeJSON(w, http.StatusOK, h.Display.Snapshot())
}

// HandlePreview handles GET /preview.mjpg.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Preview == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	h.Preview.ServeHTTP(w, r)
}

// HandleSnapshot handles GET /preview.jpg.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.Preview == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	h.Preview.HandleSnapshot(w, r)
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
	debug.Verbose("Web: status client %s connected (%d open)", r.RemoteAddr, h.Broadcaster.Clients())

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
