package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// AbortFunc cancels the running timelapse.
type AbortFunc func()

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Status      *Tracker
	Abort       AbortFunc
	History     History // nil when the journal is disabled
	limiter     *rate.Limiter
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If abort is nil, POST /abort returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, status *Tracker, abort AbortFunc, limiter *rate.Limiter, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Status:      status,
		Abort:       abort,
		limiter:     limiter,
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

// HandleStatus returns the current run snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(h.Status.Snapshot())
}

// HandleLatestFrame serves the most recent image. Downloads are rate limited
// because frames can be several megabytes and the Pi's uplink is slow.
func (h *Handlers) HandleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	path := h.Status.LatestFramePath()
	if path == "" {
		http.Error(w, "no frame captured yet", http.StatusNotFound)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "frame unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "frame unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HandleAbort handles POST /abort: the run is cancelled and stops after the
// current step, turning the light off and releasing the camera.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if h.Abort == nil {
		http.Error(w, "abort not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.Status.Active() {
		http.Error(w, "no run in progress", http.StatusConflict)
		return
	}
	h.Abort()
	h.Broadcaster.Broadcast("warn", "Abort requested")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "aborting"})
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
