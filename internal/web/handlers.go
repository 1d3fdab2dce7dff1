package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/cjeanneret/camdemo/internal/debug"
	"github.com/cjeanneret/camdemo/internal/logic/framerate"
	"github.com/cjeanneret/camdemo/internal/logic/session"
)

const maxBodyBytes = 4 << 10

// EventPoster is the part of session.Loop the handlers need.
type EventPoster interface {
	Post(ctx context.Context, ev session.Event) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// ConfigView holds the effective camera settings shown by the page.
type ConfigView struct {
	Driver            string `json:"driver"`
	Facing            string `json:"facing"`
	PreferredWidth    int    `json:"preferred_width"`
	PreferredHeight   int    `json:"preferred_height"`
	FocusMode         string `json:"focus_mode"`
	Metering          string `json:"metering"`
	ReportEveryFrames int    `json:"report_every_frames"`
}

// SurfaceSize is the optional body of POST /lifecycle/surface-changed.
type SurfaceSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Events      EventPoster
	Surface     *PreviewSurface
	Config      ConfigView
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If events is nil, lifecycle and status requests return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, events EventPoster, surface *PreviewSurface, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Events:      events,
		Surface:     surface,
		Config:      cfg,
		staticFS:    staticFS,
	}
}

// HandleConfig returns the effective camera settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
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

// HandleLifecycle handles POST /lifecycle/{event}: the page reports its
// surface and visibility changes the way an activity reports its lifecycle.
func (h *Handlers) HandleLifecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("event")
	kind, err := session.ParseLifecycle(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Events == nil {
		http.Error(w, "camera session not configured", http.StatusServiceUnavailable)
		return
	}

	if h.Surface == nil && (kind == session.SurfaceCreated || kind == session.SurfaceChanged) {
		http.Error(w, "no preview surface", http.StatusServiceUnavailable)
		return
	}

	var ev session.Event
	switch kind {
	case session.SurfaceCreated:
		ev = session.SurfaceCreatedEvent(h.Surface)
	case session.SurfaceChanged:
		size, err := decodeSurfaceSize(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ev = session.SurfaceChangedEvent(h.Surface, size.Width, size.Height)
	case session.SurfaceDestroyed:
		ev = session.SurfaceDestroyedEvent()
	case session.Resumed:
		ev = session.ResumeEvent()
	case session.Paused:
		ev = session.PauseEvent()
	}

	if err := h.Events.Post(r.Context(), ev); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	debug.Verbose("web: lifecycle %s queued", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "event": name})
}

func decodeSurfaceSize(w http.ResponseWriter, r *http.Request) (SurfaceSize, error) {
	var size SurfaceSize
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(&size)
	if errors.Is(err, io.EOF) {
		return size, nil // no body
	}
	if err != nil {
		return size, fmt.Errorf("invalid JSON: %w", err)
	}
	if size.Width < 0 || size.Height < 0 {
		return size, errors.New("width and height must not be negative")
	}
	return size, nil
}

// HandleStatus returns the controller snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "camera session not configured", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	s, err := h.Events.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSnapshot(s))
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

// HandlePreview streams the preview surface as multipart MJPEG.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Surface == nil {
		http.Error(w, "no preview surface", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Orientation", strconv.Itoa(h.Surface.Orientation()))

	wake, unsub := h.Surface.Subscribe()
	defer unsub()

	var sent uint64
	for {
		frame, seq := h.Surface.Latest()
		if seq != sent && frame != nil {
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			flusher.Flush()
			sent = seq
		}
		select {
		case <-wake:
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(fmt.Errorf("web: encode response: %w", err))
	}
}

// sanitizeMeasurement replaces a non-finite rate (zero elapsed time) with 0,
// which JSON can carry.
func sanitizeMeasurement(m framerate.Measurement) framerate.Measurement {
	if math.IsInf(m.FPS, 0) || math.IsNaN(m.FPS) {
		m.FPS = 0
	}
	return m
}

func sanitizeSnapshot(s session.Snapshot) session.Snapshot {
	if s.LastFPS != nil {
		m := sanitizeMeasurement(*s.LastFPS)
		s.LastFPS = &m
	}
	return s
}
