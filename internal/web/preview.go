package web

import (
	"bytes"
	"sync"
)

var jpegMagic = []byte{0xFF, 0xD8}

// PreviewSurface is the camera.Surface behind the browser preview. It keeps
// the latest JPEG frame and the display orientation set by the controller.
// Frames in raw formats are counted and dropped; the page only shows JPEG.
type PreviewSurface struct {
	name string

	mu          sync.Mutex
	frame       []byte
	seq         uint64
	orientation int
	skipped     uint64
	waiters     map[chan struct{}]struct{}
}

// NewPreviewSurface creates an empty surface.
func NewPreviewSurface(name string) *PreviewSurface {
	return &PreviewSurface{
		name:    name,
		waiters: make(map[chan struct{}]struct{}),
	}
}

func (s *PreviewSurface) Name() string { return s.name }

// Present stores a copy of frame and wakes streaming clients.
func (s *PreviewSurface) Present(frame []byte) {
	if !bytes.HasPrefix(frame, jpegMagic) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		return
	}
	cp := append([]byte(nil), frame...)

	s.mu.Lock()
	s.frame = cp
	s.seq++
	for ch := range s.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *PreviewSurface) Orient(degrees int) {
	s.mu.Lock()
	s.orientation = degrees
	s.mu.Unlock()
}

// Orientation returns the last display orientation in degrees.
func (s *PreviewSurface) Orientation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

// Latest returns the newest frame and its sequence number (0 = none yet).
func (s *PreviewSurface) Latest() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// Skipped returns how many non-JPEG frames were dropped.
func (s *PreviewSurface) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Subscribe returns a channel signalled after each new frame, and its cleanup.
func (s *PreviewSurface) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.waiters, ch)
		s.mu.Unlock()
	}
}
