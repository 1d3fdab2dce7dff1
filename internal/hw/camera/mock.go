package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/camdemo/internal/debug"
)

// MockOptions configures the simulated camera subsystem.
type MockOptions struct {
	Cameras       []Info        // default: one back camera (90°) and one front camera (270°)
	Rotation      Rotation      // screen rotation reported to callers
	FrameInterval time.Duration // delay between frames; default 33ms
	PreviewSizes  []Size        // default: DefaultMockSizes

	// ExposureValues is advertised under KeyExposureValues unless
	// NoExposureValues is set.
	ExposureValues   string
	NoExposureValues bool

	// FailPreviewDisplay makes SetPreviewDisplay fail, as a driver does
	// when the surface is not valid any more.
	FailPreviewDisplay bool
}

// DefaultMockSizes is the size list reported by the mock driver, largest first.
var DefaultMockSizes = []Size{
	{1920, 1080},
	{1280, 720},
	{640, 480},
	{320, 240},
	{176, 144},
}

// MockPlatform is a simulated camera subsystem for development and tests.
// Frames are a rendered JPEG test pattern delivered on a ticker.
type MockPlatform struct {
	mu    sync.Mutex
	opts  MockOptions
	open  map[int]*MockHandle
	opens int
}

// NewMockPlatform creates a simulated platform.
func NewMockPlatform(opts MockOptions) *MockPlatform {
	if len(opts.Cameras) == 0 {
		opts.Cameras = []Info{
			{ID: 0, Name: "mock-back", Facing: FacingBack, Orientation: 90},
			{ID: 1, Name: "mock-front", Facing: FacingFront, Orientation: 270},
		}
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 33 * time.Millisecond
	}
	if len(opts.PreviewSizes) == 0 {
		opts.PreviewSizes = DefaultMockSizes
	}
	if opts.ExposureValues == "" && !opts.NoExposureValues {
		opts.ExposureValues = "auto,center-weighted,spot"
	}
	debug.Info("Using MOCK camera driver (development mode)")
	return &MockPlatform{
		opts: opts,
		open: make(map[int]*MockHandle),
	}
}

func (p *MockPlatform) Cameras() ([]Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Info(nil), p.opts.Cameras...), nil
}

func (p *MockPlatform) Rotation() Rotation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Rotation
}

// SetRotation changes the screen rotation reported by Rotation.
func (p *MockPlatform) SetRotation(r Rotation) {
	p.mu.Lock()
	p.opts.Rotation = r
	p.mu.Unlock()
}

// Opens returns how many handles have been acquired so far.
func (p *MockPlatform) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// OpenHandle returns the currently open handle for camera id, or nil.
func (p *MockPlatform) OpenHandle(id int) *MockHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[id]
}

func (p *MockPlatform) Open(id int) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var info *Info
	for i := range p.opts.Cameras {
		if p.opts.Cameras[i].ID == id {
			info = &p.opts.Cameras[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNoSuchCamera, id)
	}
	if _, busy := p.open[id]; busy {
		return nil, ErrCameraInUse
	}

	params := &Parameters{
		PreviewSizes:        append([]Size(nil), p.opts.PreviewSizes...),
		PreviewFpsRanges:    []FpsRange{{Min: 15, Max: 15}, {Min: 15, Max: 30}, {Min: 30, Max: 30}},
		FocusModes:          []string{FocusModeFixed, FocusModeAuto, FocusModeContinuousVideo},
		PreviewSize:         p.opts.PreviewSizes[0],
		FocusMode:           FocusModeAuto,
		PreviewFormat:       PixelFormatNV21,
		MaxNumMeteringAreas: 1,
	}
	if !p.opts.NoExposureValues {
		params.Set(KeyExposureValues, p.opts.ExposureValues)
	}

	h := &MockHandle{
		platform: p,
		info:     *info,
		params:   params,
		interval: p.opts.FrameInterval,
		failBind: p.opts.FailPreviewDisplay,
	}
	p.open[id] = h
	p.opens++
	debug.Verbose("Camera: mock camera %d (%s) opened", id, info.Name)
	return h, nil
}

func (p *MockPlatform) released(id int) {
	p.mu.Lock()
	delete(p.open, id)
	p.mu.Unlock()
}

// MockHandle is an open simulated camera.
type MockHandle struct {
	platform *MockPlatform
	info     Info
	interval time.Duration
	failBind bool
	frames   dispatcher

	mu       sync.Mutex
	params   *Parameters
	released bool
	stop     chan struct{}
	done     chan struct{}
	starts   int
}

func (h *MockHandle) Parameters() (*Parameters, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.params.Clone(), nil
}

func (h *MockHandle) SetParameters(p *Parameters) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if h.stop != nil {
		return ErrStreaming
	}
	if !containsSize(h.params.PreviewSizes, p.PreviewSize) {
		return fmt.Errorf("camera: unsupported preview size %s", p.PreviewSize)
	}
	if p.FocusMode != "" && !h.params.SupportsFocusMode(p.FocusMode) {
		return fmt.Errorf("camera: unsupported focus mode %q", p.FocusMode)
	}
	h.params = p.Clone()
	return nil
}

func (h *MockHandle) SetPreviewDisplay(s Surface) error {
	if h.isReleased() {
		return ErrReleased
	}
	if h.failBind {
		return fmt.Errorf("camera: surface %q is not valid", s.Name())
	}
	h.frames.bind(s)
	return nil
}

func (h *MockHandle) SetDisplayOrientation(degrees int) error {
	if h.isReleased() {
		return ErrReleased
	}
	h.frames.orient(degrees)
	return nil
}

func (h *MockHandle) SetErrorCallback(cb ErrorCallback)             { h.frames.setErrorCallback(cb) }
func (h *MockHandle) SetPreviewCallbackWithBuffer(cb FrameCallback) { h.frames.setFrameCallback(cb) }
func (h *MockHandle) AddCallbackBuffer(buf []byte)                  { h.frames.addBuffer(buf) }

func (h *MockHandle) StartPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if h.stop != nil {
		return nil
	}

	frame, err := RenderPattern(h.params.PreviewSize, h.info.Name)
	if err != nil {
		debug.Warn("Camera: test pattern unavailable, sending blank frames: %v", err)
		frame = make([]byte, h.params.FrameBufferSize())
	}

	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.starts++
	go h.stream(frame, h.stop, h.done)
	debug.Verbose("Camera: mock preview started (%s every %v)", h.params.PreviewSize, h.interval)
	return nil
}

func (h *MockHandle) stream(frame []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.frames.deliver(frame)
		}
	}
}

func (h *MockHandle) StopPreview() error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	debug.Verbose("Camera: mock preview stopped")
	return nil
}

func (h *MockHandle) Release() error {
	if err := h.StopPreview(); err != nil {
		return err
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	h.frames.reset()
	h.platform.released(h.info.ID)
	debug.Verbose("Camera: mock camera %d released", h.info.ID)
	return nil
}

// EmitError simulates an asynchronous capture error.
func (h *MockHandle) EmitError(code ErrorCode) {
	h.frames.fail(code)
}

// EmitFrame pushes one frame synchronously, bypassing the ticker.
func (h *MockHandle) EmitFrame(frame []byte) {
	h.frames.deliver(frame)
}

// Streaming reports whether the preview goroutine is running.
func (h *MockHandle) Streaming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

// Stats returns callback-buffer accounting.
func (h *MockHandle) Stats() Stats {
	return h.frames.stats()
}

func (h *MockHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func containsSize(sizes []Size, s Size) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}
