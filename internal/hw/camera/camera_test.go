package camera

import (
	"bytes"
	"errors"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingSurface records what the driver renders on it.
type recordingSurface struct {
	mu          sync.Mutex
	frames      int
	orientation int
}

func (s *recordingSurface) Name() string { return "recording" }

func (s *recordingSurface) Present(frame []byte) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *recordingSurface) Orient(degrees int) {
	s.mu.Lock()
	s.orientation = degrees
	s.mu.Unlock()
}

func (s *recordingSurface) presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func newTestPlatform(opts MockOptions) *MockPlatform {
	if opts.FrameInterval == 0 {
		opts.FrameInterval = time.Millisecond
	}
	return NewMockPlatform(opts)
}

func openMock(t *testing.T, p *MockPlatform) *MockHandle {
	t.Helper()
	h, err := p.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Release() })
	return h.(*MockHandle)
}

// ---------- MockPlatform ----------

func TestMockPlatform_DefaultCameras(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	cams, err := p.Cameras()
	if err != nil {
		t.Fatal(err)
	}
	if len(cams) != 2 {
		t.Fatalf("cameras = %d, want 2", len(cams))
	}
	if cams[0].Facing != FacingBack || cams[0].Orientation != 90 {
		t.Errorf("camera 0 = %+v, want back/90", cams[0])
	}
	if cams[1].Facing != FacingFront {
		t.Errorf("camera 1 facing = %v, want front", cams[1].Facing)
	}
}

func TestMockPlatform_OpenIsExclusive(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)

	if _, err := p.Open(0); !errors.Is(err, ErrCameraInUse) {
		t.Errorf("second Open error = %v, want ErrCameraInUse", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h2, err := p.Open(0)
	if err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	h2.Release()
	if p.Opens() != 2 {
		t.Errorf("Opens = %d, want 2", p.Opens())
	}
}

func TestMockPlatform_OpenUnknownCamera(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	if _, err := p.Open(7); !errors.Is(err, ErrNoSuchCamera) {
		t.Errorf("error = %v, want ErrNoSuchCamera", err)
	}
}

func TestMockHandle_ParametersAdvertiseExposure(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	params, err := h.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	v, ok := params.Get(KeyExposureValues)
	if !ok || v != "auto,center-weighted,spot" {
		t.Errorf("exposure values = %q, %v", v, ok)
	}
	if !params.SupportsFocusMode(FocusModeContinuousVideo) {
		t.Error("mock should support continuous-video focus")
	}
}

func TestMockHandle_NoExposureValues(t *testing.T) {
	p := newTestPlatform(MockOptions{NoExposureValues: true})
	h := openMock(t, p)
	params, _ := h.Parameters()
	if _, ok := params.Get(KeyExposureValues); ok {
		t.Error("exposure values should be absent")
	}
}

func TestMockHandle_SetParametersValidates(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	params, _ := h.Parameters()

	params.PreviewSize = Size{Width: 641, Height: 480}
	if err := h.SetParameters(params); err == nil {
		t.Error("expected error for unsupported size")
	}

	params.PreviewSize = Size{Width: 640, Height: 480}
	params.FocusMode = "macro"
	if err := h.SetParameters(params); err == nil {
		t.Error("expected error for unsupported focus mode")
	}

	params.FocusMode = FocusModeContinuousVideo
	if err := h.SetParameters(params); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	got, _ := h.Parameters()
	if got.PreviewSize != (Size{640, 480}) || got.FocusMode != FocusModeContinuousVideo {
		t.Errorf("parameters not applied: %+v", got)
	}
}

func TestMockHandle_SetParametersWhileStreaming(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	if err := h.StartPreview(); err != nil {
		t.Fatal(err)
	}
	params, _ := h.Parameters()
	if err := h.SetParameters(params); !errors.Is(err, ErrStreaming) {
		t.Errorf("error = %v, want ErrStreaming", err)
	}
}

func TestMockHandle_FailPreviewDisplay(t *testing.T) {
	p := newTestPlatform(MockOptions{FailPreviewDisplay: true})
	h := openMock(t, p)
	if err := h.SetPreviewDisplay(&recordingSurface{}); err == nil {
		t.Error("expected bind failure")
	}
}

func TestMockHandle_StreamsIntoCallbackBuffer(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	surface := &recordingSurface{}
	if err := h.SetPreviewDisplay(surface); err != nil {
		t.Fatal(err)
	}

	got := make(chan int, 16)
	h.SetPreviewCallbackWithBuffer(func(buf []byte) {
		select {
		case got <- len(buf):
		default:
		}
	})
	buf := make([]byte, 1<<20)
	h.AddCallbackBuffer(buf)

	if err := h.StartPreview(); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-got:
		if n == 0 {
			t.Error("delivered an empty buffer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
	if err := h.StopPreview(); err != nil {
		t.Fatal(err)
	}
	if h.Streaming() {
		t.Error("still streaming after StopPreview")
	}

	// Only one buffer was queued: every later frame is dropped.
	st := h.Stats()
	if st.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", st.Delivered)
	}
	if surface.presented() == 0 {
		t.Error("surface received no frames")
	}
}

func TestMockHandle_ReleaseIsIdempotent(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	if err := h.StartPreview(); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := h.Parameters(); !errors.Is(err, ErrReleased) {
		t.Errorf("Parameters after release = %v, want ErrReleased", err)
	}
	if p.OpenHandle(0) != nil {
		t.Error("platform still tracks released handle")
	}
}

func TestMockHandle_EmitError(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	var got ErrorCode
	h.SetErrorCallback(func(code ErrorCode) { got = code })
	h.EmitError(ErrorServerDied)
	if got != ErrorServerDied {
		t.Errorf("error code = %v, want %v", got, ErrorServerDied)
	}
}

func TestMockHandle_OrientationReachesSurface(t *testing.T) {
	p := newTestPlatform(MockOptions{})
	h := openMock(t, p)
	s := &recordingSurface{}
	h.SetDisplayOrientation(180)
	h.SetPreviewDisplay(s)
	if s.orientation != 180 {
		t.Errorf("orientation on bind = %d, want 180", s.orientation)
	}
	h.SetDisplayOrientation(90)
	if s.orientation != 90 {
		t.Errorf("orientation = %d, want 90", s.orientation)
	}
}

// ---------- dispatcher ----------

func TestDispatcher_DropsWithoutBuffer(t *testing.T) {
	var d dispatcher
	calls := 0
	d.setFrameCallback(func([]byte) { calls++ })
	d.deliver([]byte{1, 2, 3})
	if calls != 0 {
		t.Errorf("callback called %d times without buffer", calls)
	}
	if st := d.stats(); st.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", st.Dropped)
	}
}

func TestDispatcher_ReusesSubmittedBuffer(t *testing.T) {
	var d dispatcher
	buf := make([]byte, 8)
	var seen [][]byte
	d.setFrameCallback(func(b []byte) { seen = append(seen, b) })

	for i := 0; i < 3; i++ {
		d.addBuffer(buf)
		d.deliver([]byte{byte(i), 9})
	}
	if len(seen) != 3 {
		t.Fatalf("callbacks = %d, want 3", len(seen))
	}
	for i, b := range seen {
		if &b[0] != &buf[0] {
			t.Errorf("frame %d not delivered in the submitted buffer", i)
		}
		if len(b) != 2 {
			t.Errorf("frame %d len = %d, want 2", i, len(b))
		}
	}
}

func TestDispatcher_IgnoresEmptyBuffer(t *testing.T) {
	var d dispatcher
	d.addBuffer(nil)
	if st := d.stats(); st.Queued != 0 {
		t.Errorf("queued = %d, want 0", st.Queued)
	}
}

// ---------- Parameters ----------

func TestParameters_FrameBufferSize(t *testing.T) {
	p := &Parameters{PreviewSize: Size{640, 480}, PreviewFormat: PixelFormatNV21}
	if got := p.FrameBufferSize(); got != 460800 {
		t.Errorf("NV21 640x480 = %d, want 460800", got)
	}
	p.PreviewFormat = PixelFormatYUYV
	if got := p.FrameBufferSize(); got != 614400 {
		t.Errorf("YUYV 640x480 = %d, want 614400", got)
	}
}

func TestParameters_CloneIsDeep(t *testing.T) {
	p := &Parameters{PreviewSizes: []Size{{1, 1}}}
	p.Set("k", "v")
	c := p.Clone()
	c.PreviewSizes[0] = Size{2, 2}
	c.Set("k", "changed")
	if p.PreviewSizes[0] != (Size{1, 1}) {
		t.Error("clone shares PreviewSizes")
	}
	if v, _ := p.Get("k"); v != "v" {
		t.Error("clone shares values")
	}
}

func TestParameters_Flatten(t *testing.T) {
	p := &Parameters{PreviewSize: Size{640, 480}, FocusMode: "auto", PreviewFormat: PixelFormatNV21}
	p.Set(KeyExposure, "center-weighted")
	flat := p.Flatten()
	for _, want := range []string{"auto-exposure=center-weighted", "preview-size=640x480", "focus-mode=auto"} {
		if !strings.Contains(flat, want) {
			t.Errorf("Flatten() = %q, missing %q", flat, want)
		}
	}
	if strings.Index(flat, "auto-exposure=") > strings.Index(flat, "preview-size=") {
		t.Error("keys are not sorted")
	}
}

func TestSizeAndRangeStrings(t *testing.T) {
	if s := (Size{640, 480}).String(); s != "[640x480]" {
		t.Errorf("Size.String = %q", s)
	}
	if s := (FpsRange{15, 30}).String(); s != "fps:15->30" {
		t.Errorf("FpsRange.String = %q", s)
	}
}

func TestParseFacing(t *testing.T) {
	if f, err := ParseFacing("front"); err != nil || f != FacingFront {
		t.Errorf("ParseFacing(front) = %v, %v", f, err)
	}
	if _, err := ParseFacing("up"); err == nil {
		t.Error("expected error for unknown facing")
	}
}

// ---------- RenderPattern ----------

func TestRenderPattern_DecodesAtRequestedSize(t *testing.T) {
	data, err := RenderPattern(Size{320, 240}, "test")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Errorf("pattern = %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

func TestRenderPattern_InvalidSize(t *testing.T) {
	if _, err := RenderPattern(Size{0, 10}, "x"); err == nil {
		t.Error("expected error for zero width")
	}
}
