package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/camdemo/internal/hw/camera"
	"github.com/cjeanneret/camdemo/internal/logic/framerate"
)

// ---------- fakes ----------

// fakePlatform hands out recording handles.
type fakePlatform struct {
	cams     []camera.Info
	rotation camera.Rotation
	sizes    []camera.Size
	exposure string
	noExpo   bool
	failBind bool
	startErr error
	handles  []*fakeHandle
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		cams: []camera.Info{
			{ID: 0, Name: "front", Facing: camera.FacingFront, Orientation: 270},
			{ID: 1, Name: "back", Facing: camera.FacingBack, Orientation: 90},
		},
		sizes:    []camera.Size{{Width: 1920, Height: 1080}, {Width: 1280, Height: 720}, {Width: 640, Height: 480}, {Width: 176, Height: 144}},
		exposure: "auto,center-weighted,spot",
	}
}

func (p *fakePlatform) Cameras() ([]camera.Info, error) { return p.cams, nil }
func (p *fakePlatform) Rotation() camera.Rotation       { return p.rotation }

func (p *fakePlatform) Open(id int) (camera.Handle, error) {
	params := &camera.Parameters{
		PreviewSizes:     append([]camera.Size(nil), p.sizes...),
		PreviewFpsRanges: []camera.FpsRange{{Min: 15, Max: 30}},
		FocusModes:       []string{camera.FocusModeAuto, camera.FocusModeContinuousVideo},
		FocusMode:        camera.FocusModeAuto,
		PreviewFormat:    camera.PixelFormatNV21,
	}
	if len(p.sizes) > 0 {
		params.PreviewSize = p.sizes[0]
	}
	if !p.noExpo {
		params.Set(camera.KeyExposureValues, p.exposure)
	}
	h := &fakeHandle{id: id, params: params, failBind: p.failBind, startErr: p.startErr}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePlatform) opens() int { return len(p.handles) }

func (p *fakePlatform) last() *fakeHandle {
	if len(p.handles) == 0 {
		return nil
	}
	return p.handles[len(p.handles)-1]
}

type fakeHandle struct {
	id          int
	params      *camera.Parameters
	failBind    bool
	startErr    error
	calls       []string
	surface     camera.Surface
	orientation int
	onFrame     camera.FrameCallback
	onError     camera.ErrorCallback
	buffers     [][]byte
	submitted   [][]byte
	streaming   bool
	released    bool
}

func (h *fakeHandle) Parameters() (*camera.Parameters, error) { return h.params.Clone(), nil }

func (h *fakeHandle) SetParameters(p *camera.Parameters) error {
	h.calls = append(h.calls, "set-parameters")
	h.params = p.Clone()
	return nil
}

func (h *fakeHandle) SetPreviewDisplay(s camera.Surface) error {
	h.calls = append(h.calls, "bind")
	if h.failBind {
		return errors.New("surface not valid")
	}
	h.surface = s
	return nil
}

func (h *fakeHandle) SetDisplayOrientation(deg int) error {
	h.orientation = deg
	return nil
}

func (h *fakeHandle) SetErrorCallback(cb camera.ErrorCallback)             { h.onError = cb }
func (h *fakeHandle) SetPreviewCallbackWithBuffer(cb camera.FrameCallback) { h.onFrame = cb }

func (h *fakeHandle) AddCallbackBuffer(buf []byte) {
	h.buffers = append(h.buffers, buf)
	h.submitted = append(h.submitted, buf)
}

func (h *fakeHandle) StartPreview() error {
	h.calls = append(h.calls, "start")
	if h.startErr != nil {
		return h.startErr
	}
	h.streaming = true
	return nil
}

func (h *fakeHandle) StopPreview() error {
	h.calls = append(h.calls, "stop")
	h.streaming = false
	return nil
}

func (h *fakeHandle) Release() error {
	h.calls = append(h.calls, "release")
	h.streaming = false
	h.released = true
	return nil
}

// emit pushes a frame into the next queued buffer, like a driver would.
func (h *fakeHandle) emit(frame []byte) bool {
	if len(h.buffers) == 0 || h.onFrame == nil {
		return false
	}
	buf := h.buffers[0]
	h.buffers = h.buffers[1:]
	n := copy(buf, frame)
	h.onFrame(buf[:n])
	return true
}

type fakeSurface struct{ name string }

func (s *fakeSurface) Name() string   { return s.name }
func (s *fakeSurface) Present([]byte) {}
func (s *fakeSurface) Orient(int)     {}

// harness drives a controller synchronously with a fake clock.
type harness struct {
	t        *testing.T
	ctx      context.Context
	platform *fakePlatform
	ctrl     *Controller
	now      time.Time
	queued   []Event
	states   []string
	measured []framerate.Measurement
}

func newHarness(t *testing.T, p *fakePlatform, opts Options) *harness {
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		platform: p,
		now:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	opts.Now = func() time.Time { return h.now }
	opts.Dispatch = func(ev Event) bool {
		h.queued = append(h.queued, ev)
		return true
	}
	h.ctrl = NewController(p, opts)
	h.ctrl.Observe(ObserverFuncs{
		OnState:       func(s Snapshot) { h.states = append(h.states, s.State) },
		OnMeasurement: func(m framerate.Measurement) { h.measured = append(h.measured, m) },
	})
	return h
}

func (h *harness) send(ev Event) {
	h.ctrl.Handle(h.ctx, ev)
}

// drain feeds every event raised by the driver back into the controller.
func (h *harness) drain() {
	for len(h.queued) > 0 {
		ev := h.queued[0]
		h.queued = h.queued[1:]
		h.ctrl.Handle(h.ctx, ev)
	}
}

func (h *harness) wantState(want string) {
	h.t.Helper()
	if got := h.ctrl.State(); got != want {
		h.t.Fatalf("state = %q, want %q", got, want)
	}
}

var surface = &fakeSurface{name: "main"}

// ---------- lifecycle ----------

func TestLifecycle_PauseResumeKeepsHandle(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.wantState(StateClosed)

	h.send(SurfaceCreatedEvent(surface))
	h.wantState(StateStopped)

	h.send(ResumeEvent())
	h.wantState(StateRunning)

	h.send(PauseEvent())
	h.wantState(StateStopped)
	if h.platform.last().released {
		t.Fatal("pause must not release the handle")
	}

	h.send(ResumeEvent())
	h.wantState(StateRunning)

	if n := h.platform.opens(); n != 1 {
		t.Errorf("handle acquired %d times, want 1", n)
	}
	if n := h.ctrl.Snapshot().Acquisitions; n != 1 {
		t.Errorf("acquisitions = %d, want 1", n)
	}
}

func TestLifecycle_ResumeBeforeSurface(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})

	h.send(ResumeEvent())
	h.wantState(StateClosed)
	if h.platform.opens() != 0 {
		t.Fatal("camera opened without a surface")
	}

	h.send(SurfaceCreatedEvent(surface))
	h.wantState(StateRunning)
}

func TestLifecycle_SurfaceDestroyedReleases(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())

	h.send(SurfaceDestroyedEvent())
	h.wantState(StateClosed)

	fh := h.platform.last()
	if !fh.released {
		t.Fatal("surface destruction must release the handle")
	}
	calls := fh.calls
	if len(calls) < 2 || calls[len(calls)-2] != "stop" || calls[len(calls)-1] != "release" {
		t.Errorf("teardown calls = %v, want ... stop, release", calls)
	}
	if s := h.ctrl.Snapshot(); s.SurfaceReady || s.Session != nil {
		t.Errorf("snapshot after destroy = %+v", s)
	}

	// Resume without a surface stays closed.
	h.send(PauseEvent())
	h.send(ResumeEvent())
	h.wantState(StateClosed)
}

func TestLifecycle_SurfaceChangedReopens(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	first := h.platform.last()

	h.send(SurfaceChangedEvent(surface, 1080, 1920))
	h.wantState(StateRunning)
	if !first.released {
		t.Error("old handle not released on surface change")
	}
	if h.platform.opens() != 2 {
		t.Errorf("opens = %d, want 2", h.platform.opens())
	}
}

func TestLifecycle_SurfaceChangedWhilePaused(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceChangedEvent(surface, 640, 480))
	h.wantState(StateStopped)
}

func TestLifecycle_ReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.ctrl.Release(h.ctx)
	h.wantState(StateClosed)

	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	h.ctrl.Release(h.ctx)
	h.ctrl.Release(h.ctx)
	h.wantState(StateClosed)

	releases := 0
	for _, c := range h.platform.last().calls {
		if c == "release" {
			releases++
		}
	}
	if releases != 1 {
		t.Errorf("Release called %d times on the handle, want 1", releases)
	}
}

func TestLifecycle_ObserverSeesTransitions(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	h.send(PauseEvent())
	h.send(SurfaceDestroyedEvent())

	want := []string{StateStopped, StateRunning, StateStopped, StateClosed}
	if len(h.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.states, want)
	}
	for i := range want {
		if h.states[i] != want[i] {
			t.Errorf("state[%d] = %q, want %q", i, h.states[i], want[i])
		}
	}
}

// ---------- failures ----------

func TestSetup_BindFailureLeavesClosed(t *testing.T) {
	p := newFakePlatform()
	p.failBind = true
	h := newHarness(t, p, Options{})

	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	h.wantState(StateClosed)

	for _, fh := range p.handles {
		if !fh.released {
			t.Error("handle leaked after bind failure")
		}
	}
	if n := h.ctrl.Snapshot().Acquisitions; n != 0 {
		t.Errorf("acquisitions = %d, want 0", n)
	}
}

func TestSetup_NoCameraWithFacing(t *testing.T) {
	p := newFakePlatform()
	p.cams = p.cams[:1] // front only
	h := newHarness(t, p, Options{Facing: camera.FacingBack})

	h.send(SurfaceCreatedEvent(surface))
	h.wantState(StateClosed)
	if p.opens() != 0 {
		t.Errorf("opens = %d, want 0", p.opens())
	}
}

func TestSetup_NoPreviewSizes(t *testing.T) {
	p := newFakePlatform()
	p.sizes = nil
	h := newHarness(t, p, Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.wantState(StateClosed)
	if !p.last().released {
		t.Error("handle leaked when no sizes were reported")
	}
}

func TestStart_FailureStaysStopped(t *testing.T) {
	p := newFakePlatform()
	p.startErr = errors.New("busy")
	h := newHarness(t, p, Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	h.wantState(StateStopped)
}

func TestCaptureError_LoggedOnly(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())

	h.platform.last().onError(camera.ErrorServerDied)
	h.drain()

	h.wantState(StateRunning)
	if n := h.ctrl.Snapshot().CaptureErrors; n != 1 {
		t.Errorf("capture errors = %d, want 1", n)
	}
}

// ---------- negotiation ----------

func TestNegotiation_PreferredSizeFocusMetering(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))

	fh := h.platform.last()
	if fh.params.PreviewSize != (camera.Size{Width: 640, Height: 480}) {
		t.Errorf("preview size = %v, want [640x480]", fh.params.PreviewSize)
	}
	if fh.params.FocusMode != camera.FocusModeContinuousVideo {
		t.Errorf("focus mode = %q", fh.params.FocusMode)
	}
	if v, ok := fh.params.Get(camera.KeyExposure); !ok || v != "center-weighted" {
		t.Errorf("auto-exposure = %q, %v", v, ok)
	}
	if fh.surface != surface {
		t.Error("preview display not bound to the surface")
	}

	sess := h.ctrl.Snapshot().Session
	if sess == nil || sess.ID == "" {
		t.Fatal("session missing an id")
	}
	if sess.CameraName != "back" {
		t.Errorf("camera = %q, want back", sess.CameraName)
	}
}

func TestNegotiation_SmallestWhenPreferredMissing(t *testing.T) {
	p := newFakePlatform()
	p.sizes = []camera.Size{{Width: 1280, Height: 720}, {Width: 352, Height: 288}, {Width: 176, Height: 144}, {Width: 144, Height: 176}}
	h := newHarness(t, p, Options{})
	h.send(SurfaceCreatedEvent(surface))
	if got := p.last().params.PreviewSize; got != (camera.Size{Width: 176, Height: 144}) {
		t.Errorf("preview size = %v, want [176x144]", got)
	}
}

func TestNegotiation_MeteringDefaults(t *testing.T) {
	cases := []struct {
		name   string
		values string
		absent bool
	}{
		{"unsupported", "auto,spot", false},
		{"absent", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakePlatform()
			p.exposure = tc.values
			p.noExpo = tc.absent
			h := newHarness(t, p, Options{})
			h.send(SurfaceCreatedEvent(surface))
			h.wantState(StateStopped)
			if _, ok := p.last().params.Get(camera.KeyExposure); ok {
				t.Error("auto-exposure should be left at the driver default")
			}
		})
	}
}

func TestNegotiation_DisplayOrientation(t *testing.T) {
	cases := []struct {
		rotation camera.Rotation
		want     int
	}{
		{camera.Rotation0, 90},
		{camera.Rotation270, 180},
	}
	for _, tc := range cases {
		p := newFakePlatform()
		p.rotation = tc.rotation
		h := newHarness(t, p, Options{})
		h.send(SurfaceCreatedEvent(surface))
		if got := p.last().orientation; got != tc.want {
			t.Errorf("rotation %d: orientation = %d, want %d", tc.rotation, got, tc.want)
		}
	}
}

func TestNegotiation_RecomputesOrientationOnReopen(t *testing.T) {
	p := newFakePlatform()
	h := newHarness(t, p, Options{})
	h.send(SurfaceCreatedEvent(surface))
	p.rotation = camera.Rotation270
	h.send(SurfaceChangedEvent(surface, 1920, 1080))
	if got := p.last().orientation; got != 180 {
		t.Errorf("orientation after rotation = %d, want 180", got)
	}
}

// ---------- frames ----------

func TestFrames_SingleBufferReused(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())

	fh := h.platform.last()
	if len(fh.submitted) != 1 {
		t.Fatalf("buffers submitted at setup = %d, want 1", len(fh.submitted))
	}
	buf := fh.submitted[0]
	if len(buf) != 640*480*12/8 {
		t.Errorf("buffer size = %d, want %d", len(buf), 640*480*12/8)
	}

	for i := 0; i < 5; i++ {
		if !fh.emit([]byte{1, 2, 3}) {
			t.Fatalf("frame %d: no buffer queued", i)
		}
		h.drain()
	}
	for i, b := range fh.submitted {
		if &b[0] != &buf[0] || len(b) != len(buf) {
			t.Errorf("submission %d is not the original buffer", i)
		}
	}
	if got := h.ctrl.Snapshot().Frames; got != 5 {
		t.Errorf("frames = %d, want 5", got)
	}
}

func TestFrames_TenFramesIn500msIs20FPS(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	fh := h.platform.last()

	for i := 0; i < 10; i++ {
		h.now = h.now.Add(50 * time.Millisecond)
		fh.emit([]byte{0})
		h.drain()
	}
	if len(h.measured) != 1 {
		t.Fatalf("measurements = %d, want 1", len(h.measured))
	}
	if h.measured[0].FPS != 20 {
		t.Errorf("fps = %v, want 20", h.measured[0].FPS)
	}
	if last := h.ctrl.Snapshot().LastFPS; last == nil || last.FPS != 20 {
		t.Errorf("snapshot last fps = %+v", last)
	}
}

func TestFrames_StaleFramesIgnored(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(SurfaceCreatedEvent(surface))
	h.send(ResumeEvent())
	old := h.platform.last()
	old.emit([]byte{0}) // queued, not yet handled

	h.send(SurfaceChangedEvent(surface, 800, 600))
	h.drain()

	if got := h.ctrl.Snapshot().Frames; got != 0 {
		t.Errorf("frames = %d, want 0 (frame from released handle)", got)
	}
	if n := len(h.platform.last().submitted); n != 1 {
		t.Errorf("new handle got %d buffers, want 1", n)
	}
}

func TestFrames_IgnoredWhenClosed(t *testing.T) {
	h := newHarness(t, newFakePlatform(), Options{})
	h.send(Event{Kind: FrameDelivered, Frame: []byte{1}, At: h.now})
	if got := h.ctrl.Snapshot().Frames; got != 0 {
		t.Errorf("frames = %d, want 0", got)
	}
}

func TestFrames_LostDispatchResubmitsBuffer(t *testing.T) {
	p := newFakePlatform()
	ctrl := NewController(p, Options{Dispatch: func(Event) bool { return false }})
	ctrl.Handle(context.Background(), SurfaceCreatedEvent(surface))
	ctrl.Handle(context.Background(), ResumeEvent())

	fh := p.last()
	fh.emit([]byte{1})
	if len(fh.buffers) != 1 {
		t.Errorf("queued buffers = %d, want 1 after a lost frame event", len(fh.buffers))
	}
}

// ---------- events ----------

func TestParseLifecycle(t *testing.T) {
	for _, k := range []Kind{SurfaceCreated, SurfaceChanged, SurfaceDestroyed, Resumed, Paused} {
		got, err := ParseLifecycle(k.String())
		if err != nil || got != k {
			t.Errorf("ParseLifecycle(%q) = %v, %v", k.String(), got, err)
		}
	}
	for _, bad := range []string{"frame", "capture-error", "", "RESUME"} {
		if _, err := ParseLifecycle(bad); err == nil {
			t.Errorf("ParseLifecycle(%q) should fail", bad)
		}
	}
}
