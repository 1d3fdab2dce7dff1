package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/cjeanneret/camdemo/internal/debug"
	"github.com/cjeanneret/camdemo/internal/hw/camera"
	"github.com/cjeanneret/camdemo/internal/logic/exposure"
	"github.com/cjeanneret/camdemo/internal/logic/framerate"
	"github.com/cjeanneret/camdemo/internal/logic/geometry"
)

// Session states.
const (
	StateClosed  = "closed"  // no camera handle
	StateStopped = "stopped" // handle open, preview stopped
	StateRunning = "running" // handle open, preview streaming
)

// fsm events.
const (
	evOpen    = "open"
	evStart   = "start"
	evStop    = "stop"
	evRelease = "release"
)

// ErrNoCamera is returned when no camera faces the requested direction.
var ErrNoCamera = errors.New("session: no camera with requested facing")

// Options configures what a Controller asks of the camera.
type Options struct {
	Facing      camera.Facing
	Preferred   camera.Size // preview size to ask for; default 640x480
	FocusMode   string      // applied when supported; default continuous-video
	Metering    string      // exposure metering to request; default center-weighted
	ReportEvery int         // frames between fps measurements; default 10

	// Now is the clock; default time.Now.
	Now func() time.Time

	// Dispatch forwards events raised by the driver (frames, errors) back
	// into the serialized event stream. It reports false when the event
	// could not be queued. Loop installs its own.
	Dispatch func(Event) bool
}

// Observer is notified on the controller's goroutine.
type Observer interface {
	StateChanged(s Snapshot)
	Measured(m framerate.Measurement)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnState       func(Snapshot)
	OnMeasurement func(framerate.Measurement)
}

func (o ObserverFuncs) StateChanged(s Snapshot) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

func (o ObserverFuncs) Measured(m framerate.Measurement) {
	if o.OnMeasurement != nil {
		o.OnMeasurement(m)
	}
}

// Session describes the currently open camera handle.
type Session struct {
	ID          string      `json:"id"`
	CameraID    int         `json:"camera_id"`
	CameraName  string      `json:"camera_name"`
	PreviewSize camera.Size `json:"preview_size"`
	FocusMode   string      `json:"focus_mode"`
	Metering    string      `json:"metering,omitempty"`
	Orientation int         `json:"orientation"`
	BufferSize  int         `json:"buffer_size"`
	OpenedAt    time.Time   `json:"opened_at"`
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	State         string                 `json:"state"`
	SurfaceReady  bool                   `json:"surface_ready"`
	Resumed       bool                   `json:"resumed"`
	Surface       string                 `json:"surface,omitempty"`
	Session       *Session               `json:"session,omitempty"`
	Acquisitions  int                    `json:"acquisitions"`
	Frames        uint64                 `json:"frames"`
	CaptureErrors int                    `json:"capture_errors"`
	LastFPS       *framerate.Measurement `json:"last_fps,omitempty"`
}

// Controller ties one camera handle to the host's surface and lifecycle
// events. It is not safe for concurrent use: every call must come from
// the same goroutine (see Loop).
type Controller struct {
	platform  camera.Platform
	opts      Options
	machine   *fsm.FSM
	observers []Observer

	surface      camera.Surface
	surfaceReady bool
	resumed      bool

	handle     camera.Handle
	session    *Session
	buffer     []byte
	generation uint64

	counter       framerate.Counter
	last          *framerate.Measurement
	frames        uint64
	acquisitions  int
	captureErrors int
}

// NewController creates a controller in the closed state.
func NewController(p camera.Platform, opts Options) *Controller {
	if opts.Preferred.Width <= 0 || opts.Preferred.Height <= 0 {
		opts.Preferred = camera.Size{Width: 640, Height: 480}
	}
	if opts.FocusMode == "" {
		opts.FocusMode = camera.FocusModeContinuousVideo
	}
	if opts.Metering == "" {
		opts.Metering = exposure.CenterWeighted
	}
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = framerate.DefaultReportEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{platform: p, opts: opts}
	c.machine = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: evOpen, Src: []string{StateClosed}, Dst: StateStopped},
			{Name: evStart, Src: []string{StateStopped}, Dst: StateRunning},
			{Name: evStop, Src: []string{StateRunning}, Dst: StateStopped},
			{Name: evRelease, Src: []string{StateStopped, StateRunning}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"before_" + evOpen: func(_ context.Context, e *fsm.Event) {
				if err := c.acquire(); err != nil {
					e.Cancel(err)
				}
			},
			"before_" + evStart: func(_ context.Context, e *fsm.Event) {
				if err := c.handle.StartPreview(); err != nil {
					e.Cancel(err)
					return
				}
				c.counter = framerate.New(c.opts.Now(), c.opts.ReportEvery)
			},
			"before_" + evStop: func(_ context.Context, e *fsm.Event) {
				if err := c.handle.StopPreview(); err != nil {
					debug.Error(fmt.Errorf("stop preview: %w", err))
				}
			},
			"before_" + evRelease: func(_ context.Context, e *fsm.Event) {
				c.releaseHandle()
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				debug.Transition(e.Event, e.Src, e.Dst)
				s := c.snapshot(e.Dst)
				for _, o := range c.observers {
					o.StateChanged(s)
				}
			},
		},
	)
	return c
}

// Observe registers an observer for state changes and fps measurements.
func (c *Controller) Observe(o Observer) {
	c.observers = append(c.observers, o)
}

// State returns the current lifecycle state.
func (c *Controller) State() string {
	return c.machine.Current()
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	return c.snapshot(c.machine.Current())
}

func (c *Controller) snapshot(state string) Snapshot {
	s := Snapshot{
		State:         state,
		SurfaceReady:  c.surfaceReady,
		Resumed:       c.resumed,
		Acquisitions:  c.acquisitions,
		Frames:        c.frames,
		CaptureErrors: c.captureErrors,
	}
	if c.surface != nil {
		s.Surface = c.surface.Name()
	}
	if c.session != nil {
		cp := *c.session
		s.Session = &cp
	}
	if c.last != nil {
		m := *c.last
		s.LastFPS = &m
	}
	return s
}

// Handle applies one event. Failures are logged and leave the controller
// in a consistent state; nothing is returned to the host.
func (c *Controller) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case SurfaceCreated:
		debug.Live("surface created: %s", surfaceName(ev.Surface))
		c.surface = ev.Surface
		c.surfaceReady = ev.Surface != nil
		c.setup(ctx)
		if c.resumed {
			c.start(ctx)
		}

	case SurfaceChanged:
		debug.Live("surface changed: %s (%dx%d)", surfaceName(ev.Surface), ev.Width, ev.Height)
		if ev.Surface != nil {
			c.surface = ev.Surface
		}
		c.surfaceReady = c.surface != nil
		c.fire(ctx, evStop)
		c.fire(ctx, evRelease)
		c.setup(ctx)
		if c.resumed {
			c.start(ctx)
		}

	case SurfaceDestroyed:
		debug.Live("surface destroyed: %s", surfaceName(c.surface))
		c.surfaceReady = false
		c.fire(ctx, evStop)
		c.fire(ctx, evRelease)
		c.surface = nil

	case Resumed:
		c.resumed = true
		c.setup(ctx)
		c.start(ctx)

	case Paused:
		c.resumed = false
		c.fire(ctx, evStop)

	case CaptureError:
		c.captureErrors++
		debug.Error(fmt.Errorf("got camera error code: %d (%s)", int(ev.Code), ev.Code))

	case FrameDelivered:
		c.onFrame(ev)

	default:
		debug.Warn("ignoring unknown event %v", ev.Kind)
	}
}

// Release stops the preview and releases the camera handle. It is a no-op
// when no handle is open.
func (c *Controller) Release(ctx context.Context) {
	c.fire(ctx, evStop)
	c.fire(ctx, evRelease)
}

// setup opens the camera once the surface is ready.
func (c *Controller) setup(ctx context.Context) {
	if !c.surfaceReady {
		debug.Verbose("setup deferred: surface not ready")
		return
	}
	c.fire(ctx, evOpen)
}

func (c *Controller) start(ctx context.Context) {
	if !c.surfaceReady {
		return
	}
	c.fire(ctx, evStart)
}

// fire triggers a transition if the current state allows it.
func (c *Controller) fire(ctx context.Context, event string) {
	if !c.machine.Can(event) {
		return
	}
	if err := c.machine.Event(ctx, event); err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) && canceled.Err != nil {
			err = canceled.Err
		}
		debug.Error(fmt.Errorf("session %s: %w", event, err))
	}
}

func (c *Controller) pickCamera() (camera.Info, error) {
	cams, err := c.platform.Cameras()
	if err != nil {
		return camera.Info{}, err
	}
	for _, info := range cams {
		if info.Facing == c.opts.Facing {
			return info, nil
		}
	}
	return camera.Info{}, fmt.Errorf("%w (%s)", ErrNoCamera, c.opts.Facing)
}

// acquire opens the camera and negotiates parameters. On failure any
// acquired handle is released and the controller stays closed.
func (c *Controller) acquire() error {
	info, err := c.pickCamera()
	if err != nil {
		return err
	}
	h, err := c.platform.Open(info.ID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", info.ID, err)
	}
	debug.Info("Camera %d (%s, %s) opened", info.ID, info.Name, info.Facing)

	c.generation++
	gen := c.generation
	dispatch := c.opts.Dispatch

	h.SetErrorCallback(func(code camera.ErrorCode) {
		if dispatch == nil || !dispatch(Event{Kind: CaptureError, Code: code, generation: gen}) {
			debug.Error(fmt.Errorf("camera error code %d lost", int(code)))
		}
	})

	if err := h.SetPreviewDisplay(c.surface); err != nil {
		c.abandon(h)
		return fmt.Errorf("can not setup camera: %w", err)
	}

	params, err := h.Parameters()
	if err != nil {
		c.abandon(h)
		return fmt.Errorf("read parameters: %w", err)
	}
	for _, s := range params.PreviewSizes {
		debug.Verbose("supported preview size: %s", s)
	}
	size, ok := geometry.SelectPreviewSize(params.PreviewSizes, c.opts.Preferred)
	if !ok {
		c.abandon(h)
		return errors.New("camera reports no preview sizes")
	}
	params.PreviewSize = size

	for _, r := range params.PreviewFpsRanges {
		debug.Verbose("supported preview fps range: %s", r)
	}
	debug.Verbose("supported metering area: %d", params.MaxNumMeteringAreas)
	if params.SupportsFocusMode(c.opts.FocusMode) {
		params.FocusMode = c.opts.FocusMode
	} else {
		debug.Verbose("focus mode %q not supported, keeping %q", c.opts.FocusMode, params.FocusMode)
	}
	metering := exposure.Apply(params, c.opts.Metering)

	if err := h.SetParameters(params); err != nil {
		c.abandon(h)
		return fmt.Errorf("set parameters: %w", err)
	}
	debug.Info("current preview size: %s", params.PreviewSize)

	orientation := geometry.DisplayOrientation(info.Orientation, geometry.RotationDegrees(c.platform.Rotation()))
	if err := h.SetDisplayOrientation(orientation); err != nil {
		debug.Warn("set display orientation %d: %v", orientation, err)
	}

	bufSize := params.FrameBufferSize()
	buffer := make([]byte, bufSize)
	h.SetPreviewCallbackWithBuffer(func(buf []byte) {
		ev := Event{Kind: FrameDelivered, Frame: buf, At: c.opts.Now(), generation: gen}
		if dispatch == nil || !dispatch(ev) {
			// Nobody will hand the buffer back: do it here or the preview stalls.
			h.AddCallbackBuffer(buffer)
		}
	})
	h.AddCallbackBuffer(buffer)
	debug.Verbose("will use buffer of size: %s (%d bytes), bits per pixel: %d",
		humanize.Bytes(uint64(bufSize)), bufSize, params.PreviewFormat.BitsPerPixel())
	debug.Verbose("%s", params.Flatten())

	c.handle = h
	c.buffer = buffer
	c.acquisitions++
	c.session = &Session{
		ID:          uuid.NewString(),
		CameraID:    info.ID,
		CameraName:  info.Name,
		PreviewSize: params.PreviewSize,
		FocusMode:   params.FocusMode,
		Metering:    metering,
		Orientation: orientation,
		BufferSize:  bufSize,
		OpenedAt:    c.opts.Now(),
	}
	debug.Value("Session", c.session.ID)
	return nil
}

// abandon releases a handle whose setup failed.
func (c *Controller) abandon(h camera.Handle) {
	if err := h.Release(); err != nil {
		debug.Error(fmt.Errorf("release after failed setup: %w", err))
	}
}

func (c *Controller) releaseHandle() {
	if c.handle == nil {
		return
	}
	if err := c.handle.Release(); err != nil {
		debug.Error(fmt.Errorf("release camera: %w", err))
	}
	debug.Info("Camera released (session %s)", c.session.ID)
	c.handle = nil
	c.session = nil
	c.buffer = nil
}

// onFrame counts a delivered frame, hands the buffer straight back to the
// driver and every ReportEvery frames emits a measurement.
func (c *Controller) onFrame(ev Event) {
	if c.handle == nil || ev.generation != c.generation {
		return
	}
	c.frames++
	c.handle.AddCallbackBuffer(c.buffer)
	debug.Trace("got preview bytes: %d", len(ev.Frame))

	next, m, ok := c.counter.Observe(ev.At)
	c.counter = next
	if !ok {
		return
	}
	debug.FPS(m.ElapsedMs, m.FPS, len(ev.Frame))
	c.last = &m
	for _, o := range c.observers {
		o.Measured(m)
	}
}

func surfaceName(s camera.Surface) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name()
}
