//go:build linux

package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/cjeanneret/camdemo/internal/debug"
)

// Camera-class control IDs (linux/v4l2-controls.h).
const (
	ctrlFocusAuto        v4l2.CtrlID = 0x009a090c // V4L2_CID_FOCUS_AUTO
	ctrlExposureMetering v4l2.CtrlID = 0x009a0919 // V4L2_CID_EXPOSURE_METERING
)

// V4L2 exposure metering menu, in menu order.
var meteringMenu = []string{"average", "center-weighted", "spot", "matrix"}

// V4L2Options describes capture devices that cannot report everything
// a phone camera does: V4L2 has no notion of facing or sensor mounting.
type V4L2Options struct {
	Device      string // device path; empty = every /dev/video* node
	Facing      Facing
	Orientation int
	Rotation    Rotation
}

// V4L2Platform is the Linux implementation of Platform using go4vl.
type V4L2Platform struct {
	opts V4L2Options

	mu   sync.Mutex
	open map[string]bool
}

// NewV4L2Platform creates a V4L2-backed platform.
func NewV4L2Platform(opts V4L2Options) (*V4L2Platform, error) {
	debug.Info("Initializing V4L2 camera driver (go4vl)")
	return &V4L2Platform{opts: opts, open: make(map[string]bool)}, nil
}

func (p *V4L2Platform) paths() ([]string, error) {
	if p.opts.Device != "" {
		return []string{p.opts.Device}, nil
	}
	paths, err := device.GetAllDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("camera: list v4l2 devices: %w", err)
	}
	return paths, nil
}

func (p *V4L2Platform) Cameras() ([]Info, error) {
	paths, err := p.paths()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, len(paths))
	for i, path := range paths {
		infos[i] = Info{ID: i, Name: path, Facing: p.opts.Facing, Orientation: p.opts.Orientation}
	}
	return infos, nil
}

func (p *V4L2Platform) Rotation() Rotation {
	return p.opts.Rotation
}

func (p *V4L2Platform) Open(id int) (Handle, error) {
	paths, err := p.paths()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(paths) {
		return nil, fmt.Errorf("%w: id %d", ErrNoSuchCamera, id)
	}
	path := paths[id]

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open[path] {
		return nil, ErrCameraInUse
	}

	dev, err := device.Open(path, device.WithBufferSize(2))
	if err != nil {
		return nil, fmt.Errorf("camera: open %s: %w", path, err)
	}
	h := &V4L2Handle{platform: p, path: path, dev: dev}
	if err := h.probe(); err != nil {
		dev.Close()
		return nil, err
	}
	p.open[path] = true
	debug.Verbose("Camera: %s opened", path)
	return h, nil
}

func (p *V4L2Platform) released(path string) {
	p.mu.Lock()
	delete(p.open, path)
	p.mu.Unlock()
}

// V4L2Handle is an open V4L2 capture device.
type V4L2Handle struct {
	platform *V4L2Platform
	path     string
	frames   dispatcher

	mu        sync.Mutex
	dev       *device.Device
	fourcc    v4l2.FourCCType
	params    *Parameters
	hasFocus  bool
	hasMeter  bool
	streaming bool
	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
}

// probe builds the Parameters of the device: MJPEG is preferred (frames can
// be shown without decoding), YUYV is the fallback.
func (h *V4L2Handle) probe() error {
	params := &Parameters{}
	for _, candidate := range []struct {
		fourcc v4l2.FourCCType
		format PixelFormat
	}{
		{v4l2.PixelFmtMJPEG, PixelFormatMJPEG},
		{v4l2.PixelFmtYUYV, PixelFormatYUYV},
	} {
		sizes, err := v4l2.GetFormatFrameSizes(h.dev.Fd(), candidate.fourcc)
		if err != nil || len(sizes) == 0 {
			continue
		}
		h.fourcc = candidate.fourcc
		params.PreviewFormat = candidate.format
		for _, s := range sizes {
			params.PreviewSizes = append(params.PreviewSizes, Size{Width: int(s.Size.MinWidth), Height: int(s.Size.MinHeight)})
		}
		break
	}
	if len(params.PreviewSizes) == 0 {
		return fmt.Errorf("camera: %s supports neither MJPEG nor YUYV frame sizes", h.path)
	}

	if pix, err := h.dev.GetPixFormat(); err == nil {
		params.PreviewSize = Size{Width: int(pix.Width), Height: int(pix.Height)}
	} else {
		params.PreviewSize = params.PreviewSizes[0]
	}
	if fps, err := h.dev.GetFrameRate(); err == nil && fps > 0 {
		params.PreviewFpsRanges = []FpsRange{{Min: int(fps), Max: int(fps)}}
	}

	params.FocusModes = []string{FocusModeFixed}
	params.FocusMode = FocusModeFixed
	if _, err := h.dev.GetControl(ctrlFocusAuto); err == nil {
		h.hasFocus = true
		params.FocusModes = append(params.FocusModes, FocusModeContinuousVideo)
	}
	if _, err := h.dev.GetControl(ctrlExposureMetering); err == nil {
		h.hasMeter = true
		params.MaxNumMeteringAreas = 1
		params.Set(KeyExposureValues, "average,center-weighted,spot,matrix")
	}

	h.params = params
	return nil
}

func (h *V4L2Handle) Parameters() (*Parameters, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return nil, ErrReleased
	}
	return h.params.Clone(), nil
}

func (h *V4L2Handle) SetParameters(p *Parameters) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return ErrReleased
	}
	if h.streaming {
		return ErrStreaming
	}

	if err := h.dev.SetPixFormat(v4l2.PixFormat{
		Width:       uint32(p.PreviewSize.Width),
		Height:      uint32(p.PreviewSize.Height),
		PixelFormat: h.fourcc,
		Field:       v4l2.FieldNone,
	}); err != nil {
		return fmt.Errorf("camera: set format %s: %w", p.PreviewSize, err)
	}

	if h.hasFocus && p.FocusMode != h.params.FocusMode {
		var auto v4l2.CtrlValue
		if p.FocusMode == FocusModeContinuousVideo {
			auto = 1
		}
		if err := h.dev.SetControlValue(ctrlFocusAuto, auto); err != nil {
			debug.Warn("Camera: %s: set focus mode %q: %v", h.path, p.FocusMode, err)
		}
	}

	if mode, ok := p.Get(KeyExposure); ok && h.hasMeter {
		for i, m := range meteringMenu {
			if m != mode {
				continue
			}
			if err := h.dev.SetControlValue(ctrlExposureMetering, v4l2.CtrlValue(i)); err != nil {
				debug.Warn("Camera: %s: set metering %q: %v", h.path, mode, err)
			}
		}
	}

	h.params = p.Clone()
	return nil
}

func (h *V4L2Handle) SetPreviewDisplay(s Surface) error {
	if h.isReleased() {
		return ErrReleased
	}
	h.frames.bind(s)
	return nil
}

func (h *V4L2Handle) SetDisplayOrientation(degrees int) error {
	if h.isReleased() {
		return ErrReleased
	}
	h.frames.orient(degrees)
	return nil
}

func (h *V4L2Handle) SetErrorCallback(cb ErrorCallback)             { h.frames.setErrorCallback(cb) }
func (h *V4L2Handle) SetPreviewCallbackWithBuffer(cb FrameCallback) { h.frames.setFrameCallback(cb) }
func (h *V4L2Handle) AddCallbackBuffer(buf []byte)                  { h.frames.addBuffer(buf) }

func (h *V4L2Handle) StartPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return ErrReleased
	}
	if h.streaming {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.dev.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("camera: start %s: %w", h.path, err)
	}
	h.streaming = true
	h.cancel = cancel
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.stream(h.dev.GetOutput(), h.stop, h.done)
	debug.Verbose("Camera: %s streaming", h.path)
	return nil
}

func (h *V4L2Handle) stream(out <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-out:
			if !ok {
				h.frames.fail(ErrorStreamEnded)
				return
			}
			if len(frame) == 0 {
				continue
			}
			h.frames.deliver(frame)
		}
	}
}

func (h *V4L2Handle) StopPreview() error {
	h.mu.Lock()
	if !h.streaming {
		h.mu.Unlock()
		return nil
	}
	h.streaming = false
	cancel, stop, done, dev := h.cancel, h.stop, h.done, h.dev
	h.cancel, h.stop, h.done = nil, nil, nil
	h.mu.Unlock()

	close(stop)
	cancel()
	<-done
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("camera: stop %s: %w", h.path, err)
	}
	debug.Verbose("Camera: %s stopped", h.path)
	return nil
}

func (h *V4L2Handle) Release() error {
	stopErr := h.StopPreview()

	h.mu.Lock()
	dev := h.dev
	h.dev = nil
	h.mu.Unlock()
	if dev == nil {
		return stopErr
	}

	h.frames.reset()
	h.platform.released(h.path)
	if err := dev.Close(); err != nil {
		return fmt.Errorf("camera: close %s: %w", h.path, err)
	}
	debug.Verbose("Camera: %s released", h.path)
	return stopErr
}

func (h *V4L2Handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev == nil
}
