package camera

import (
	"fmt"
	"sort"
	"strings"
)

// Free-form parameter keys.
const (
	KeyExposureValues = "auto-exposure-values" // comma-separated supported metering methods
	KeyExposure       = "auto-exposure"        // requested metering method
)

// Focus modes.
const (
	FocusModeFixed           = "fixed"
	FocusModeAuto            = "auto"
	FocusModeContinuousVideo = "continuous-video"
)

// Size is a frame size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns Width*Height without risk of int overflow on 32-bit hosts.
func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("[%dx%d]", s.Width, s.Height)
}

// FpsRange is a supported preview frame-rate range.
type FpsRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r FpsRange) String() string {
	return fmt.Sprintf("fps:%d->%d", r.Min, r.Max)
}

// PixelFormat names the encoding of preview frames.
type PixelFormat string

const (
	PixelFormatNV21  PixelFormat = "nv21"
	PixelFormatYUYV  PixelFormat = "yuyv"
	PixelFormatMJPEG PixelFormat = "mjpeg"
)

// BitsPerPixel returns the storage cost of one pixel. Compressed formats
// report the YUYV cost, an upper bound for a frame.
func (f PixelFormat) BitsPerPixel() int {
	switch f {
	case PixelFormatNV21:
		return 12
	default:
		return 16
	}
}

// Parameters are the capture parameters of an open camera.
type Parameters struct {
	PreviewSizes        []Size
	PreviewFpsRanges    []FpsRange
	FocusModes          []string
	PreviewSize         Size
	FocusMode           string
	PreviewFormat       PixelFormat
	MaxNumMeteringAreas int

	values map[string]string
}

// Get returns a free-form parameter; ok is false if it is absent.
func (p *Parameters) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set stores a free-form parameter.
func (p *Parameters) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[key] = value
}

// SupportsFocusMode reports whether mode is in FocusModes.
func (p *Parameters) SupportsFocusMode(mode string) bool {
	for _, m := range p.FocusModes {
		if m == mode {
			return true
		}
	}
	return false
}

// FrameBufferSize returns the bytes needed to hold one preview frame.
func (p *Parameters) FrameBufferSize() int {
	return p.PreviewFormat.BitsPerPixel() * p.PreviewSize.Width * p.PreviewSize.Height / 8
}

// Clone returns a deep copy, so drivers never share state with callers.
func (p *Parameters) Clone() *Parameters {
	c := *p
	c.PreviewSizes = append([]Size(nil), p.PreviewSizes...)
	c.PreviewFpsRanges = append([]FpsRange(nil), p.PreviewFpsRanges...)
	c.FocusModes = append([]string(nil), p.FocusModes...)
	c.values = make(map[string]string, len(p.values))
	for k, v := range p.values {
		c.values[k] = v
	}
	return &c
}

// Flatten renders all parameters as "key=value;key=value" with sorted keys.
func (p *Parameters) Flatten() string {
	kv := map[string]string{
		"preview-size":             fmt.Sprintf("%dx%d", p.PreviewSize.Width, p.PreviewSize.Height),
		"preview-format":           string(p.PreviewFormat),
		"focus-mode":               p.FocusMode,
		"focus-mode-values":        strings.Join(p.FocusModes, ","),
		"max-num-metering-areas":   fmt.Sprint(p.MaxNumMeteringAreas),
		"preview-size-values":      joinSizes(p.PreviewSizes),
		"preview-fps-range-values": joinRanges(p.PreviewFpsRanges),
	}
	for k, v := range p.values {
		kv[k] = v
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + kv[k]
	}
	return strings.Join(parts, ";")
}

func joinSizes(sizes []Size) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = fmt.Sprintf("%dx%d", s.Width, s.Height)
	}
	return strings.Join(parts, ",")
}

func joinRanges(ranges []FpsRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = fmt.Sprintf("(%d,%d)", r.Min, r.Max)
	}
	return strings.Join(parts, ",")
}
