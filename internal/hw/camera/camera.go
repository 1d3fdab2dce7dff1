package camera

import (
	"errors"
	"fmt"
)

// Platform is the camera subsystem of the host: it enumerates cameras,
// hands out exclusive handles and knows the current screen rotation.
// Implementations: MockPlatform (simulated, for dev/test) and
// V4L2Platform (Linux capture devices).
type Platform interface {
	Cameras() ([]Info, error)
	Open(id int) (Handle, error)
	Rotation() Rotation
}

// Handle is an open camera device. It is exclusively owned by whoever
// opened it until Release.
type Handle interface {
	Parameters() (*Parameters, error)
	SetParameters(p *Parameters) error

	// SetPreviewDisplay binds the preview stream to a display surface.
	SetPreviewDisplay(s Surface) error
	SetDisplayOrientation(degrees int) error

	SetErrorCallback(cb ErrorCallback)
	// SetPreviewCallbackWithBuffer registers cb for every preview frame.
	// Frames are only delivered into buffers submitted with AddCallbackBuffer;
	// a frame arriving while no buffer is queued is dropped.
	SetPreviewCallbackWithBuffer(cb FrameCallback)
	AddCallbackBuffer(buf []byte)

	StartPreview() error
	StopPreview() error
	Release() error
}

// Surface is a display target the platform renders preview frames onto.
type Surface interface {
	Name() string
	Present(frame []byte)
	Orient(degrees int)
}

// FrameCallback receives a filled callback buffer. It is called from the
// driver's goroutine and must not block.
type FrameCallback func(buf []byte)

// ErrorCallback receives asynchronous capture errors.
type ErrorCallback func(code ErrorCode)

// Facing is the direction a camera points to relative to the screen.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// ParseFacing converts "back"/"front" to a Facing.
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	}
	return FacingBack, fmt.Errorf("unknown camera facing %q", s)
}

// Info describes one camera as reported by the platform.
type Info struct {
	ID          int
	Name        string
	Facing      Facing
	Orientation int // sensor orientation in degrees (0, 90, 180, 270)
}

// Rotation is the screen rotation reported by the host.
type Rotation int

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// RotationFromDegrees converts 0/90/180/270 to a Rotation.
// Anything else maps to Rotation0.
func RotationFromDegrees(deg int) Rotation {
	switch deg {
	case 90:
		return Rotation90
	case 180:
		return Rotation180
	case 270:
		return Rotation270
	}
	return Rotation0
}

// ErrorCode is an asynchronous capture error reported by a driver.
type ErrorCode int

const (
	ErrorUnknown     ErrorCode = 1
	ErrorEvicted     ErrorCode = 2
	ErrorServerDied  ErrorCode = 100
	ErrorStreamEnded ErrorCode = 200
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "unknown"
	case ErrorEvicted:
		return "evicted"
	case ErrorServerDied:
		return "server died"
	case ErrorStreamEnded:
		return "stream ended"
	}
	return fmt.Sprintf("code %d", int(c))
}

// Errors
var (
	ErrCameraInUse  = errors.New("camera: device already open")
	ErrReleased     = errors.New("camera: handle released")
	ErrNoSuchCamera = errors.New("camera: no such camera")
	ErrStreaming    = errors.New("camera: preview is running")
)
