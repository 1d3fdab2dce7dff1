package session

import (
	"fmt"
	"time"

	"github.com/cjeanneret/camdemo/internal/hw/camera"
)

// Kind identifies an inbound event.
type Kind int

const (
	SurfaceCreated Kind = iota
	SurfaceChanged
	SurfaceDestroyed
	Resumed
	Paused
	CaptureError
	FrameDelivered
)

var kindNames = map[Kind]string{
	SurfaceCreated:   "surface-created",
	SurfaceChanged:   "surface-changed",
	SurfaceDestroyed: "surface-destroyed",
	Resumed:          "resume",
	Paused:           "pause",
	CaptureError:     "capture-error",
	FrameDelivered:   "frame",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseLifecycle maps a host lifecycle name ("surface-created", "resume", ...)
// to its Kind. Platform events (frames, errors) are not accepted.
func ParseLifecycle(name string) (Kind, error) {
	for k, s := range kindNames {
		if s == name && k <= Paused {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle event %q", name)
}

// Event is everything the host and the platform can tell a Controller.
type Event struct {
	Kind Kind

	Surface camera.Surface // SurfaceCreated, SurfaceChanged
	Width   int            // SurfaceChanged
	Height  int            // SurfaceChanged

	Code camera.ErrorCode // CaptureError

	Frame      []byte    // FrameDelivered
	At         time.Time // FrameDelivered
	generation uint64
}

func SurfaceCreatedEvent(s camera.Surface) Event {
	return Event{Kind: SurfaceCreated, Surface: s}
}

func SurfaceChangedEvent(s camera.Surface, width, height int) Event {
	return Event{Kind: SurfaceChanged, Surface: s, Width: width, Height: height}
}

func SurfaceDestroyedEvent() Event { return Event{Kind: SurfaceDestroyed} }
func ResumeEvent() Event           { return Event{Kind: Resumed} }
func PauseEvent() Event            { return Event{Kind: Paused} }

func CaptureErrorEvent(code camera.ErrorCode) Event {
	return Event{Kind: CaptureError, Code: code}
}
