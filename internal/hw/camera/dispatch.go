package camera

import (
	"sync"

	"github.com/cjeanneret/camdemo/internal/debug"
)

// dispatcher is the driver-side half of the preview callback contract,
// shared by every Handle implementation: it owns the queue of submitted
// callback buffers, the bound surface and the registered callbacks.
type dispatcher struct {
	mu          sync.Mutex
	surface     Surface
	orientation int
	onFrame     FrameCallback
	onError     ErrorCallback
	buffers     [][]byte

	delivered uint64
	dropped   uint64
}

func (d *dispatcher) bind(s Surface) {
	d.mu.Lock()
	d.surface = s
	if s != nil {
		s.Orient(d.orientation)
	}
	d.mu.Unlock()
}

func (d *dispatcher) orient(degrees int) {
	d.mu.Lock()
	d.orientation = degrees
	s := d.surface
	d.mu.Unlock()
	if s != nil {
		s.Orient(degrees)
	}
}

func (d *dispatcher) setFrameCallback(cb FrameCallback) {
	d.mu.Lock()
	d.onFrame = cb
	d.mu.Unlock()
}

func (d *dispatcher) setErrorCallback(cb ErrorCallback) {
	d.mu.Lock()
	d.onError = cb
	d.mu.Unlock()
}

func (d *dispatcher) addBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	d.mu.Lock()
	d.buffers = append(d.buffers, buf)
	d.mu.Unlock()
}

// deliver renders frame on the bound surface and, if a callback buffer is
// queued, copies the frame into it and hands it to the frame callback.
func (d *dispatcher) deliver(frame []byte) {
	d.mu.Lock()
	s := d.surface
	cb := d.onFrame
	var buf []byte
	if cb != nil {
		if len(d.buffers) == 0 {
			d.dropped++
			d.mu.Unlock()
			if s != nil {
				s.Present(frame)
			}
			debug.Trace("Camera: no callback buffer queued, frame dropped")
			return
		}
		buf = d.buffers[0]
		d.buffers = d.buffers[1:]
		d.delivered++
	}
	d.mu.Unlock()

	if s != nil {
		s.Present(frame)
	}
	if cb != nil {
		n := copy(buf, frame)
		cb(buf[:n])
	}
}

func (d *dispatcher) fail(code ErrorCode) {
	d.mu.Lock()
	cb := d.onError
	d.mu.Unlock()
	if cb != nil {
		cb(code)
	}
}

// reset forgets everything bound to the handle.
func (d *dispatcher) reset() {
	d.mu.Lock()
	d.surface = nil
	d.onFrame = nil
	d.onError = nil
	d.buffers = nil
	d.mu.Unlock()
}

// Stats is a snapshot of a handle's callback-buffer accounting.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

func (d *dispatcher) stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Delivered: d.delivered, Dropped: d.dropped, Queued: len(d.buffers)}
}
