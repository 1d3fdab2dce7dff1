package session

import (
	"context"
	"errors"
	"sync"

	"github.com/cjeanneret/camdemo/internal/debug"
)

// ErrLoopClosed is returned when posting to a loop that has stopped.
var ErrLoopClosed = errors.New("session: event loop closed")

// DefaultQueueSize is the event queue depth of a Loop.
const DefaultQueueSize = 64

type request struct {
	ev    Event
	reply chan Snapshot // non-nil for snapshot queries
}

// Loop owns a Controller and feeds it events one at a time from a single
// goroutine, the way a GUI toolkit delivers callbacks on its main thread.
// Post and TryPost may be called from any goroutine.
type Loop struct {
	ctrl      *Controller
	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop wires the controller's driver callbacks into the loop.
// It must be called before the controller handles any event.
func NewLoop(c *Controller, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &Loop{
		ctrl:     c,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
	}
	c.opts.Dispatch = l.TryPost
	return l
}

// Run processes events until ctx is cancelled, then releases the camera.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeOnce.Do(func() { close(l.done) })
	debug.Verbose("session loop started")
	for {
		select {
		case <-ctx.Done():
			l.ctrl.Release(context.Background())
			debug.Verbose("session loop stopped")
			return ctx.Err()
		case req := <-l.requests:
			if req.reply != nil {
				req.reply <- l.ctrl.Snapshot()
				continue
			}
			l.ctrl.Handle(ctx, req.ev)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues an event, waiting for room if the queue is full.
func (l *Loop) Post(ctx context.Context, ev Event) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.requests <- request{ev: ev}:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost queues an event without blocking. It reports false when the
// queue is full or the loop has stopped.
func (l *Loop) TryPost(ev Event) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.requests <- request{ev: ev}:
		return true
	default:
		return false
	}
}

// Snapshot asks the loop for the controller state.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case l.requests <- request{reply: reply}:
	case <-l.done:
		return Snapshot{}, ErrLoopClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-l.done:
		return Snapshot{}, ErrLoopClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
