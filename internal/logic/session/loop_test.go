package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/camdemo/internal/hw/camera"
)

func startLoop(t *testing.T, p camera.Platform) (*Loop, context.CancelFunc) {
	t.Helper()
	ctrl := NewController(p, Options{})
	loop := NewLoop(ctrl, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

// waitFor polls the loop until cond holds or the deadline expires.
func waitFor(t *testing.T, loop *Loop, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s, err := loop.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoop_MockPreviewMeasuresFPS(t *testing.T) {
	p := camera.NewMockPlatform(camera.MockOptions{FrameInterval: 2 * time.Millisecond})
	loop, _ := startLoop(t, p)
	ctx := context.Background()

	if err := loop.Post(ctx, SurfaceCreatedEvent(surface)); err != nil {
		t.Fatal(err)
	}
	if err := loop.Post(ctx, ResumeEvent()); err != nil {
		t.Fatal(err)
	}

	s := waitFor(t, loop, func(s Snapshot) bool { return s.LastFPS != nil })
	if s.State != StateRunning {
		t.Errorf("state = %q, want running", s.State)
	}
	if s.Frames < 10 {
		t.Errorf("frames = %d, want >= 10", s.Frames)
	}
	if s.LastFPS.Frames != 10 {
		t.Errorf("measurement frames = %d, want 10", s.LastFPS.Frames)
	}
	if h := p.OpenHandle(0); h == nil || h.Stats().Delivered == 0 {
		t.Error("mock handle did not deliver frames")
	}
}

func TestLoop_PauseThenCancelReleases(t *testing.T) {
	p := camera.NewMockPlatform(camera.MockOptions{FrameInterval: 2 * time.Millisecond})
	loop, cancel := startLoop(t, p)
	ctx := context.Background()

	for _, ev := range []Event{SurfaceCreatedEvent(surface), ResumeEvent(), PauseEvent()} {
		if err := loop.Post(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, loop, func(s Snapshot) bool { return s.State == StateStopped && !s.Resumed })

	h := p.OpenHandle(0)
	if h == nil {
		t.Fatal("pause released the camera")
	}
	if h.Streaming() {
		t.Error("preview still streaming after pause")
	}

	cancel()
	<-loop.Done()
	if p.OpenHandle(0) != nil {
		t.Error("camera still open after the loop stopped")
	}
	if err := loop.Post(ctx, ResumeEvent()); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("Post after stop = %v, want ErrLoopClosed", err)
	}
	if loop.TryPost(ResumeEvent()) {
		t.Error("TryPost after stop should fail")
	}
	if _, err := loop.Snapshot(ctx); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("Snapshot after stop = %v, want ErrLoopClosed", err)
	}
}

func TestLoop_CaptureErrorReachesController(t *testing.T) {
	p := camera.NewMockPlatform(camera.MockOptions{})
	loop, _ := startLoop(t, p)
	ctx := context.Background()

	if err := loop.Post(ctx, SurfaceCreatedEvent(surface)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, loop, func(s Snapshot) bool { return s.State == StateStopped })

	p.OpenHandle(0).EmitError(camera.ErrorEvicted)
	waitFor(t, loop, func(s Snapshot) bool { return s.CaptureErrors == 1 })
}
