package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cjeanneret/camdemo/internal/config"
	"github.com/cjeanneret/camdemo/internal/debug"
	"github.com/cjeanneret/camdemo/internal/hw/camera"
	"github.com/cjeanneret/camdemo/internal/hw/gpio"
	"github.com/cjeanneret/camdemo/internal/hw/indicator"
	"github.com/cjeanneret/camdemo/internal/logic/session"
	"github.com/cjeanneret/camdemo/internal/web"
)

// cliOverrides are the camera settings that can be given on the command line.
// Zero values mean "use config".
type cliOverrides struct {
	Driver string
	Device string
	Width  int
	Height int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	driver := flag.String("driver", "", "override camera driver (mock or v4l2)")
	device := flag.String("device", "", "override v4l2 device path")
	width := flag.Int("width", 0, "override preferred preview width in px")
	height := flag.Int("height", 0, "override preferred preview height in px")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{Driver: *driver, Device: *device, Width: *width, Height: *height}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Camera config", cfg.Camera)

	debug.Step(1, "Initializing camera platform")
	platform, err := newPlatformFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}

	debug.Step(2, "Creating session controller")
	facing, _ := camera.ParseFacing(cfg.Camera.Facing) // validated by config.Load
	ctrl := session.NewController(platform, session.Options{
		Facing:      facing,
		Preferred:   camera.Size{Width: cfg.Camera.PreferredWidth, Height: cfg.Camera.PreferredHeight},
		FocusMode:   cfg.Camera.FocusMode,
		Metering:    cfg.Camera.Metering,
		ReportEvery: cfg.Preview.ReportEveryFrames,
	})
	loop := session.NewLoop(ctrl, session.DefaultQueueSize)

	if cfg.Indicator.Pin > 0 {
		debug.Step(3, "Initializing preview indicator")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		led, err := indicator.NewLED(gpioDriver, cfg.Indicator.Pin)
		if err != nil {
			log.Fatalf("init indicator failed: %v", err)
		}
		defer led.Off()
		ctrl.Observe(led)
	}

	// The loop outlives ctx so the host can report its shutdown events.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		ctrl.Observe(web.SessionObserver(broadcaster))

		srv, err := web.NewServer(webAddr, broadcaster, loop, web.NewPreviewSurface("browser"), configView(cfg))
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
	} else if err := runHeadless(ctx, loop, newLogSurface("console")); err != nil {
		log.Printf("headless preview: %v", err)
	}

	stopLoop() // releases the camera if a page left it open
	<-loopDone
}

// runHeadless plays the host side of the lifecycle without a GUI: the
// surface appears and the app resumes at start, then pauses and loses its
// surface once ctx is done. It returns after the loop has handled both.
func runHeadless(ctx context.Context, loop *session.Loop, surface camera.Surface) error {
	debug.Section("Preview (headless, Ctrl-C to stop)")
	for _, ev := range []session.Event{session.SurfaceCreatedEvent(surface), session.ResumeEvent()} {
		if err := loop.Post(ctx, ev); err != nil {
			return err
		}
	}
	<-ctx.Done()

	debug.Section("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ev := range []session.Event{session.PauseEvent(), session.SurfaceDestroyedEvent()} {
		if err := loop.Post(stopCtx, ev); err != nil {
			return err
		}
	}
	// Snapshot queries queue behind events, so this waits for both.
	s, err := loop.Snapshot(stopCtx)
	if err != nil {
		return err
	}
	debug.Info("Preview stopped after %d frames (%d capture errors)", s.Frames, s.CaptureErrors)
	return nil
}

// logSurface stands in for a display when there is none: it counts frames
// and logs orientation changes.
type logSurface struct {
	name   string
	frames atomic.Uint64
}

func newLogSurface(name string) *logSurface {
	return &logSurface{name: name}
}

func (s *logSurface) Name() string { return s.name }

func (s *logSurface) Present(frame []byte) {
	n := s.frames.Add(1)
	debug.Trace("%s: frame %d (%d bytes)", s.name, n, len(frame))
}

func (s *logSurface) Orient(degrees int) {
	debug.Live("%s: display orientation %d°", s.name, degrees)
}

// validateCLIOverrides checks the non-zero CLI overrides.
func validateCLIOverrides(o cliOverrides) error {
	switch o.Driver {
	case "", "mock", "v4l2":
	default:
		return fmt.Errorf("driver must be mock or v4l2, got %q", o.Driver)
	}
	if o.Width < 0 || o.Width > 8192 {
		return fmt.Errorf("width must be between 1 and 8192, got %d", o.Width)
	}
	if o.Height < 0 || o.Height > 8192 {
		return fmt.Errorf("height must be between 1 and 8192, got %d", o.Height)
	}
	if (o.Width == 0) != (o.Height == 0) {
		return fmt.Errorf("width and height must be given together, got %dx%d", o.Width, o.Height)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Driver != "" {
		cfg.Camera.Driver = o.Driver
	}
	if o.Device != "" {
		cfg.Camera.Device = o.Device
	}
	if o.Width > 0 && o.Height > 0 {
		cfg.Camera.PreferredWidth = o.Width
		cfg.Camera.PreferredHeight = o.Height
	}
}

func configView(cfg *config.Config) web.ConfigView {
	return web.ConfigView{
		Driver:            cfg.Camera.Driver,
		Facing:            cfg.Camera.Facing,
		PreferredWidth:    cfg.Camera.PreferredWidth,
		PreferredHeight:   cfg.Camera.PreferredHeight,
		FocusMode:         cfg.Camera.FocusMode,
		Metering:          cfg.Camera.Metering,
		ReportEveryFrames: cfg.Preview.ReportEveryFrames,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newPlatformFromConfig selects a camera platform based on configuration.
func newPlatformFromConfig(cfg *config.Config) (camera.Platform, error) {
	facing, err := camera.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}
	rotation := camera.RotationFromDegrees(cfg.Display.RotationDeg)

	switch cfg.Camera.Driver {
	case "mock":
		sensor := cfg.Camera.SensorOrientationDeg
		return camera.NewMockPlatform(camera.MockOptions{
			Cameras: []camera.Info{
				{ID: 0, Name: "mock-back", Facing: camera.FacingBack, Orientation: sensor},
				{ID: 1, Name: "mock-front", Facing: camera.FacingFront, Orientation: (sensor + 180) % 360},
			},
			Rotation:      rotation,
			FrameInterval: cfg.MockFrameInterval(),
		}), nil
	case "v4l2":
		p, err := camera.NewV4L2Platform(camera.V4L2Options{
			Device:      cfg.Camera.Device,
			Facing:      facing,
			Orientation: cfg.Camera.SensorOrientationDeg,
			Rotation:    rotation,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported camera driver: %s", cfg.Camera.Driver)
	}
}
