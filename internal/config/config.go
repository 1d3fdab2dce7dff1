package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes which camera to open and what to ask of it.
// Driver selects a concrete platform implementation ("mock" or "v4l2").
type CameraConfig struct {
	Driver               string `yaml:"driver"`                 // "mock" or "v4l2"
	Device               string `yaml:"device"`                 // v4l2 device path; empty = first capture device
	Facing               string `yaml:"facing"`                 // "back" or "front"
	SensorOrientationDeg int    `yaml:"sensor_orientation_deg"` // mounting angle of the sensor (0, 90, 180, 270)
	PreferredWidth       int    `yaml:"preferred_width"`        // preview width to ask for (px)
	PreferredHeight      int    `yaml:"preferred_height"`       // preview height to ask for (px)
	FocusMode            string `yaml:"focus_mode"`             // e.g. "continuous-video"
	Metering             string `yaml:"metering"`               // exposure metering to request, e.g. "center-weighted"
	MockFPS              int    `yaml:"mock_fps"`               // frame rate of the mock driver
}

// DisplayConfig describes the screen the preview is shown on.
type DisplayConfig struct {
	RotationDeg int `yaml:"rotation_deg"` // current screen rotation (0, 90, 180, 270)
}

// PreviewConfig tunes the frame-rate instrument.
type PreviewConfig struct {
	ReportEveryFrames int `yaml:"report_every_frames"` // frames between fps measurements
}

// IndicatorConfig is optional: an LED that lights while the preview streams.
type IndicatorConfig struct {
	Pin int `yaml:"pin"` // GPIO pin (BCM). 0 = not used.
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Display   DisplayConfig   `yaml:"display"`
	Preview   PreviewConfig   `yaml:"preview"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// Default values applied by Load for zero fields.
const (
	DefaultDriver            = "mock"
	DefaultFacing            = "back"
	DefaultPreferredWidth    = 640
	DefaultPreferredHeight   = 480
	DefaultFocusMode         = "continuous-video"
	DefaultMetering          = "center-weighted"
	DefaultMockFPS           = 30
	DefaultReportEveryFrames = 10
)

// ValidateConfigPath checks that path names a .yaml file inside a
// directory called "configs" and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, validates them and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Camera.Driver == "" {
		c.Camera.Driver = DefaultDriver
	}
	switch c.Camera.Driver {
	case "mock", "v4l2":
	default:
		return fmt.Errorf("camera.driver must be \"mock\" or \"v4l2\", got %q", c.Camera.Driver)
	}

	if c.Camera.Facing == "" {
		c.Camera.Facing = DefaultFacing
	}
	if c.Camera.Facing != "back" && c.Camera.Facing != "front" {
		return fmt.Errorf("camera.facing must be \"back\" or \"front\", got %q", c.Camera.Facing)
	}

	if !rightAngle(c.Camera.SensorOrientationDeg) {
		return fmt.Errorf("camera.sensor_orientation_deg must be 0, 90, 180 or 270, got %d", c.Camera.SensorOrientationDeg)
	}
	if !rightAngle(c.Display.RotationDeg) {
		return fmt.Errorf("display.rotation_deg must be 0, 90, 180 or 270, got %d", c.Display.RotationDeg)
	}

	if c.Camera.PreferredWidth < 0 || c.Camera.PreferredHeight < 0 {
		return fmt.Errorf("camera preferred size must be positive, got %dx%d", c.Camera.PreferredWidth, c.Camera.PreferredHeight)
	}
	if c.Camera.PreferredWidth == 0 {
		c.Camera.PreferredWidth = DefaultPreferredWidth
	}
	if c.Camera.PreferredHeight == 0 {
		c.Camera.PreferredHeight = DefaultPreferredHeight
	}
	if c.Camera.FocusMode == "" {
		c.Camera.FocusMode = DefaultFocusMode
	}
	if c.Camera.Metering == "" {
		c.Camera.Metering = DefaultMetering
	}

	if c.Camera.MockFPS < 0 || c.Camera.MockFPS > 240 {
		return fmt.Errorf("camera.mock_fps must be between 1 and 240, got %d", c.Camera.MockFPS)
	}
	if c.Camera.MockFPS == 0 {
		c.Camera.MockFPS = DefaultMockFPS
	}

	if c.Preview.ReportEveryFrames < 0 {
		return fmt.Errorf("preview.report_every_frames must be > 0, got %d", c.Preview.ReportEveryFrames)
	}
	if c.Preview.ReportEveryFrames == 0 {
		c.Preview.ReportEveryFrames = DefaultReportEveryFrames
	}

	if c.Indicator.Pin < 0 {
		return fmt.Errorf("indicator.pin must be >= 0, got %d", c.Indicator.Pin)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func rightAngle(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// MockFrameInterval returns the delay between two frames of the mock driver.
func (c *Config) MockFrameInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.MockFPS)
}
