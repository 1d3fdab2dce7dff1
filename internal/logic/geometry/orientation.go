package geometry

import "github.com/cjeanneret/camdemo/internal/hw/camera"

// RotationDegrees converts a screen rotation to degrees.
func RotationDegrees(r camera.Rotation) int {
	switch r {
	case camera.Rotation90:
		return 90
	case camera.Rotation180:
		return 180
	case camera.Rotation270:
		return 270
	default:
		return 0
	}
}

// DisplayOrientation returns the clockwise rotation to apply to preview
// frames so they appear upright: (sensor - screen + 360) mod 360.
func DisplayOrientation(sensorDeg, rotationDeg int) int {
	return ((sensorDeg-rotationDeg+360)%360 + 360) % 360
}
