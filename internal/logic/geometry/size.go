package geometry

import (
	"github.com/cjeanneret/camdemo/internal/hw/camera"
)

// TargetSize returns the candidate equal to want, if any.
func TargetSize(candidates []camera.Size, want camera.Size) (camera.Size, bool) {
	for _, s := range candidates {
		if s == want {
			return s, true
		}
	}
	return camera.Size{}, false
}

// Smallest returns the candidate with the smallest area. Ties go to the
// earliest candidate. ok is false for an empty list.
func Smallest(candidates []camera.Size) (camera.Size, bool) {
	if len(candidates) == 0 {
		return camera.Size{}, false
	}
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.Area() < best.Area() {
			best = s
		}
	}
	return best, true
}

// SelectPreviewSize picks the preview size for a session: preferred if the
// device supports it exactly, the smallest supported size otherwise.
func SelectPreviewSize(candidates []camera.Size, preferred camera.Size) (camera.Size, bool) {
	if s, ok := TargetSize(candidates, preferred); ok {
		return s, true
	}
	return Smallest(candidates)
}
