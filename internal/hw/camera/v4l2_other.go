//go:build !linux

package camera

import "errors"

// V4L2Options describes capture devices; see the linux build.
type V4L2Options struct {
	Device      string
	Facing      Facing
	Orientation int
	Rotation    Rotation
}

// V4L2Platform is only available on Linux.
type V4L2Platform struct{ MockPlatform }

// NewV4L2Platform always fails outside Linux.
func NewV4L2Platform(opts V4L2Options) (*V4L2Platform, error) {
	return nil, errors.New("camera: the v4l2 driver requires Linux (use driver \"mock\")")
}
