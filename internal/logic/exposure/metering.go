package exposure

import (
	"strings"

	"github.com/cjeanneret/camdemo/internal/debug"
	"github.com/cjeanneret/camdemo/internal/hw/camera"
)

// CenterWeighted is the metering method requested by default.
const CenterWeighted = "center-weighted"

// Methods splits a comma-separated capability string into a set of tokens.
func Methods(values string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range strings.Split(values, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			set[m] = struct{}{}
		}
	}
	return set
}

// Negotiate decides whether to request the metering method want, given the
// driver's capability string. ok is false when the driver does not report
// the capability at all; that leaves the driver default, same as an
// unsupported method.
func Negotiate(values string, ok bool, want string) (string, bool) {
	if !ok {
		return "", false
	}
	if _, supported := Methods(values)[want]; supported {
		return want, true
	}
	return "", false
}

// NegotiateMetering asks for center-weighted metering.
func NegotiateMetering(values string, ok bool) (string, bool) {
	return Negotiate(values, ok, CenterWeighted)
}

// Apply reads the driver capability from p and, when want is supported,
// requests it. It returns the requested method, or "" for the default.
func Apply(p *camera.Parameters, want string) string {
	values, ok := p.Get(camera.KeyExposureValues)
	debug.Verbose("supported exposure metering methods: %q (reported=%v)", values, ok)
	mode, set := Negotiate(values, ok, want)
	if !set {
		return ""
	}
	p.Set(camera.KeyExposure, mode)
	return mode
}
