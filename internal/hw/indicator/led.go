// Package indicator drives a "preview running" LED from session state.
package indicator

import (
	"fmt"

	"github.com/cjeanneret/camdemo/internal/debug"
	"github.com/cjeanneret/camdemo/internal/hw/gpio"
	"github.com/cjeanneret/camdemo/internal/logic/framerate"
	"github.com/cjeanneret/camdemo/internal/logic/session"
)

// LED lights while the preview is running. It implements session.Observer.
type LED struct {
	driver gpio.Driver
	pin    int
	lit    bool
}

// NewLED sets pin up as an output, starting low.
func NewLED(driver gpio.Driver, pin int) (*LED, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("indicator: invalid pin %d", pin)
	}
	if err := driver.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("indicator: setup pin %d: %w", pin, err)
	}
	if err := driver.WritePin(pin, gpio.Low); err != nil {
		return nil, fmt.Errorf("indicator: write pin %d: %w", pin, err)
	}
	return &LED{driver: driver, pin: pin}, nil
}

// StateChanged switches the LED on entering running and off on leaving it.
func (l *LED) StateChanged(s session.Snapshot) {
	want := s.State == session.StateRunning
	if want == l.lit {
		return
	}
	level := gpio.Low
	if want {
		level = gpio.High
	}
	if err := l.driver.WritePin(l.pin, level); err != nil {
		debug.Error(fmt.Errorf("indicator: %w", err))
		return
	}
	l.lit = want
}

func (l *LED) Measured(framerate.Measurement) {}

// Off turns the LED off; call on shutdown.
func (l *LED) Off() error {
	l.lit = false
	return l.driver.WritePin(l.pin, gpio.Low)
}
