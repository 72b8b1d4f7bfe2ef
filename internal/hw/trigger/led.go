package trigger

import (
	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/hw/gpio"
)

// BusyLED lights an LED while a capture is in flight.
type BusyLED struct {
	gpio gpio.Driver
	pin  int
}

// NewBusyLED configures pin as an output and switches the LED off.
func NewBusyLED(g gpio.Driver, pin int) (*BusyLED, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &BusyLED{gpio: g, pin: pin}, nil
}

// Set switches the LED on (busy) or off.
func (l *BusyLED) Set(busy bool) {
	level := gpio.Low
	if busy {
		level = gpio.High
	}
	if err := l.gpio.WritePin(l.pin, level); err != nil {
		debug.Error(err)
	}
}
