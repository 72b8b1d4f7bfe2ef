// Package trigger turns a physical push button into capture requests.
package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/hw/gpio"
)

// Button is a momentary push button wired between a GPIO pin and GND.
// The pin uses the internal pull-up: idle reads HIGH, pressed reads LOW.
type Button struct {
	gpio         gpio.Driver
	pin          int
	pollInterval time.Duration
	debounce     time.Duration
}

// NewButton configures pin as a pulled-up input.
func NewButton(g gpio.Driver, pin int, pollInterval, debounce time.Duration) (*Button, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, err
	}
	return &Button{
		gpio:         g,
		pin:          pin,
		pollInterval: pollInterval,
		debounce:     debounce,
	}, nil
}

// Watch samples the pin until ctx is done and calls onPress once per
// HIGH -> LOW edge. Edges closer than the debounce window to the previous
// press are ignored. A button held down at start does not fire.
func (b *Button) Watch(ctx context.Context, onPress func()) error {
	last, err := b.gpio.ReadPin(b.pin)
	if err != nil {
		return err
	}
	var lastPress time.Time

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		level, err := b.gpio.ReadPin(b.pin)
		if err != nil {
			return err
		}
		if last == gpio.High && level == gpio.Low {
			now := time.Now()
			if lastPress.IsZero() || now.Sub(lastPress) >= b.debounce {
				lastPress = now
				debug.Live("Button on pin %d pressed", b.pin)
				onPress()
			} else {
				debug.Trace("Button on pin %d bounce ignored", b.pin)
			}
		}
		last = level
	}
}
