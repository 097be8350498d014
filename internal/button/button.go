// Package button triggers an on-demand refresh from a physical push button
// wired to a GPIO pin.
package button

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	applog "inkcal/internal/log"
)

// debounce swallows contact bounce after a press.
const debounce = 300 * time.Millisecond

// Watch blocks waiting for falling edges on the named pin (button to ground,
// internal pull-up) and calls trigger on each press. It returns when ctx is
// canceled.
func Watch(ctx context.Context, pinName string, trigger func()) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("button: periph host init: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("button: no such pin %q", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("button: configure %s: %w", pinName, err)
	}

	applog.Info("watching button", "pin", pinName)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Short timeout so cancellation is noticed between edges.
		if !pin.WaitForEdge(time.Second) {
			continue
		}
		applog.Info("button pressed", "pin", pinName)
		trigger()

		time.Sleep(debounce)
	}
}
