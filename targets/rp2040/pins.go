//go:build rp2040

package main

import (
	"machine"
)

// outPin and inPin adapt machine.Pin to the hal pin interfaces
type outPin machine.Pin

func newOutPin(p machine.Pin, level bool) outPin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(level)
	return outPin(p)
}

func (p outPin) Set(high bool) error {
	machine.Pin(p).Set(high)
	return nil
}

type inPin machine.Pin

func newInPin(p machine.Pin) inPin {
	p.Configure(machine.PinConfig{Mode: machine.PinInput})
	return inPin(p)
}

func (p inPin) Get() (bool, error) {
	return machine.Pin(p).Get(), nil
}

// edgeIRQ runs the handler from the GPIO interrupt on a falling edge. The
// handler runs to completion before thread code resumes, so Disable has
// nothing to wait for.
type edgeIRQ struct {
	pin machine.Pin
}

func (e *edgeIRQ) Enable(handler func()) error {
	return e.pin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		handler()
	})
}

func (e *edgeIRQ) Disable() error {
	return e.pin.SetInterrupt(0, nil)
}
