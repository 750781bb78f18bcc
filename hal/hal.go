// Package hal defines the peripheral capabilities the chip drivers and the
// acquisition loop are written against. Backends live in the target
// packages and in the simulator.
package hal

import (
	"tinygo.org/x/drivers"
)

// SPI is a full-duplex SPI bus, implemented by machine.SPI on TinyGo
type SPI = drivers.SPI

// OutputPin drives a GPIO line
type OutputPin interface {
	Set(high bool) error
}

// InputPin samples a GPIO line
type InputPin interface {
	Get() (bool, error)
}

// PWM is a single PWM output with nanosecond timing
type PWM interface {
	Enable() error
	Disable() error
	SetPeriod(ns uint64) error
	Period() uint64
	SetDutyCycle(ns uint64) error
}

// IRQ delivers edge interrupts. Disable returns only after any handler
// invocation in flight has completed.
type IRQ interface {
	Enable(handler func()) error
	Disable() error
}

// Platform bundles the peripherals a board exposes to one converter
type Platform struct {
	Bus  SPI
	CS   OutputPin
	CNV  OutputPin
	Busy InputPin
	PWM  PWM
	IRQ  IRQ

	// Reset is optional
	Reset OutputPin
}
