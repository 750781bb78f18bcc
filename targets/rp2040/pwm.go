//go:build rp2040

package main

import (
	"errors"
	"machine"
)

var errPWMOff = errors.New("pwm: not configured")

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// slicePWM drives CNV from one of the 8 hardware PWM slices. It serves
// when no PIO state machine is free. Set hands the pin back to GPIO for
// software pulses until the next Enable.
type slicePWM struct {
	group   pwmPeripheral
	pin     machine.Pin
	channel uint8

	period uint64
	duty   uint64
	on     bool
	gpio   bool
}

// newSlicePWM picks the slice wired to pin
//
//	Slice:   (N >> 1) & 0x7
//	Channel: N & 1 (even=A, odd=B)
func newSlicePWM(pin machine.Pin) *slicePWM {
	p := &slicePWM{group: pwmGroup(uint8((uint32(pin) >> 1) & 0x7)), pin: pin}
	_ = p.Set(false)
	return p
}

func (p *slicePWM) Set(high bool) error {
	if !p.gpio {
		p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.gpio = true
	}
	p.pin.Set(high)
	return nil
}

func (p *slicePWM) SetPeriod(ns uint64) error {
	if err := p.group.Configure(machine.PWMConfig{Period: ns}); err != nil {
		return err
	}
	ch, err := p.group.Channel(p.pin)
	if err != nil {
		return err
	}
	p.channel = ch
	p.period = ns
	if p.on {
		p.apply()
	}
	return nil
}

func (p *slicePWM) Period() uint64 {
	return p.period
}

func (p *slicePWM) SetDutyCycle(ns uint64) error {
	if ns > p.period {
		return errPWMOff
	}
	p.duty = ns
	if p.on {
		p.apply()
	}
	return nil
}

func (p *slicePWM) apply() {
	top := uint64(p.group.Top())
	p.group.Set(p.channel, uint32(p.duty*top/p.period))
}

func (p *slicePWM) Enable() error {
	if p.period == 0 {
		return errPWMOff
	}
	if p.gpio {
		p.pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
		p.gpio = false
	}
	p.on = true
	p.apply()
	return nil
}

// Disable holds the output low; the slice keeps counting
func (p *slicePWM) Disable() error {
	p.on = false
	if p.period != 0 && !p.gpio {
		p.group.Set(p.channel, 0)
	}
	return nil
}

func pwmGroup(slice uint8) pwmPeripheral {
	switch slice {
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	default:
		return machine.PWM0
	}
}
