//go:build rp2040

// Package pio generates converter start pulses with an RP2040 PIO state
// machine, giving a CNV train with no CPU involvement and cycle-exact
// spacing.
package pio

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// PIO program for a fixed-width pulse train.
// The TX FIFO holds one word: the low-time loop count for a period.
//
// Program flow:
//  1. Pull a new word, or copy X when the FIFO is empty
//  2. Keep it in X so the next period can copy it again
//  3. Pull again (FIFO empty, so OSR = X) and move it into Y
//  4. Raise CNV for pulseCycles, drop it
//  5. Spin Y down, then wrap
func buildCNVProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, false).Encode(),                    // 0: pull noblock
		asm.Out(rp2pio.OutDestX, 32).Encode(),              // 1: out x, 32
		asm.Pull(false, false).Encode(),                    // 2: pull noblock
		asm.Out(rp2pio.OutDestY, 32).Encode(),              // 3: out y, 32
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(),   // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),            // 5: set pins, 0
		asm.Jmp(cnvOrigin+6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		// .wrap
	}
}

const (
	cnvOrigin = 0

	// Cycles spent outside the low-time loop in one period
	fixedCycles = 13
	// CNV high time in PIO cycles
	pulseCycles = 8

	nsPerSecond = 1000000000
)

var (
	ErrNoStateMachine = errors.New("pio: no free state machine")
	ErrPeriod         = errors.New("pio: period out of range")
	ErrRunning        = errors.New("pio: pulse train running")
)

// CNV is a hal.PWM that drives one pin from a PIO state machine. The pulse
// width is fixed at pulseCycles of the system clock; SetDutyCycle only
// checks that the requested width fits in the period.
type CNV struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	pin    machine.Pin
	offset uint8
	cfg    rp2pio.StateMachineConfig

	period  uint64
	cycles  uint32
	enabled bool
}

// NewCNV claims a state machine, loads the program and drives the pin
// low. The train starts at Enable.
func NewCNV(pin machine.Pin) (*CNV, error) {
	pioNum, smNum, ok := allocate()
	if !ok {
		return nil, ErrNoStateMachine
	}
	hw := rp2pio.PIO0
	if pioNum == 1 {
		hw = rp2pio.PIO1
	}
	c := &CNV{pio: hw, sm: hw.StateMachine(smNum), pin: pin}
	c.sm.TryClaim()

	program := buildCNVProgram()
	offset, err := c.pio.AddProgram(program, cnvOrigin)
	if err != nil {
		release(pioNum, smNum)
		return nil, err
	}
	c.offset = offset

	c.pin.Configure(machine.PinConfig{Mode: c.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(c.pin, 1)
	// Explicit pulls only
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1, 0)
	c.cfg = cfg

	c.sm.Init(c.offset, c.cfg)
	c.sm.SetPindirsConsecutive(c.pin, 1, true)
	c.sm.SetPinsConsecutive(c.pin, 1, false)
	return c, nil
}

// Set forces the pin from the stopped state machine, for software
// conversion starts between pulse trains
func (c *CNV) Set(high bool) error {
	if c.enabled {
		return ErrRunning
	}
	c.sm.SetPinsConsecutive(c.pin, 1, high)
	return nil
}

func cyclesPerNs() float64 {
	return float64(machine.CPUFrequency()) / nsPerSecond
}

// SetPeriod takes effect at the next Enable; a running train restarts
func (c *CNV) SetPeriod(ns uint64) error {
	cycles := uint64(float64(ns) * cyclesPerNs())
	if cycles <= fixedCycles || cycles-fixedCycles > 0xFFFFFFFF {
		return ErrPeriod
	}
	c.period = ns
	c.cycles = uint32(cycles - fixedCycles)
	if c.enabled {
		return c.Enable()
	}
	return nil
}

func (c *CNV) Period() uint64 {
	return c.period
}

// SetDutyCycle accepts any width shorter than the period
func (c *CNV) SetDutyCycle(ns uint64) error {
	if ns >= c.period {
		return ErrPeriod
	}
	return nil
}

// Enable restarts the program from its first instruction with a fresh
// period word
func (c *CNV) Enable() error {
	if c.cycles == 0 {
		return ErrPeriod
	}
	c.sm.SetEnabled(false)
	c.sm.ClearFIFOs()
	c.sm.Init(c.offset, c.cfg)
	c.sm.SetPindirsConsecutive(c.pin, 1, true)
	c.sm.SetPinsConsecutive(c.pin, 1, false)
	// X starts at zero, so the first pull must find the word
	c.sm.TxPut(c.cycles)
	c.sm.SetEnabled(true)
	c.enabled = true
	return nil
}

// Disable stops the state machine with CNV low
func (c *CNV) Disable() error {
	c.sm.SetEnabled(false)
	c.sm.ClearFIFOs()
	c.sm.SetPinsConsecutive(c.pin, 1, false)
	c.enabled = false
	return nil
}
