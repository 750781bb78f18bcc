// Package ad5754r drives the AD5754R quad 16-bit bipolar/unipolar DAC
// through its 24-bit register interface.
package ad5754r

import (
	"iioboard/hal"
	"iioboard/iio"
)

// Register select, bits [5:3] of the instruction byte
const (
	RegDAC     = 0x0
	RegRange   = 0x1
	RegPower   = 0x2
	RegControl = 0x3
)

// Control register functions, selected by the address field
const (
	CtrlNOP     = 0x0
	CtrlControl = 0x1
	CtrlClear   = 0x4
	CtrlLoad    = 0x5
)

// Control function bits
const (
	CtrlSDODisable = 1 << 0
	CtrlClearSel   = 1 << 1
	CtrlClampEn    = 1 << 2
	CtrlTSDEn      = 1 << 3
)

// Power control bits
const (
	PowerUpRef   = 1 << 4
	PowerTSD     = 1 << 5
	PowerOCShift = 7
	PowerOCMask  = 0xF << PowerOCShift
)

const (
	NumChannels = 4
	// AllChannels addresses every DAC at once
	AllChannels = 0x4

	readBit     = 0x80
	regShift    = 3
	addrMask    = 0x7
	RegisterMax = 0x3F

	maxCode      = 65536
	twosCompHalf = 32768
	vref         = 2.5
)

// Range is the output span code of a channel
type Range uint8

const (
	Range0To5 Range = iota
	Range0To10
	Range0To10V8
	RangeNeg5To5
	RangeNeg10To10
	RangeNeg10V8To10V8
)

// RangeNames are the range attribute values indexed by Range
var RangeNames = iio.Enum{
	"0v_to_5v",
	"0v_to_10v",
	"0v_to_10v8",
	"neg5v_to_5v",
	"neg10v_to_10v",
	"neg10v8_to_10v8",
}

// Output span in volts per range, VREF times the range gain
var rangeSpan = [...]float64{
	2 * vref,
	4 * vref,
	4.32 * vref,
	4 * vref,
	8 * vref,
	8.64 * vref,
}

// Bipolar reports whether codes are two's complement in this range
func (r Range) Bipolar() bool {
	return r >= RangeNeg5To5
}

// Config holds the power-on output configuration
type Config struct {
	Range      Range
	ClampEn    bool
	SampleRate uint32
	// CN0586 drives the DAC as the CN0586 high voltage output stage and
	// adds the hvout attributes
	CN0586 bool
}

// Device is one AD5754R. State the chip cannot report back, or reports
// only with SDO enabled, is cached here.
type Device struct {
	bus  hal.SPI
	ldac hal.OutputPin

	ranges   [NumChannels]Range
	powered  [NumChannels]bool
	offset   [NumChannels]int64
	intRef   bool
	clearSel bool
	sdoDis   bool
	clampEn  bool
	tsdEn    bool
	rate     uint32
	pacer    Pacer
	hv       *cn0586

	tx, rx [3]byte
	dev    iio.Device
}

// New binds a DAC to its bus. ldac is optional and enables the hardware
// LDAC trigger.
func New(bus hal.SPI, ldac hal.OutputPin) *Device {
	d := &Device{bus: bus, ldac: ldac}
	d.dev = iio.Device{
		Name:         "ad5754r",
		Channels:     channels(),
		Attrs:        globalAttrs,
		ChannelAttrs: channelAttrs,
		Handler:      d,
		Registers:    d,
		RegisterMax:  RegisterMax,
	}
	return d
}

// Configure powers up the reference and every channel with cfg.Range
func (d *Device) Configure(cfg Config) error {
	if int(cfg.Range) >= len(RangeNames) {
		return iio.ErrInvalid
	}
	if d.ldac != nil {
		// LDAC idles high
		if err := d.ldac.Set(true); err != nil {
			return err
		}
	}
	if err := d.setControl(false, false, cfg.ClampEn, false); err != nil {
		return err
	}
	if err := d.write(RegRange, AllChannels, uint16(cfg.Range)); err != nil {
		return err
	}
	for ch := range d.ranges {
		d.ranges[ch] = cfg.Range
	}
	if err := d.setPower(true, [NumChannels]bool{true, true, true, true}); err != nil {
		return err
	}
	d.rate = cfg.SampleRate
	if cfg.CN0586 {
		if err := d.initCN0586(); err != nil {
			return err
		}
	}
	return d.applyRate()
}

// IIODevice returns the descriptor served to the host
func (d *Device) IIODevice() *iio.Device {
	return &d.dev
}

func (d *Device) frame(read bool, reg, addr byte, val uint16) error {
	d.tx[0] = reg<<regShift | addr&addrMask
	if read {
		d.tx[0] |= readBit
	}
	d.tx[1] = byte(val >> 8)
	d.tx[2] = byte(val)
	return d.bus.Tx(d.tx[:], d.rx[:])
}

func (d *Device) write(reg, addr byte, val uint16) error {
	return d.frame(false, reg, addr, val)
}

// read issues the read instruction and clocks the data out with a NOP
func (d *Device) read(reg, addr byte) (uint16, error) {
	if d.sdoDis {
		return 0, iio.ErrNotSupported
	}
	if err := d.frame(true, reg, addr, 0); err != nil {
		return 0, err
	}
	if err := d.frame(false, RegControl, CtrlNOP, 0); err != nil {
		return 0, err
	}
	return uint16(d.rx[1])<<8 | uint16(d.rx[2]), nil
}

// ReadRegister implements iio.RegisterAccess with addresses reg<<3|addr
func (d *Device) ReadRegister(addr uint32) (uint32, error) {
	if addr > RegisterMax {
		return 0, iio.ErrInvalid
	}
	v, err := d.read(byte(addr>>regShift), byte(addr)&addrMask)
	return uint32(v), err
}

// WriteRegister implements iio.RegisterAccess
func (d *Device) WriteRegister(addr, val uint32) error {
	if addr > RegisterMax || val > 0xFFFF {
		return iio.ErrInvalid
	}
	return d.write(byte(addr>>regShift), byte(addr)&addrMask, uint16(val))
}

func (d *Device) setControl(clearSel, sdoDis, clampEn, tsdEn bool) error {
	var v uint16
	if sdoDis {
		v |= CtrlSDODisable
	}
	if clearSel {
		v |= CtrlClearSel
	}
	if clampEn {
		v |= CtrlClampEn
	}
	if tsdEn {
		v |= CtrlTSDEn
	}
	if err := d.write(RegControl, CtrlControl, v); err != nil {
		return err
	}
	d.clearSel, d.sdoDis, d.clampEn, d.tsdEn = clearSel, sdoDis, clampEn, tsdEn
	return nil
}

func (d *Device) setPower(ref bool, channels [NumChannels]bool) error {
	var v uint16
	for ch, on := range channels {
		if on {
			v |= 1 << uint(ch)
		}
	}
	if ref {
		v |= PowerUpRef
	}
	if err := d.write(RegPower, 0, v); err != nil {
		return err
	}
	d.intRef = ref
	d.powered = channels
	return nil
}

// SetCode writes a channel's DAC register and loads it to the output
func (d *Device) SetCode(ch int, code uint16) error {
	if ch < 0 || ch >= NumChannels {
		return iio.ErrInvalid
	}
	if err := d.write(RegDAC, byte(ch), code); err != nil {
		return err
	}
	return d.Load()
}

// Load transfers every DAC register to its output
func (d *Device) Load() error {
	return d.write(RegControl, CtrlLoad, 0)
}

// Clear forces every output to the clear code
func (d *Device) Clear() error {
	return d.write(RegControl, CtrlClear, 0)
}

// TriggerLDAC pulses the LDAC line low
func (d *Device) TriggerLDAC() error {
	if d.ldac == nil {
		return iio.ErrNotSupported
	}
	if err := d.ldac.Set(false); err != nil {
		return err
	}
	return d.ldac.Set(true)
}

// Alerts decodes the overcurrent and thermal shutdown flags
func (d *Device) Alerts() (oc, tsd bool, err error) {
	v, err := d.read(RegPower, 0)
	if err != nil {
		return false, false, err
	}
	return v&PowerOCMask != 0, v&PowerTSD != 0, nil
}

// Scale returns the channel's output mV per LSB
func (d *Device) Scale(ch int) float64 {
	return rangeSpan[d.ranges[ch]] / maxCode * 1000
}
