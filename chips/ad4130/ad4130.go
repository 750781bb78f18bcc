// Package ad4130 drives the AD4130-8 16-channel 24-bit sigma-delta ADC in
// the sensor configurations of its evaluation board: plain voltage inputs,
// RTD and thermistor temperature inputs and a load cell bridge.
package ad4130

import (
	"sync/atomic"
	"time"

	"iioboard/acquire"
	"iioboard/hal"
	"iioboard/iio"
)

// Reference is the REF_SEL field of a setup
type Reference uint8

const (
	RefIn1 Reference = iota
	RefIn2
	RefOut
	RefAVDD
)

var referenceVolts = [...]float64{RefIn1: 2.5, RefIn2: 2.5, RefAVDD: 3.3}

const (
	maxCountUnipolar = 1<<24 - 1
	maxCountBipolar  = 1 << 23
	bytesPerSample   = 4
	maxFS            = FilterFSMask

	// Setup shared by every channel
	setup = 0

	// Negative input of single-ended channels
	inputAVSS = 0x11

	// DefaultFS gives 50 SPS
	DefaultFS = 48
	// DefaultCalTimeout bounds one calibration step
	DefaultCalTimeout = 250 * time.Millisecond
)

// Config selects the sensor configuration and the analog front end
type Config struct {
	Demo       DemoConfig
	Bipolar    bool
	Reference  Reference
	IntRef1V25 bool
	// PGA gain is 1 << PGA
	PGA uint8
	FS  uint16
	// Reference resistor of RTD and thermistor inputs in ohms; 5110 for
	// RTDs and 25000 for thermistors if zero
	RRef float64

	Timeout    time.Duration
	CalTimeout time.Duration
}

// Device is one AD4130 on its SPI bus
type Device struct {
	bus hal.SPI
	cfg Config

	inputs   []input
	vref     float64
	maxCount float64
	enabled  uint16

	cal      calibration
	loadcell struct{ offset, gain uint32 }

	converting uint32 // atomic bool

	tx, rx [4]byte
	dev    iio.Device
}

// New binds a converter to its bus. The bus is expected to frame chip
// select around each Tx (see hal.SPIDevice).
func New(bus hal.SPI) *Device {
	d := &Device{bus: bus}
	d.dev = iio.Device{
		Name:        "ad4130",
		Attrs:       globalAttrs,
		Handler:     d,
		Registers:   d,
		RegisterMax: RegisterMax,
	}
	return d
}

// Configure verifies the chip identity, lays out the channels of the demo
// configuration and programs setup 0
func (d *Device) Configure(cfg Config) error {
	inputs, ok := layouts[cfg.Demo]
	if !ok {
		return iio.ErrNotSupported
	}
	if cfg.Reference > RefAVDD || cfg.PGA > 7 || cfg.FS > maxFS {
		return iio.ErrInvalid
	}
	if cfg.FS == 0 {
		cfg.FS = DefaultFS
	}
	if cfg.RRef == 0 {
		cfg.RRef = 5110
		if cfg.Demo == Thermistor {
			cfg.RRef = 25000
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = acquire.DefaultTimeout
	}
	if cfg.CalTimeout == 0 {
		cfg.CalTimeout = DefaultCalTimeout
	}
	d.cfg = cfg
	d.inputs = inputs

	id, err := d.readReg(RegID)
	if err != nil {
		return err
	}
	if id != IDAD4130_8 {
		return iio.ErrIO
	}

	ctrl := uint32(ModeStandby) << CtrlModeShift
	if cfg.Bipolar {
		ctrl |= CtrlBipolar
	}
	if cfg.Reference == RefOut {
		ctrl |= CtrlIntRefEn
		if cfg.IntRef1V25 {
			ctrl |= CtrlIntRef1V2
		}
	}
	if err := d.writeReg(RegADCControl, ctrl); err != nil {
		return err
	}
	for ch := 0; ch < NumChannels; ch++ {
		var v uint32
		if ch < len(inputs) {
			v = setup<<ChannelSetupSh | uint32(inputs[ch].p)<<ChannelAINPSh | uint32(inputs[ch].m)<<ChannelAINMSh
		}
		if err := d.writeReg(ChannelReg(ch), v); err != nil {
			return err
		}
	}
	d.enabled = 0
	if err := d.writeReg(ConfigReg(setup), uint32(cfg.Reference)<<ConfigRefSelSh|uint32(cfg.PGA)<<ConfigPGAShift); err != nil {
		return err
	}
	if err := d.setFS(cfg.FS); err != nil {
		return err
	}

	switch cfg.Reference {
	case RefOut:
		d.vref = 2.5
		if cfg.IntRef1V25 {
			d.vref = 1.25
		}
	default:
		d.vref = referenceVolts[cfg.Reference]
	}
	d.maxCount = maxCountUnipolar
	if cfg.Bipolar {
		d.maxCount = maxCountBipolar
	}
	d.dev.Channels = d.channels()
	d.dev.ChannelAttrs = channelAttrs
	if cfg.Demo == Loadcell {
		d.dev.ChannelAttrs = loadcellAttrs
	}
	d.cal = calibration{}
	return nil
}

// IIODevice returns the descriptor served to the host
func (d *Device) IIODevice() *iio.Device {
	return &d.dev
}

// CaptureConfig returns the sample layout of the capture path. DATA comes
// off the wire MSB first into the low three bytes of a 32-bit sample and is
// swapped to little-endian.
func (d *Device) CaptureConfig() acquire.Config {
	return acquire.Config{
		SampleBytes: bytesPerSample,
		Swap:        true,
		Timeout:     d.cfg.Timeout,
	}
}

// Ready returns the STATUS register RDY poll used by captures
func (d *Device) Ready() acquire.Ready {
	return statusReady{d}
}

type statusReady struct{ d *Device }

func (r statusReady) Ready() (bool, error) {
	v, err := r.d.readReg(RegStatus)
	if err != nil {
		return false, err
	}
	return v&StatusRdyN == 0, nil
}

// Converting reports whether a capture holds the converter
func (d *Device) Converting() bool {
	return atomic.LoadUint32(&d.converting) != 0
}

func (d *Device) gain() float64 {
	return float64(uint32(1) << d.cfg.PGA)
}

// Register access

func (d *Device) readReg(addr uint32) (uint32, error) {
	n := RegSize(addr)
	if n == 0 {
		return 0, iio.ErrInvalid
	}
	d.tx = [4]byte{commRead | byte(addr)&commAddr}
	if err := d.bus.Tx(d.tx[:1+n], d.rx[:1+n]); err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range d.rx[1 : 1+n] {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

func (d *Device) writeReg(addr, val uint32) error {
	n := RegSize(addr)
	if n == 0 || val>>(8*uint(n)) != 0 {
		return iio.ErrInvalid
	}
	d.tx[0] = byte(addr) & commAddr
	for i := 0; i < n; i++ {
		d.tx[1+i] = byte(val >> (8 * uint(n-1-i)))
	}
	return d.bus.Tx(d.tx[:1+n], d.rx[:1+n])
}

func (d *Device) updateReg(addr, mask, val uint32) error {
	v, err := d.readReg(addr)
	if err != nil {
		return err
	}
	return d.writeReg(addr, v&^mask|val&mask)
}

// ReadRegister implements iio.RegisterAccess
func (d *Device) ReadRegister(addr uint32) (uint32, error) {
	if d.Converting() {
		return 0, iio.ErrBusy
	}
	if addr > RegisterMax {
		return 0, iio.ErrInvalid
	}
	return d.readReg(addr)
}

// WriteRegister implements iio.RegisterAccess
func (d *Device) WriteRegister(addr, val uint32) error {
	if d.Converting() {
		return iio.ErrBusy
	}
	if addr > RegisterMax {
		return iio.ErrInvalid
	}
	return d.writeReg(addr, val)
}

func (d *Device) setMode(m Mode) error {
	return d.updateReg(RegADCControl, CtrlModeMask, uint32(m)<<CtrlModeShift)
}

// enable sets the ENABLE bits of the channels to mask, touching only the
// channels that change
func (d *Device) enable(mask uint16) error {
	for ch := 0; ch < NumChannels; ch++ {
		bit := uint16(1) << uint(ch)
		if d.enabled&bit == mask&bit {
			continue
		}
		var v uint32
		if mask&bit != 0 {
			v = ChannelEnable
		}
		if err := d.updateReg(ChannelReg(ch), ChannelEnable, v); err != nil {
			return err
		}
		d.enabled ^= bit
	}
	return nil
}

func (d *Device) waitReady(timeout time.Duration) error {
	ready := d.Ready()
	deadline := time.Now().Add(timeout)
	for {
		ok, err := ready.Ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return iio.ErrTimeout
		}
	}
}

// SingleSample runs one single-conversion-mode read of ch with every other
// channel disabled
func (d *Device) SingleSample(ch int) (uint32, error) {
	if ch < 0 || ch >= len(d.inputs) {
		return 0, iio.ErrInvalid
	}
	if d.Converting() {
		return 0, iio.ErrBusy
	}
	if err := d.enable(1 << uint(ch)); err != nil {
		return 0, err
	}
	if err := d.setMode(ModeSingle); err != nil {
		return 0, err
	}
	if err := d.waitReady(d.cfg.Timeout); err != nil {
		return 0, err
	}
	code, err := d.readReg(RegData)
	if err != nil {
		return 0, err
	}
	return code, d.enable(0)
}

// Capture source

// PrepareScan enables the channels in mask
func (d *Device) PrepareScan(mask iio.ScanMask) error {
	if mask == 0 || !mask.Valid(len(d.inputs)) {
		return iio.ErrInvalid
	}
	if d.Converting() {
		return iio.ErrBusy
	}
	return d.enable(uint16(mask))
}

// EnterConversion restarts continuous conversion from the first enabled
// channel
func (d *Device) EnterConversion() error {
	if d.Converting() {
		return nil
	}
	if err := d.setMode(ModeStandby); err != nil {
		return err
	}
	if err := d.setMode(ModeContinuous); err != nil {
		return err
	}
	atomic.StoreUint32(&d.converting, 1)
	return nil
}

// ExitConversion puts the converter in standby
func (d *Device) ExitConversion() error {
	if err := d.setMode(ModeStandby); err != nil {
		return err
	}
	atomic.StoreUint32(&d.converting, 0)
	return nil
}

// ReadSample reads DATA into the low three bytes of p, MSB first
func (d *Device) ReadSample(p []byte) error {
	if len(p) != bytesPerSample {
		return iio.ErrInvalid
	}
	d.tx = [4]byte{commRead | RegData}
	if err := d.bus.Tx(d.tx[:], p); err != nil {
		return err
	}
	p[0] = 0
	return nil
}

// setFS programs the filter word of the shared setup
func (d *Device) setFS(fs uint16) error {
	if fs == 0 || fs > maxFS {
		return iio.ErrInvalid
	}
	if err := d.updateReg(FilterReg(setup), FilterFSMask, uint32(fs)); err != nil {
		return err
	}
	d.cfg.FS = fs
	return nil
}

// SampleRate is the output data rate of the shared setup in Hz
func (d *Device) SampleRate() uint32 {
	return mclkHz / (fsUnit * uint32(d.cfg.FS))
}

// SetSampleRate picks the filter word closest to hz from above
func (d *Device) SetSampleRate(hz uint32) error {
	if hz == 0 || hz > mclkHz/fsUnit {
		return iio.ErrInvalid
	}
	fs := mclkHz / fsUnit / hz
	if fs > maxFS {
		fs = maxFS
	}
	return d.setFS(uint16(fs))
}

var _ acquire.Source = (*Device)(nil)
var _ iio.RegisterAccess = (*Device)(nil)
