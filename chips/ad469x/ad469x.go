// Package ad469x drives the AD4695/AD4696 16-channel 16-bit SAR ADC: the
// register shim behind its IIO attributes and the sequencer-based capture
// source used by the acquisition loop.
package ad469x

import (
	"sync/atomic"
	"time"

	"iioboard/acquire"
	"iioboard/hal"
	"iioboard/iio"

	"tinygo.org/x/drivers"
)

// Polarity of the analog inputs
type Polarity uint8

const (
	Unipolar Polarity = iota
	PseudoBipolar
)

const (
	maxCountUnipolar = 65535
	maxCountBipolar  = 32768
	gainUnity        = 0x8000
	bytesPerSample   = 2
	pwmDutyPercent   = 10
	nsPerSecond      = 1000000000
)

// Config selects the board-level options of the converter
type Config struct {
	Polarity   Polarity
	Reference  Reference
	SampleRate uint32

	// Timeout for a single-shot conversion; acquire.DefaultTimeout if zero
	Timeout time.Duration
}

// Device is one AD469x and its control lines
type Device struct {
	bus  hal.SPI
	cnv  hal.OutputPin
	busy hal.InputPin
	pwm  hal.PWM

	cfg   Config
	vref  float64
	scale float64

	// Last raw code per channel, used for the bipolar offset and Voltage
	last [NumChannels]int32
	// Offset correction register per channel as last read or written
	offsetCorr [NumChannels]uint16

	converting uint32 // atomic bool

	tx, rx [3]byte
	dev    iio.Device
}

// New binds a converter to its bus and pins. The bus is expected to frame
// chip select around each Tx (see hal.SPIDevice). pwm may be nil when the
// board has no hardware trigger.
func New(bus hal.SPI, cnv hal.OutputPin, busy hal.InputPin, pwm hal.PWM) *Device {
	d := &Device{bus: bus, cnv: cnv, busy: busy, pwm: pwm}
	d.dev = iio.Device{
		Name:         "ad469x",
		Channels:     channels(),
		Attrs:        globalAttrs,
		ChannelAttrs: channelAttrs,
		Handler:      d,
		Registers:    d,
		RegisterMax:  RegisterMax,
	}
	return d
}

// Configure verifies the chip identity and applies cfg
func (d *Device) Configure(cfg Config) error {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = acquire.DefaultTimeout
	}
	d.cfg = cfg

	if err := d.checkID(); err != nil {
		return err
	}
	if err := d.setReference(cfg.Reference); err != nil {
		return err
	}
	if d.pwm != nil {
		if err := d.setSampleRate(cfg.SampleRate); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) checkID() error {
	const pattern = 0xAD
	if err := d.writeReg(RegScratchPad, pattern); err != nil {
		return err
	}
	v, err := d.readReg(RegScratchPad)
	if err != nil {
		return err
	}
	if v != pattern {
		return iio.ErrIO
	}
	v, err = d.readReg(RegVendorL)
	if err != nil {
		return err
	}
	if v != VendorLID {
		return iio.ErrIO
	}
	return nil
}

// IIODevice returns the descriptor served to the host
func (d *Device) IIODevice() *iio.Device {
	return &d.dev
}

// CaptureConfig returns the sample layout of the capture path. Samples come
// off the wire MSB first and are swapped to little-endian.
func (d *Device) CaptureConfig() acquire.Config {
	return acquire.Config{
		SampleBytes: bytesPerSample,
		Swap:        true,
		Timeout:     d.cfg.Timeout,
	}
}

// Pulser returns the software CNV trigger used by burst captures
func (d *Device) Pulser() acquire.Pulser {
	return hal.PulsePin{Pin: d.cnv}
}

// Ready returns the BUSY line poll used by burst captures
func (d *Device) Ready() acquire.Ready {
	return hal.PinReady{Busy: d.busy}
}

// Converting reports whether the chip is in conversion mode
func (d *Device) Converting() bool {
	return atomic.LoadUint32(&d.converting) != 0
}

// Register mode access

func (d *Device) readReg(addr uint32) (byte, error) {
	encodeFrame(d.tx[:], true, addr, 0)
	if err := d.bus.Tx(d.tx[:], d.rx[:]); err != nil {
		return 0, err
	}
	return d.rx[2], nil
}

func (d *Device) writeReg(addr uint32, val byte) error {
	encodeFrame(d.tx[:], false, addr, val)
	return d.bus.Tx(d.tx[:], d.rx[:])
}

func (d *Device) updateReg(addr uint32, mask, val byte) error {
	v, err := d.readReg(addr)
	if err != nil {
		return err
	}
	return d.writeReg(addr, v&^mask|val&mask)
}

// read16 reads a little-endian LSB/MSB register pair
func (d *Device) read16(addr uint32) (uint16, error) {
	lo, err := d.readReg(addr)
	if err != nil {
		return 0, err
	}
	hi, err := d.readReg(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func (d *Device) write16(addr uint32, v uint16) error {
	if err := d.writeReg(addr, byte(v)); err != nil {
		return err
	}
	return d.writeReg(addr+1, byte(v>>8))
}

// ReadRegister implements iio.RegisterAccess
func (d *Device) ReadRegister(addr uint32) (uint32, error) {
	if d.Converting() {
		return 0, iio.ErrBusy
	}
	v, err := d.readReg(addr)
	return uint32(v), err
}

// WriteRegister implements iio.RegisterAccess
func (d *Device) WriteRegister(addr, val uint32) error {
	if d.Converting() {
		return iio.ErrBusy
	}
	if val > 0xFF {
		return iio.ErrInvalid
	}
	return d.writeReg(addr, byte(val))
}

// Capture source

// PrepareScan programs the standard sequencer with the active channels
func (d *Device) PrepareScan(mask iio.ScanMask) error {
	if mask == 0 || !mask.Valid(NumChannels) {
		return iio.ErrInvalid
	}
	if d.Converting() {
		return iio.ErrBusy
	}
	if err := d.writeReg(RegStdSeqLB, 0); err != nil {
		return err
	}
	if err := d.writeReg(RegStdSeqUB, 0); err != nil {
		return err
	}
	if err := d.writeReg(RegStdSeqLB, byte(mask)); err != nil {
		return err
	}
	return d.writeReg(RegStdSeqUB, byte(mask>>8))
}

// EnterConversion sets the SETUP conversion-mode bit. From here on every
// frame is a 16-bit sample read until ExitConversion.
func (d *Device) EnterConversion() error {
	if d.Converting() {
		return nil
	}
	if err := d.updateReg(RegSetup, SetupConvMode, SetupConvMode); err != nil {
		return err
	}
	atomic.StoreUint32(&d.converting, 1)
	return nil
}

// ExitConversion sends the register-configuration-mode command frame
func (d *Device) ExitConversion() error {
	d.tx[0] = CmdRegConfigMode
	d.tx[1] = 0
	if err := d.bus.Tx(d.tx[:2], d.rx[:2]); err != nil {
		return err
	}
	atomic.StoreUint32(&d.converting, 0)
	return nil
}

// ReadSample shifts the last conversion result out, MSB first
func (d *Device) ReadSample(p []byte) error {
	if len(p) != bytesPerSample {
		return iio.ErrInvalid
	}
	d.tx[0], d.tx[1] = 0, 0
	return d.bus.Tx(d.tx[:2], p)
}

// SingleConversion runs one register-mode channel select, conversion and
// readback for ch
func (d *Device) SingleConversion(ch int) (uint16, error) {
	if ch < 0 || ch >= NumChannels {
		return 0, iio.ErrInvalid
	}
	if d.Converting() {
		return 0, iio.ErrBusy
	}
	if err := d.PrepareScan(iio.ScanMask(1) << uint(ch)); err != nil {
		return 0, err
	}
	if err := d.EnterConversion(); err != nil {
		return 0, err
	}
	code, err := d.convertOnce()
	if exitErr := d.ExitConversion(); err == nil {
		err = exitErr
	}
	if err != nil {
		return 0, err
	}
	d.last[ch] = int32(code)
	return code, nil
}

func (d *Device) convertOnce() (uint16, error) {
	if err := d.Pulser().Pulse(); err != nil {
		return 0, err
	}
	ready := d.Ready()
	deadline := time.Now().Add(d.timeout())
	for {
		ok, err := ready.Ready()
		if err != nil {
			return 0, err
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return 0, iio.ErrTimeout
		}
	}
	var buf [bytesPerSample]byte
	if err := d.ReadSample(buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (d *Device) timeout() time.Duration {
	if d.cfg.Timeout == 0 {
		return acquire.DefaultTimeout
	}
	return d.cfg.Timeout
}

// Update implements drivers.Sensor. A voltage update converts every channel
// once; results are read back with Voltage.
func (d *Device) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	for ch := 0; ch < NumChannels; ch++ {
		if _, err := d.SingleConversion(ch); err != nil {
			return err
		}
	}
	return nil
}

// Voltage returns the last converted value of ch in microvolts
func (d *Device) Voltage(ch int) int32 {
	if ch < 0 || ch >= NumChannels {
		return 0
	}
	raw := int64(d.last[ch]) + d.offsetFor(ch)
	return int32(float64(raw) * d.scale * 1000)
}

// offsetFor returns the code offset of ch: the pseudo-bipolar wrap of its
// last raw code plus the channel's offset correction
func (d *Device) offsetFor(ch int) int64 {
	off := int64(d.offsetCorr[ch])
	if d.cfg.Polarity == PseudoBipolar && d.last[ch] >= maxCountBipolar {
		off -= maxCountUnipolar
	}
	return off
}

var _ drivers.Sensor = (*Device)(nil)
var _ acquire.Source = (*Device)(nil)
