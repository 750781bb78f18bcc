package ad5754r

import (
	"iioboard/acquire"
	"iioboard/iio"
)

const (
	bytesPerSample = 2
	usPerSecond    = 1000000
)

// Pacer is the clock of buffered output updates
type Pacer interface {
	SetInterval(us uint32) error
}

// SetPacer attaches the update clock and programs it with the current
// sampling_frequency
func (d *Device) SetPacer(p Pacer) error {
	d.pacer = p
	return d.applyRate()
}

func (d *Device) applyRate() error {
	if d.pacer == nil || d.rate == 0 {
		return nil
	}
	return d.pacer.SetInterval(usPerSecond / d.rate)
}

// OutputConfig returns the sample layout of buffered output
func (d *Device) OutputConfig() acquire.Config {
	return acquire.Config{SampleBytes: bytesPerSample}
}

// PrepareOutput powers up the internal reference and the channels in mask.
// Channels already powered stay powered.
func (d *Device) PrepareOutput(mask iio.ScanMask) error {
	if mask == 0 || !mask.Valid(NumChannels) {
		return iio.ErrInvalid
	}
	p := d.powered
	for ch := range p {
		if mask.Has(ch) {
			p[ch] = true
		}
	}
	return d.setPower(true, p)
}

// WriteSample writes a little-endian code into ch's input register
func (d *Device) WriteSample(ch int, p []byte) error {
	if ch < 0 || ch >= NumChannels || len(p) != bytesPerSample {
		return iio.ErrInvalid
	}
	return d.write(RegDAC, byte(ch), uint16(p[0])|uint16(p[1])<<8)
}

// Update loads every input register to its output, with an LDAC pulse
// when the line is wired and the load command otherwise
func (d *Device) Update() error {
	if d.ldac != nil {
		return d.TriggerLDAC()
	}
	return d.Load()
}

// FinishOutput leaves LDAC idle high
func (d *Device) FinishOutput() error {
	if d.ldac == nil {
		return nil
	}
	return d.ldac.Set(true)
}

var _ acquire.Sink = (*Device)(nil)
