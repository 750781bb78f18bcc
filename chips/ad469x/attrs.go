package ad469x

import (
	"strconv"

	"iioboard/iio"
)

// Reference is the REF_SET selection in REF_CTRL
type Reference uint8

const (
	Ref2P5V Reference = iota
	Ref3P0V
	Ref3P3V
	Ref4P096V
	Ref5V
)

// ReferenceNames are the accepted reference_sel values, indexed by Reference
var ReferenceNames = iio.Enum{"2P5V", "3P0V", "3P3V", "4P096V", "5V"}

var referenceVolts = [...]float64{2.5, 3.0, 3.3, 4.096, 5.0}

// HighZNames are the accepted ain_high_z values
var HighZNames = iio.Enum{"disable", "enable"}

// Attribute IDs
const (
	attrRaw iio.AttrID = iota
	attrScale
	attrOffset
	attrOffsetCorrection
	attrGainCorrection
	attrHighZ
	attrHighZAvailable
	attrSamplingFrequency
	attrReferenceSel
	attrReferenceSelAvailable
)

var channelAttrs = []iio.Attr{
	{Name: "raw", ID: attrRaw},
	{Name: "scale", ID: attrScale},
	{Name: "offset", ID: attrOffset},
	{Name: "offset_correction", ID: attrOffsetCorrection},
	{Name: "gain_correction", ID: attrGainCorrection},
	{Name: "ain_high_z", ID: attrHighZ},
	{Name: "ain_high_z_available", ID: attrHighZAvailable},
}

var globalAttrs = []iio.Attr{
	{Name: "sampling_frequency", ID: attrSamplingFrequency},
	{Name: "reference_sel", ID: attrReferenceSel},
	{Name: "reference_sel_available", ID: attrReferenceSelAvailable},
}

var channelNames = [NumChannels]string{
	"voltage0", "voltage1", "voltage2", "voltage3",
	"voltage4", "voltage5", "voltage6", "voltage7",
	"voltage8", "voltage9", "voltage10", "voltage11",
	"voltage12", "voltage13", "voltage14", "voltage15",
}

func channels() []iio.Channel {
	chs := make([]iio.Channel, NumChannels)
	for i := range chs {
		chs[i] = iio.Channel{
			Name:      channelNames[i],
			Index:     i,
			Direction: iio.Input,
			ScanType: iio.ScanType{
				Sign:        'u',
				RealBits:    16,
				StorageBits: 16,
			},
		}
	}
	return chs
}

// ReadAttr implements iio.AttrHandler
func (d *Device) ReadAttr(id iio.AttrID, ch *iio.Channel) (string, error) {
	switch id {
	case attrSamplingFrequency:
		return strconv.FormatUint(uint64(d.SampleRate()), 10), nil
	case attrReferenceSel:
		if d.Converting() {
			return "", iio.ErrBusy
		}
		v, err := d.readReg(RegRefCtrl)
		if err != nil {
			return "", err
		}
		name := ReferenceNames.Name(int(v&RefCtrlSetMask) >> RefCtrlSetShift)
		if name == "" {
			return "", iio.ErrIO
		}
		return name, nil
	case attrReferenceSelAvailable:
		return ReferenceNames.Available(), nil
	}

	if ch == nil {
		return "", iio.ErrInvalid
	}
	if d.Converting() && id != attrHighZAvailable && id != attrOffset {
		return "", iio.ErrBusy
	}
	switch id {
	case attrRaw:
		code, err := d.SingleConversion(ch.Index)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(code), 10), nil
	case attrScale:
		gain, err := d.read16(GainIn(ch.Index))
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(d.scale*float64(gain)/gainUnity, 'f', 10, 64), nil
	case attrOffset:
		return strconv.FormatInt(d.offsetFor(ch.Index), 10), nil
	case attrOffsetCorrection:
		v, err := d.read16(OffsetIn(ch.Index))
		if err != nil {
			return "", err
		}
		d.offsetCorr[ch.Index] = v
		return strconv.FormatUint(uint64(v), 10), nil
	case attrGainCorrection:
		v, err := d.read16(GainIn(ch.Index))
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(v), 10), nil
	case attrHighZ:
		v, err := d.readReg(ConfigIn(ch.Index))
		if err != nil {
			return "", err
		}
		if v&ConfigInHighZ != 0 {
			return HighZNames[1], nil
		}
		return HighZNames[0], nil
	case attrHighZAvailable:
		return HighZNames.Available(), nil
	}
	return "", iio.ErrInvalid
}

// WriteAttr implements iio.AttrHandler. Unknown enum values are rejected
// before any register is touched.
func (d *Device) WriteAttr(id iio.AttrID, ch *iio.Channel, value string) error {
	switch id {
	case attrRaw, attrScale, attrOffset, attrHighZAvailable, attrReferenceSelAvailable:
		// Read-only, silently accepted
		return nil
	}
	if d.Converting() {
		return iio.ErrBusy
	}

	switch id {
	case attrSamplingFrequency:
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return iio.ErrInvalid
		}
		return d.setSampleRate(uint32(v))
	case attrReferenceSel:
		i, ok := ReferenceNames.Index(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setReference(Reference(i))
	}

	if ch == nil {
		return iio.ErrInvalid
	}
	switch id {
	case attrOffsetCorrection, attrGainCorrection:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return iio.ErrInvalid
		}
		if id == attrGainCorrection {
			return d.write16(GainIn(ch.Index), uint16(v))
		}
		if err := d.write16(OffsetIn(ch.Index), uint16(v)); err != nil {
			return err
		}
		d.offsetCorr[ch.Index] = uint16(v)
		return nil
	case attrHighZ:
		i, ok := HighZNames.Index(value)
		if !ok {
			return iio.ErrInvalid
		}
		var bit byte
		if i == 1 {
			bit = ConfigInHighZ
		}
		return d.updateReg(ConfigIn(ch.Index), ConfigInHighZ, bit)
	}
	return iio.ErrInvalid
}

func (d *Device) setReference(ref Reference) error {
	if int(ref) >= len(referenceVolts) {
		return iio.ErrInvalid
	}
	if err := d.updateReg(RegRefCtrl, RefCtrlSetMask, byte(ref)<<RefCtrlSetShift); err != nil {
		return err
	}
	d.cfg.Reference = ref
	d.vref = referenceVolts[ref]
	if d.cfg.Polarity == PseudoBipolar {
		d.scale = d.vref / 2 / maxCountBipolar * 1000
	} else {
		d.scale = d.vref / maxCountUnipolar * 1000
	}
	for i := range d.dev.Channels {
		d.dev.Channels[i].Scale = d.scale
	}
	return nil
}

// Scale returns the base mV per LSB for the active reference and polarity
func (d *Device) Scale() float64 {
	return d.scale
}

// setSampleRate clamps fs and programs the CNV PWM with a 10% duty cycle
func (d *Device) setSampleRate(fs uint32) error {
	if d.pwm == nil {
		return iio.ErrNotSupported
	}
	if fs == 0 {
		return iio.ErrInvalid
	}
	if fs > MaxSampleRate {
		fs = MaxSampleRate
	}
	period := uint64(nsPerSecond / fs)
	if err := d.pwm.SetPeriod(period); err != nil {
		return err
	}
	if err := d.pwm.SetDutyCycle(period * pwmDutyPercent / 100); err != nil {
		return err
	}
	d.cfg.SampleRate = fs
	return nil
}

// SampleRate reads the rate back from the PWM period
func (d *Device) SampleRate() uint32 {
	if d.pwm == nil {
		return d.cfg.SampleRate
	}
	period := d.pwm.Period()
	if period == 0 {
		return 0
	}
	return uint32(nsPerSecond / period)
}
