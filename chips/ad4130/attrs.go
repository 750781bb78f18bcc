package ad4130

import (
	"strconv"

	"iioboard/iio"
)

// DemoConfig is the sensor configuration the board is wired for
type DemoConfig uint8

const (
	UserDefault DemoConfig = iota
	RTD2Wire
	RTD3Wire
	RTD4Wire
	Thermistor
	Thermocouple
	Loadcell
	ECG
	NoiseTest
	PowerTest
)

// DemoConfigNames are the demo_config values, indexed by DemoConfig
var DemoConfigNames = iio.Enum{
	"User Default", "2-Wire RTD", "3-Wire RTD", "4-Wire RTD", "Thermistor",
	"Thermocouple", "Loadcell", "ECG", "Noise Test", "Power Test",
}

// input is one channel's analog input pair
type input struct {
	name string
	p, m uint8
	temp bool
}

// layouts lists the channels of each supported demo configuration.
// Thermocouple and Power Test are absent.
var layouts = map[DemoConfig][]input{
	UserDefault: userDefault(),
	RTD2Wire:    {{name: "temp0", p: 0, m: 1, temp: true}},
	RTD3Wire:    {{name: "temp0", p: 0, m: 1, temp: true}},
	RTD4Wire:    {{name: "temp0", p: 0, m: 1, temp: true}},
	Thermistor:  {{name: "temp0", p: 4, m: 5, temp: true}},
	Loadcell:    {{name: "voltage0", p: 2, m: 3}},
	ECG:         {{name: "voltage0", p: 0, m: 1}},
	NoiseTest:   {{name: "voltage0", p: 0, m: 1}},
}

func userDefault() []input {
	in := make([]input, NumChannels)
	for i := range in {
		in[i] = input{name: "voltage" + strconv.Itoa(i), p: uint8(i), m: inputAVSS}
	}
	return in
}

// Attribute IDs
const (
	attrRaw iio.AttrID = iota
	attrScale
	attrOffset
	attrInternalCalibration
	attrSystemCalibration
	attrLoadcellGainCalibration
	attrLoadcellOffsetCalibration
	attrSamplingFrequency
	attrDemoConfig
)

var channelAttrs = []iio.Attr{
	{Name: "raw", ID: attrRaw},
	{Name: "scale", ID: attrScale},
	{Name: "offset", ID: attrOffset},
	{Name: "internal_calibration", ID: attrInternalCalibration},
	{Name: "system_calibration", ID: attrSystemCalibration},
}

var loadcellAttrs = append(append([]iio.Attr(nil), channelAttrs...),
	iio.Attr{Name: "loadcell_gain_calibration", ID: attrLoadcellGainCalibration},
	iio.Attr{Name: "loadcell_offset_calibration", ID: attrLoadcellOffsetCalibration},
)

var globalAttrs = []iio.Attr{
	{Name: "sampling_frequency", ID: attrSamplingFrequency},
	{Name: "demo_config", ID: attrDemoConfig},
}

// channels builds the descriptor channels. Bipolar voltage inputs are
// offset binary, so their offset recentres the code on zero. Temperature
// inputs carry a scale that each raw read refreshes.
func (d *Device) channels() []iio.Channel {
	chs := make([]iio.Channel, len(d.inputs))
	for i, in := range d.inputs {
		chs[i] = iio.Channel{
			Name:      in.name,
			Index:     i,
			Direction: iio.Input,
			ScanType: iio.ScanType{
				Sign:        'u',
				RealBits:    24,
				StorageBits: 32,
			},
		}
		if in.temp {
			continue
		}
		chs[i].Scale = d.vref / (d.maxCount * d.gain()) * 1000
		if d.cfg.Bipolar {
			chs[i].Offset = -maxCountBipolar
		}
	}
	return chs
}

// ReadAttr implements iio.AttrHandler
func (d *Device) ReadAttr(id iio.AttrID, ch *iio.Channel) (string, error) {
	switch id {
	case attrSamplingFrequency:
		return strconv.FormatUint(uint64(d.SampleRate()), 10), nil
	case attrDemoConfig:
		return DemoConfigNames.Name(int(d.cfg.Demo)), nil
	}

	if ch == nil {
		return "", iio.ErrInvalid
	}
	switch id {
	case attrScale:
		return strconv.FormatFloat(ch.Scale, 'f', 10, 64), nil
	case attrOffset:
		return strconv.FormatInt(ch.Offset, 10), nil
	case attrLoadcellOffsetCalibration:
		return strconv.FormatUint(uint64(d.loadcell.offset), 10), nil
	case attrLoadcellGainCalibration:
		return strconv.FormatUint(uint64(d.loadcell.gain), 10), nil
	}

	if d.Converting() {
		return "", iio.ErrBusy
	}
	switch id {
	case attrRaw:
		code, err := d.readRaw(ch.Index)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(code), 10), nil
	case attrInternalCalibration:
		return d.calibrationStatus(internalCal, ch.Index), nil
	case attrSystemCalibration:
		return d.calibrationStatus(systemCal, ch.Index), nil
	}
	return "", iio.ErrInvalid
}

// WriteAttr implements iio.AttrHandler
func (d *Device) WriteAttr(id iio.AttrID, ch *iio.Channel, value string) error {
	switch id {
	case attrRaw, attrScale, attrOffset, attrDemoConfig:
		// Read-only, silently accepted
		return nil
	}
	if d.Converting() {
		return iio.ErrBusy
	}

	if id == attrSamplingFrequency {
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return iio.ErrInvalid
		}
		return d.SetSampleRate(uint32(v))
	}

	if ch == nil {
		return iio.ErrInvalid
	}
	if _, ok := startNames.Prefix(value); !ok {
		return iio.ErrInvalid
	}
	switch id {
	case attrInternalCalibration:
		return d.stepCalibration(internalCal, ch.Index)
	case attrSystemCalibration:
		return d.stepCalibration(systemCal, ch.Index)
	case attrLoadcellOffsetCalibration:
		v, err := d.average(ch.Index)
		if err != nil {
			return err
		}
		d.loadcell.offset = v
		return nil
	case attrLoadcellGainCalibration:
		v, err := d.average(ch.Index)
		if err != nil {
			return err
		}
		d.loadcell.gain = v
		return nil
	}
	return iio.ErrInvalid
}

// readRaw applies a finished calibration's coefficients, converts ch once
// and refreshes a temperature channel's scale from the result
func (d *Device) readRaw(ch int) (uint32, error) {
	if err := d.applyCalibration(ch); err != nil {
		return 0, err
	}
	code, err := d.SingleSample(ch)
	if err != nil {
		return 0, err
	}
	if d.inputs[ch].temp {
		d.dev.Channels[ch].Scale = 0
		if code != 0 {
			d.dev.Channels[ch].Scale = d.Temperature(code) / float64(code) * 1000
		}
	}
	return code, nil
}

// Loadcell calibration averages this many single samples
const loadcellSamples = 10

func (d *Device) average(ch int) (uint32, error) {
	var sum uint64
	for i := 0; i < loadcellSamples; i++ {
		code, err := d.SingleSample(ch)
		if err != nil {
			return 0, err
		}
		sum += uint64(code)
	}
	return uint32(sum / loadcellSamples), nil
}

// LoadcellCalibration returns the averaged no-load and reference-load codes
func (d *Device) LoadcellCalibration() (offset, gain uint32) {
	return d.loadcell.offset, d.loadcell.gain
}
