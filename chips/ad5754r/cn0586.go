package ad5754r

import (
	"strconv"

	"iioboard/iio"
)

// CN0586 wiring: DAC A sets the high voltage output through a x20 stage,
// DAC B offsets it and DAC D enables it.
const (
	hvChanVolts  = 0
	hvChanOffset = 1
	hvChanEnable = 3

	hvGain = 20
)

// HVOut ranges, indexed like hvRanges
const (
	HVOut0To100 = iota
	HVOutNeg100To100
	HVOutNeg50To50
	HVOut0To200
)

var (
	HVOutStateNames = iio.Enum{"Disabled", "Enabled"}
	HVOutRangeNames = iio.Enum{"0V_to_100V", "M100V_to_100V", "M50V_to_50V", "0V_to_200V"}
)

// hvRange is how one output range is built from DACs A and B
type hvRange struct {
	span         Range
	codeA, codeB uint16
	// DAC B output and the top of DAC A's span, in volts
	offset, top float64
	min, max    float64
}

var hvRanges = [...]hvRange{
	HVOut0To100:      {span: Range0To5, offset: 0, top: 5, min: 0, max: 100},
	HVOutNeg100To100: {span: Range0To10, codeA: 0x8000, codeB: 0xFFFF, offset: 5, top: 10, min: -100, max: 100},
	HVOutNeg50To50:   {span: Range0To5, codeA: 0x8000, codeB: 0x8000, offset: 2.5, top: 5, min: -50, max: 50},
	HVOut0To200:      {span: Range0To10, offset: 0, top: 10, min: 0, max: 200},
}

type cn0586 struct {
	enabled bool
	rng     int
	volts   float64
}

var hvoutAttrs = []iio.Attr{
	{Name: "hvout_state", ID: attrHVOutState},
	{Name: "hvout_state_available", ID: attrHVOutStateAvailable},
	{Name: "hvout_range", ID: attrHVOutRange},
	{Name: "hvout_range_available", ID: attrHVOutRangeAvailable},
	{Name: "hvout_volts", ID: attrHVOutVolts},
}

// initCN0586 puts the offset and enable DACs on the 5 V span, leaves the
// output disabled and selects the +/-100 V range
func (d *Device) initCN0586() error {
	for _, ch := range []int{hvChanOffset, hvChanEnable} {
		if err := d.write(RegRange, byte(ch), uint16(Range0To5)); err != nil {
			return err
		}
		d.ranges[ch] = Range0To5
	}
	d.hv = &cn0586{}
	d.dev.Attrs = append(append([]iio.Attr(nil), hvoutAttrs...), globalAttrs...)
	if err := d.SetHVOutEnabled(false); err != nil {
		return err
	}
	return d.SetHVOutRange(HVOutNeg100To100)
}

// SetHVOutEnabled drives the enable DAC to full scale or zero
func (d *Device) SetHVOutEnabled(on bool) error {
	if d.hv == nil {
		return iio.ErrNotSupported
	}
	var code uint16
	if on {
		code = 0xFFFF
	}
	if err := d.SetCode(hvChanEnable, code); err != nil {
		return err
	}
	d.hv.enabled = on
	return nil
}

// SetHVOutRange disables the output, then programs DAC A's span and the
// codes that put the output at its range's zero
func (d *Device) SetHVOutRange(rng int) error {
	if d.hv == nil {
		return iio.ErrNotSupported
	}
	if rng < 0 || rng >= len(hvRanges) {
		return iio.ErrInvalid
	}
	if err := d.write(RegDAC, hvChanEnable, 0); err != nil {
		return err
	}
	d.hv.enabled = false

	r := hvRanges[rng]
	if err := d.write(RegRange, hvChanVolts, uint16(r.span)); err != nil {
		return err
	}
	d.ranges[hvChanVolts] = r.span
	if err := d.write(RegDAC, hvChanVolts, r.codeA); err != nil {
		return err
	}
	if err := d.write(RegDAC, hvChanOffset, r.codeB); err != nil {
		return err
	}
	if err := d.Load(); err != nil {
		return err
	}
	d.hv.rng = rng
	d.hv.volts = 0
	return nil
}

// SetHVOutVolts sets the output within the current range
func (d *Device) SetHVOutVolts(v float64) error {
	if d.hv == nil {
		return iio.ErrNotSupported
	}
	r := hvRanges[d.hv.rng]
	if v < r.min || v > r.max {
		return iio.ErrInvalid
	}
	a := v/hvGain + r.offset
	code := uint32(maxCode * a / rangeSpan[r.span])
	if a >= r.top || code > 0xFFFF {
		code = 0xFFFF
	}
	if err := d.SetCode(hvChanVolts, uint16(code)); err != nil {
		return err
	}
	d.hv.volts = v
	return nil
}

func (d *Device) readHVOut(id iio.AttrID) (string, error) {
	if d.hv == nil {
		return "", iio.ErrNotSupported
	}
	switch id {
	case attrHVOutState:
		return boolName(HVOutStateNames, d.hv.enabled), nil
	case attrHVOutStateAvailable:
		return HVOutStateNames.Available(), nil
	case attrHVOutRange:
		return HVOutRangeNames.Name(d.hv.rng), nil
	case attrHVOutRangeAvailable:
		return HVOutRangeNames.Available(), nil
	case attrHVOutVolts:
		return strconv.FormatFloat(d.hv.volts, 'f', 10, 64), nil
	}
	return "", iio.ErrInvalid
}

func (d *Device) writeHVOut(id iio.AttrID, value string) error {
	if d.hv == nil {
		return iio.ErrNotSupported
	}
	switch id {
	case attrHVOutState:
		i, ok := HVOutStateNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.SetHVOutEnabled(i == 1)
	case attrHVOutRange:
		i, ok := HVOutRangeNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.SetHVOutRange(i)
	case attrHVOutVolts:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return iio.ErrInvalid
		}
		return d.SetHVOutVolts(v)
	}
	return iio.ErrInvalid
}
