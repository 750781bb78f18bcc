package ad5754r

import (
	"strconv"

	"iioboard/iio"
)

// Attribute value tables. Setters match by prefix, so "neg10" selects
// neg10v_to_10v.
var (
	PowerNames  = iio.Enum{"powerdown", "powerup"}
	ClearNames  = iio.Enum{"0v", "midscale_code"}
	SDONames    = iio.Enum{"enable", "disable"}
	SwitchNames = iio.Enum{"disable", "enable"}
	AlertNames  = iio.Enum{"None", "OC", "TSD", "OC_and_TSD"}
	ClearAction = iio.Enum{"Clear"}
	LDACAction  = iio.Enum{"Trigger"}
)

// MaxSampleRate bounds the buffered output update rate
const MaxSampleRate = 50000

// Attribute IDs
const (
	attrRaw iio.AttrID = iota
	attrDACRegister
	attrScale
	attrOffset
	attrPowerup
	attrPowerupAvailable
	attrRange
	attrRangeAvailable
	attrIntRefPowerup
	attrIntRefPowerupAvailable
	attrClearSetting
	attrClearSettingAvailable
	attrSDODisable
	attrSDODisableAvailable
	attrClampEnable
	attrClampEnableAvailable
	attrTSDEnable
	attrTSDEnableAvailable
	attrOCTSD
	attrOCTSDAvailable
	attrAllChnsClear
	attrAllChnsClearAvailable
	attrSWLDACTrigger
	attrSWLDACTriggerAvailable
	attrHWLDACTrigger
	attrHWLDACTriggerAvailable
	attrSamplingFrequency
	attrHVOutState
	attrHVOutStateAvailable
	attrHVOutRange
	attrHVOutRangeAvailable
	attrHVOutVolts
)

var channelAttrs = []iio.Attr{
	{Name: "raw", ID: attrRaw},
	{Name: "dac_register", ID: attrDACRegister},
	{Name: "scale", ID: attrScale},
	{Name: "offset", ID: attrOffset},
	{Name: "powerup", ID: attrPowerup},
	{Name: "powerup_available", ID: attrPowerupAvailable},
	{Name: "range", ID: attrRange},
	{Name: "range_available", ID: attrRangeAvailable},
}

var globalAttrs = []iio.Attr{
	{Name: "int_ref_powerup", ID: attrIntRefPowerup},
	{Name: "int_ref_powerup_available", ID: attrIntRefPowerupAvailable},
	{Name: "clear_setting", ID: attrClearSetting},
	{Name: "clear_setting_available", ID: attrClearSettingAvailable},
	{Name: "sdo_disable", ID: attrSDODisable},
	{Name: "sdo_disable_available", ID: attrSDODisableAvailable},
	{Name: "clamp_enable", ID: attrClampEnable},
	{Name: "clamp_enable_available", ID: attrClampEnableAvailable},
	{Name: "tsd_enable", ID: attrTSDEnable},
	{Name: "tsd_enable_available", ID: attrTSDEnableAvailable},
	{Name: "oc_tsd", ID: attrOCTSD},
	{Name: "oc_tsd_available", ID: attrOCTSDAvailable},
	{Name: "all_chns_clear", ID: attrAllChnsClear},
	{Name: "all_chns_clear_available", ID: attrAllChnsClearAvailable},
	{Name: "sw_ldac_trigger", ID: attrSWLDACTrigger},
	{Name: "sw_ldac_trigger_available", ID: attrSWLDACTriggerAvailable},
	{Name: "hw_ldac_trigger", ID: attrHWLDACTrigger},
	{Name: "hw_ldac_trigger_available", ID: attrHWLDACTriggerAvailable},
	{Name: "sampling_frequency", ID: attrSamplingFrequency},
}

func channels() []iio.Channel {
	names := [NumChannels]string{"voltage0", "voltage1", "voltage2", "voltage3"}
	chs := make([]iio.Channel, NumChannels)
	for i := range chs {
		chs[i] = iio.Channel{
			Name:      names[i],
			Index:     i,
			Direction: iio.Output,
			ScanType: iio.ScanType{
				Sign:        'u',
				RealBits:    16,
				StorageBits: 16,
			},
		}
	}
	return chs
}

func boolName(e iio.Enum, on bool) string {
	if on {
		return e[1]
	}
	return e[0]
}

// ReadAttr implements iio.AttrHandler
func (d *Device) ReadAttr(id iio.AttrID, ch *iio.Channel) (string, error) {
	switch id {
	case attrIntRefPowerup:
		return boolName(PowerNames, d.intRef), nil
	case attrIntRefPowerupAvailable, attrPowerupAvailable:
		return PowerNames.Available(), nil
	case attrClearSetting:
		return boolName(ClearNames, d.clearSel), nil
	case attrClearSettingAvailable:
		return ClearNames.Available(), nil
	case attrSDODisable:
		return boolName(SDONames, d.sdoDis), nil
	case attrSDODisableAvailable:
		return SDONames.Available(), nil
	case attrClampEnable:
		return boolName(SwitchNames, d.clampEn), nil
	case attrTSDEnable:
		return boolName(SwitchNames, d.tsdEn), nil
	case attrClampEnableAvailable, attrTSDEnableAvailable:
		return SwitchNames.Available(), nil
	case attrOCTSD:
		oc, tsd, err := d.Alerts()
		if err != nil {
			return "", err
		}
		i := 0
		if oc {
			i |= 1
		}
		if tsd {
			i |= 2
		}
		return AlertNames[i], nil
	case attrOCTSDAvailable:
		return AlertNames.Available(), nil
	case attrAllChnsClear, attrAllChnsClearAvailable:
		return ClearAction[0], nil
	case attrSWLDACTrigger, attrSWLDACTriggerAvailable, attrHWLDACTrigger, attrHWLDACTriggerAvailable:
		return LDACAction[0], nil
	case attrSamplingFrequency:
		return strconv.FormatUint(uint64(d.rate), 10), nil
	case attrRangeAvailable:
		return RangeNames.Available(), nil
	case attrHVOutState, attrHVOutStateAvailable, attrHVOutRange, attrHVOutRangeAvailable, attrHVOutVolts:
		return d.readHVOut(id)
	}

	if ch == nil {
		return "", iio.ErrInvalid
	}
	switch id {
	case attrRaw, attrDACRegister:
		v, err := d.read(RegDAC, byte(ch.Index))
		if err != nil {
			return "", err
		}
		d.offset[ch.Index] = 0
		if d.ranges[ch.Index].Bipolar() && v >= twosCompHalf {
			d.offset[ch.Index] = -maxCode
		}
		return strconv.FormatUint(uint64(v), 10), nil
	case attrScale:
		return strconv.FormatFloat(d.Scale(ch.Index), 'f', 10, 64), nil
	case attrOffset:
		return strconv.FormatInt(d.offset[ch.Index], 10), nil
	case attrPowerup:
		return boolName(PowerNames, d.powered[ch.Index]), nil
	case attrRange:
		return RangeNames.Name(int(d.ranges[ch.Index])), nil
	}
	return "", iio.ErrInvalid
}

// WriteAttr implements iio.AttrHandler. Enumerated values match by prefix;
// a value matching no entry fails with ErrInvalid and nothing is written.
func (d *Device) WriteAttr(id iio.AttrID, ch *iio.Channel, value string) error {
	switch id {
	case attrIntRefPowerup:
		i, ok := PowerNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setPower(i == 1, d.powered)
	case attrClearSetting:
		i, ok := ClearNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setControl(i == 1, d.sdoDis, d.clampEn, d.tsdEn)
	case attrSDODisable:
		i, ok := SDONames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setControl(d.clearSel, i == 1, d.clampEn, d.tsdEn)
	case attrClampEnable:
		i, ok := SwitchNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setControl(d.clearSel, d.sdoDis, i == 1, d.tsdEn)
	case attrTSDEnable:
		i, ok := SwitchNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		return d.setControl(d.clearSel, d.sdoDis, d.clampEn, i == 1)
	case attrAllChnsClear:
		return d.Clear()
	case attrSWLDACTrigger:
		return d.Load()
	case attrHWLDACTrigger:
		return d.TriggerLDAC()
	case attrSamplingFrequency:
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil || v == 0 {
			return iio.ErrInvalid
		}
		if v > MaxSampleRate {
			v = MaxSampleRate
		}
		d.rate = uint32(v)
		return d.applyRate()
	case attrHVOutState, attrHVOutRange, attrHVOutVolts:
		return d.writeHVOut(id, value)
	case attrOCTSD, attrScale, attrOffset,
		attrPowerupAvailable, attrRangeAvailable, attrIntRefPowerupAvailable,
		attrClearSettingAvailable, attrSDODisableAvailable, attrClampEnableAvailable,
		attrTSDEnableAvailable, attrOCTSDAvailable, attrAllChnsClearAvailable,
		attrSWLDACTriggerAvailable, attrHWLDACTriggerAvailable,
		attrHVOutStateAvailable, attrHVOutRangeAvailable:
		// Read-only
		return nil
	}

	if ch == nil {
		return iio.ErrInvalid
	}
	switch id {
	case attrRaw:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return iio.ErrInvalid
		}
		return d.SetCode(ch.Index, uint16(v))
	case attrDACRegister:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return iio.ErrInvalid
		}
		return d.write(RegDAC, byte(ch.Index), uint16(v))
	case attrPowerup:
		i, ok := PowerNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		p := d.powered
		p[ch.Index] = i == 1
		return d.setPower(d.intRef, p)
	case attrRange:
		i, ok := RangeNames.Prefix(value)
		if !ok {
			return iio.ErrInvalid
		}
		if err := d.write(RegRange, byte(ch.Index), uint16(i)); err != nil {
			return err
		}
		d.ranges[ch.Index] = Range(i)
		return nil
	}
	return iio.ErrInvalid
}
