package ad5754r

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"iioboard/iio"
	"iioboard/internal/sim"
)

func newTestDevice(t *testing.T) (*Device, *sim.AD5754R, *sim.Pin) {
	t.Helper()
	chip := sim.NewAD5754R()
	ldac := &sim.Pin{}
	ldac.OnChange = func(high bool) {
		if !high {
			// Falling LDAC loads the outputs, same as the software command
			_ = chip.Tx([]byte{RegControl<<3 | CtrlLoad, 0, 0}, nil)
		}
	}
	d := New(chip, ldac)
	if err := d.Configure(Config{Range: Range0To5, SampleRate: 1000}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return d, chip, ldac
}

func TestConfigure(t *testing.T) {
	d, chip, ldac := newTestDevice(t)

	if chip.Power() != 0x1F {
		t.Errorf("Power control = %#x, want all channels and reference up", chip.Power())
	}
	if !ldac.Level() {
		t.Error("LDAC should idle high")
	}
	if err := d.IIODevice().Validate(); err != nil {
		t.Errorf("Descriptor invalid: %v", err)
	}
}

func TestRawWriteLoadsOutput(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	if err := dev.WriteAttr(2, "raw", "40000"); err != nil {
		t.Fatalf("raw write failed: %v", err)
	}
	if chip.Output(2) != 40000 {
		t.Errorf("Output = %d, want 40000", chip.Output(2))
	}
	if v, err := dev.ReadAttr(2, "raw"); err != nil || v != "40000" {
		t.Errorf("raw = %s, %v", v, err)
	}

	// dac_register writes the input register only
	if err := dev.WriteAttr(2, "dac_register", "100"); err != nil {
		t.Fatal(err)
	}
	if chip.Output(2) != 40000 {
		t.Error("dac_register write reached the output without LDAC")
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "sw_ldac_trigger", "Trigger"); err != nil {
		t.Fatal(err)
	}
	if chip.Output(2) != 100 {
		t.Errorf("Output after software LDAC = %d", chip.Output(2))
	}

	if err := dev.WriteAttr(1, "dac_register", "7"); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "hw_ldac_trigger", "Trigger"); err != nil {
		t.Fatal(err)
	}
	if chip.Output(1) != 7 {
		t.Errorf("Output after hardware LDAC = %d", chip.Output(1))
	}
	if v, _ := dev.ReadAttr(iio.GlobalChannel, "hw_ldac_trigger"); v != "Trigger" {
		t.Errorf("hw_ldac_trigger reads %q", v)
	}
}

func TestRangePrefixMatch(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	tests := []struct {
		value string
		want  Range
	}{
		{"neg10v_to_10v", RangeNeg10To10},
		{"neg10v8", RangeNeg10V8To10V8},
		{"0v_to_10v8", Range0To10V8},
		{"neg", RangeNeg5To5},
		{"0v_to_5v\n", Range0To5},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if err := dev.WriteAttr(0, "range", tt.value); err != nil {
				t.Fatalf("range write failed: %v", err)
			}
			if Range(chip.Range(0)) != tt.want {
				t.Errorf("Chip range = %d, want %d", chip.Range(0), tt.want)
			}
			if v, _ := dev.ReadAttr(0, "range"); v != RangeNames[tt.want] {
				t.Errorf("range reads %q", v)
			}
		})
	}
}

func TestUnknownEnumRejected(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	tests := []struct {
		channel int
		attr    string
		value   string
	}{
		{0, "range", "pos5v"},
		{0, "range", ""},
		{1, "powerup", "sleep"},
		{iio.GlobalChannel, "clear_setting", "1v"},
		{iio.GlobalChannel, "sdo_disable", "off"},
		{iio.GlobalChannel, "clamp_enable", "yes"},
		{iio.GlobalChannel, "int_ref_powerup", "on"},
	}
	for _, tt := range tests {
		t.Run(tt.attr+"="+tt.value, func(t *testing.T) {
			before := chip.FrameCount()
			if err := dev.WriteAttr(tt.channel, tt.attr, tt.value); !errors.Is(err, iio.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
			if chip.FrameCount() != before {
				t.Error("Rejected value reached the chip")
			}
		})
	}
}

func TestScaleAndOffset(t *testing.T) {
	d, _, _ := newTestDevice(t)
	dev := d.IIODevice()

	if err := dev.WriteAttr(3, "range", "neg10v_to_10v"); err != nil {
		t.Fatal(err)
	}
	// 20 V span over 16 bits
	v, _ := dev.ReadAttr(3, "scale")
	if scale, err := strconv.ParseFloat(v, 64); err != nil || math.Abs(scale-20000.0/65536) > 1e-9 {
		t.Errorf("scale = %s", v)
	}
	if err := dev.WriteAttr(3, "raw", "50000"); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadAttr(3, "raw"); err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.ReadAttr(3, "offset"); v != "-65536" {
		t.Errorf("offset = %s, want -65536", v)
	}

	// Unipolar ranges never carry an offset
	if err := dev.WriteAttr(0, "raw", "50000"); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadAttr(0, "raw"); err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.ReadAttr(0, "offset"); v != "0" {
		t.Errorf("offset = %s, want 0", v)
	}
}

func TestControlAttributes(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	if err := dev.WriteAttr(iio.GlobalChannel, "clamp_enable", "enable"); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "tsd_enable", "en"); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "clear_setting", "midscale_code"); err != nil {
		t.Fatal(err)
	}
	if chip.Control() != CtrlClampEn|CtrlTSDEn|CtrlClearSel {
		t.Errorf("Control = %#x", chip.Control())
	}
	if v, _ := dev.ReadAttr(iio.GlobalChannel, "tsd_enable"); v != "enable" {
		t.Errorf("tsd_enable = %s", v)
	}

	if err := dev.WriteAttr(0, "raw", "1234"); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "all_chns_clear", "Clear"); err != nil {
		t.Fatal(err)
	}
	if chip.Output(0) != 0x8000 {
		t.Errorf("Midscale clear output = %#x", chip.Output(0))
	}

	if err := dev.WriteAttr(1, "powerup", "powerdown"); err != nil {
		t.Fatal(err)
	}
	if chip.Power() != 0x1D {
		t.Errorf("Power = %#x after powering down channel 1", chip.Power())
	}
	if v, _ := dev.ReadAttr(1, "powerup"); v != "powerdown" {
		t.Errorf("powerup = %s", v)
	}
}

func TestAlerts(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	tests := []struct {
		oc, tsd bool
		want    string
	}{
		{false, false, "None"},
		{true, false, "OC"},
		{false, true, "TSD"},
		{true, true, "OC_and_TSD"},
	}
	for _, tt := range tests {
		chip.OC[2] = tt.oc
		chip.TSD = tt.tsd
		if v, err := dev.ReadAttr(iio.GlobalChannel, "oc_tsd"); err != nil || v != tt.want {
			t.Errorf("oc_tsd = %q, %v, want %q", v, err, tt.want)
		}
	}

	// With SDO disabled nothing can be read back
	if err := dev.WriteAttr(iio.GlobalChannel, "sdo_disable", "disable"); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadAttr(iio.GlobalChannel, "oc_tsd"); !errors.Is(err, iio.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}

func TestRegisterAccess(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	dev := d.IIODevice()

	// Range register of channel B: reg 1, addr 1
	if err := dev.WriteRegister(RegRange<<3|1, uint32(RangeNeg5To5)); err != nil {
		t.Fatal(err)
	}
	if chip.Range(1) != uint16(RangeNeg5To5) {
		t.Errorf("Range(1) = %d", chip.Range(1))
	}
	if v, err := dev.ReadRegister(RegRange<<3 | 1); err != nil || v != uint32(RangeNeg5To5) {
		t.Errorf("Register read = %d, %v", v, err)
	}
	if _, err := dev.ReadRegister(RegisterMax + 1); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestSamplingFrequency(t *testing.T) {
	d, _, _ := newTestDevice(t)
	dev := d.IIODevice()

	if v, _ := dev.ReadAttr(iio.GlobalChannel, "sampling_frequency"); v != "1000" {
		t.Errorf("sampling_frequency = %s", v)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "sampling_frequency", "2000"); err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.ReadAttr(iio.GlobalChannel, "sampling_frequency"); v != "2000" {
		t.Errorf("sampling_frequency = %s", v)
	}
}
