package ad4130

import (
	"errors"
	"testing"

	"iioboard/iio"
)

func TestInternalCalibration(t *testing.T) {
	d, chip := newTestDevice(t, Config{PGA: 1})
	dev := d.IIODevice()

	if v, _ := dev.ReadAttr(2, "internal_calibration"); v != "NA" {
		t.Errorf("Status before calibration = %q", v)
	}

	// Full scale first, with the offset back at its reset value
	if err := dev.WriteAttr(2, "internal_calibration", "start_calibration"); err != nil {
		t.Fatal(err)
	}
	if got := chip.Register(int(GainReg(0))); got != chip.IntGain {
		t.Errorf("GAIN_0 = %#x", got)
	}
	want := "00555555" + "00555400" + "00000000" + "00000000" + "calibration_done"
	if v, _ := dev.ReadAttr(2, "internal_calibration"); v != want {
		t.Errorf("Status after full scale = %q", v)
	}

	if err := dev.WriteAttr(2, "internal_calibration", "start"); err != nil {
		t.Fatal(err)
	}
	want = "00555555" + "00555400" + "00800000" + "00800010" + "calibration_done"
	if v, _ := dev.ReadAttr(2, "internal_calibration"); v != want {
		t.Errorf("Status after zero scale = %q", v)
	}
	// Reading the completed result rewinds the sequence
	if v, _ := dev.ReadAttr(2, "internal_calibration"); v != "NA" {
		t.Errorf("Second read = %q", v)
	}
	if chip.Register(int(ChannelReg(2)))&ChannelEnable != 0 {
		t.Error("Channel left enabled")
	}

	// The coefficients return before the next raw read
	if err := dev.WriteRegister(GainReg(0), 0x400000); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadAttr(2, "raw"); err != nil {
		t.Fatal(err)
	}
	if got := chip.Register(int(GainReg(0))); got != chip.IntGain {
		t.Errorf("GAIN_0 after raw = %#x, want the calibrated %#x", got, chip.IntGain)
	}
}

func TestInternalCalibrationSkippedAtUnityGain(t *testing.T) {
	d, chip := newTestDevice(t, Config{})
	dev := d.IIODevice()

	if err := dev.WriteAttr(0, "internal_calibration", "start_calibration"); err != nil {
		t.Fatal(err)
	}
	if got := chip.Register(int(GainReg(0))); got != 0x555555 {
		t.Errorf("GAIN_0 = %#x, want it untouched", got)
	}
	want := "00555555" + "00555555" + "00000000" + "00000000" + "calibration_skipped"
	if v, _ := dev.ReadAttr(0, "internal_calibration"); v != want {
		t.Errorf("Status = %q", v)
	}
	if v, _ := dev.ReadAttr(0, "internal_calibration"); v != "NA" {
		t.Errorf("Status after the skip was read = %q", v)
	}
}

func TestSystemCalibration(t *testing.T) {
	d, chip := newTestDevice(t, Config{PGA: 2})
	dev := d.IIODevice()

	// Zero scale, then full scale once the host applies the reference load
	for i := 0; i < 2; i++ {
		if err := dev.WriteAttr(1, "system_calibration", "start_calibration"); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	want := "00555555" + "00555800" + "00800000" + "007ffff0" + "calibration_done"
	if v, _ := dev.ReadAttr(1, "system_calibration"); v != want {
		t.Errorf("Status = %q", v)
	}
	if chip.Register(int(OffsetReg(0))) != chip.SysOffset {
		t.Errorf("OFFSET_0 = %#x", chip.Register(int(OffsetReg(0))))
	}
}

func TestCalibrationFailure(t *testing.T) {
	d, chip := newTestDevice(t, Config{PGA: 1})
	chip.FailCalibration = true
	dev := d.IIODevice()

	if err := dev.WriteAttr(0, "system_calibration", "start_calibration"); !errors.Is(err, iio.ErrIO) {
		t.Fatalf("Unchanged offset = %v, want ErrIO", err)
	}
	want := "00000000" + "00000000" + "00800000" + "00800000" + "calibration_failed"
	if v, _ := dev.ReadAttr(0, "system_calibration"); v != want {
		t.Errorf("Status = %q", v)
	}
	if v, _ := dev.ReadAttr(0, "system_calibration"); v != "NA" {
		t.Errorf("Status after the failure was read = %q", v)
	}

	for _, value := range []string{"stop", ""} {
		if err := dev.WriteAttr(0, "internal_calibration", value); !errors.Is(err, iio.ErrInvalid) {
			t.Errorf("%q = %v, want ErrInvalid", value, err)
		}
	}
}

func TestLoadcellCalibration(t *testing.T) {
	d, chip := newTestDevice(t, Config{Demo: Loadcell, Bipolar: true, PGA: 7})
	dev := d.IIODevice()

	chip.SetInput(0, 0x800100)
	if err := dev.WriteAttr(0, "loadcell_offset_calibration", "start_calibration"); err != nil {
		t.Fatal(err)
	}
	chip.SetInput(0, 0x8A0000)
	if err := dev.WriteAttr(0, "loadcell_gain_calibration", "start_calibration"); err != nil {
		t.Fatal(err)
	}
	if n := len(chip.ConversionLog()); n != 2*loadcellSamples {
		t.Errorf("Conversions = %d, want %d", n, 2*loadcellSamples)
	}
	if v, _ := dev.ReadAttr(0, "loadcell_offset_calibration"); v != "8388864" {
		t.Errorf("loadcell_offset_calibration = %s", v)
	}
	if v, _ := dev.ReadAttr(0, "loadcell_gain_calibration"); v != "9043968" {
		t.Errorf("loadcell_gain_calibration = %s", v)
	}
	if off, gain := d.LoadcellCalibration(); off != 0x800100 || gain != 0x8A0000 {
		t.Errorf("LoadcellCalibration = %#x, %#x", off, gain)
	}

	// Only the load cell configuration carries these attributes
	u, _ := newTestDevice(t, Config{})
	if _, err := u.IIODevice().ReadAttr(0, "loadcell_gain_calibration"); err == nil {
		t.Error("loadcell attribute on a plain voltage input")
	}
}
