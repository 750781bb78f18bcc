package ad469x

import (
	"errors"
	"testing"
	"time"

	"iioboard/acquire"
	"iioboard/hal"
	"iioboard/iio"
	"iioboard/internal/sim"
)

func newTestDevice(t *testing.T) (*Device, *sim.AD469xRig) {
	t.Helper()
	rig := sim.NewAD469xRig()
	rig.PWM.Manual = true
	d := New(rig.Chip, rig.CNV, rig.Busy, rig.PWM)
	if err := d.Configure(Config{Reference: Ref5V, Timeout: 5 * time.Millisecond}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return d, rig
}

func TestConfigure(t *testing.T) {
	d, rig := newTestDevice(t)

	if got := rig.PWM.Period(); got != 16000 {
		t.Errorf("PWM period = %d ns, want 16000", got)
	}
	if got := rig.PWM.DutyCycle(); got != 1600 {
		t.Errorf("PWM duty = %d ns, want 1600", got)
	}
	if err := d.IIODevice().Validate(); err != nil {
		t.Errorf("Descriptor invalid: %v", err)
	}
	want := 5.0 / 65535 * 1000
	if d.Scale() != want {
		t.Errorf("Scale = %v, want %v", d.Scale(), want)
	}
}

func TestEnumAttributes(t *testing.T) {
	d, rig := newTestDevice(t)
	dev := d.IIODevice()

	if err := dev.WriteAttr(iio.GlobalChannel, "reference_sel", "2P5V\n"); err != nil {
		t.Fatalf("reference_sel write failed: %v", err)
	}
	got, err := dev.ReadAttr(iio.GlobalChannel, "reference_sel")
	if err != nil || got != "2P5V" {
		t.Errorf("reference_sel = %q, %v", got, err)
	}

	tests := []struct {
		name    string
		channel int
		attr    string
		value   string
	}{
		{"unknown reference", iio.GlobalChannel, "reference_sel", "1V"},
		{"empty reference", iio.GlobalChannel, "reference_sel", ""},
		{"unknown high z", 3, "ain_high_z", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig.Chip.ResetLog()
			err := dev.WriteAttr(tt.channel, tt.attr, tt.value)
			if !errors.Is(err, iio.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
			if rig.Chip.Writes != 0 {
				t.Errorf("Rejected value caused %d register writes", rig.Chip.Writes)
			}
		})
	}

	if err := dev.WriteAttr(3, "ain_high_z", "enable"); err != nil {
		t.Fatalf("ain_high_z write failed: %v", err)
	}
	if rig.Chip.Register(int(ConfigIn(3)))&ConfigInHighZ == 0 {
		t.Error("AINHIGHZ bit not set")
	}
	if v, _ := dev.ReadAttr(3, "ain_high_z"); v != "enable" {
		t.Errorf("ain_high_z = %q", v)
	}
	if v, _ := dev.ReadAttr(0, "ain_high_z_available"); v != "disable enable" {
		t.Errorf("ain_high_z_available = %q", v)
	}
}

func TestReadOnlyWritesIgnored(t *testing.T) {
	d, rig := newTestDevice(t)
	rig.Chip.ResetLog()
	for _, attr := range []string{"raw", "scale", "offset"} {
		if err := d.IIODevice().WriteAttr(0, attr, "123"); err != nil {
			t.Errorf("Write to %s returned %v", attr, err)
		}
	}
	if rig.Chip.Writes != 0 {
		t.Error("Read-only writes reached the chip")
	}
}

func TestSamplingFrequency(t *testing.T) {
	d, rig := newTestDevice(t)
	dev := d.IIODevice()

	if err := dev.WriteAttr(iio.GlobalChannel, "sampling_frequency", "1000"); err != nil {
		t.Fatalf("sampling_frequency write failed: %v", err)
	}
	if rig.PWM.Period() != 1000000 || rig.PWM.DutyCycle() != 100000 {
		t.Errorf("PWM = %d/%d", rig.PWM.Period(), rig.PWM.DutyCycle())
	}
	if v, _ := dev.ReadAttr(iio.GlobalChannel, "sampling_frequency"); v != "1000" {
		t.Errorf("sampling_frequency = %q", v)
	}

	// Clamped to the converter maximum
	if err := dev.WriteAttr(iio.GlobalChannel, "sampling_frequency", "1000000"); err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.ReadAttr(iio.GlobalChannel, "sampling_frequency"); v != "62500" {
		t.Errorf("sampling_frequency = %q, want clamp to 62500", v)
	}
	if err := dev.WriteAttr(iio.GlobalChannel, "sampling_frequency", "fast"); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestRawAndScale(t *testing.T) {
	d, rig := newTestDevice(t)
	dev := d.IIODevice()
	rig.Chip.SetInput(5, 0x1234)

	v, err := dev.ReadAttr(5, "raw")
	if err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if v != "4660" {
		t.Errorf("raw = %s, want 4660", v)
	}
	if rig.Chip.Converting() {
		t.Error("Chip left in conversion mode")
	}

	// Halving the gain correction halves the scale
	if err := dev.WriteAttr(5, "gain_correction", "16384"); err != nil {
		t.Fatal(err)
	}
	s, _ := dev.ReadAttr(5, "scale")
	base, _ := dev.ReadAttr(4, "scale")
	if s == base {
		t.Errorf("Gain correction not applied to scale: %s", s)
	}
	if v, _ := dev.ReadAttr(5, "gain_correction"); v != "16384" {
		t.Errorf("gain_correction = %s", v)
	}
	if err := dev.WriteAttr(5, "offset_correction", "0x0102"); err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.ReadAttr(5, "offset_correction"); v != "258" {
		t.Errorf("offset_correction = %s", v)
	}
}

func TestBipolarOffset(t *testing.T) {
	rig := sim.NewAD469xRig()
	d := New(rig.Chip, rig.CNV, rig.Busy, rig.PWM)
	if err := d.Configure(Config{Polarity: PseudoBipolar, Reference: Ref5V}); err != nil {
		t.Fatal(err)
	}
	if want := 2.5 / 32768 * 1000; d.Scale() != want {
		t.Errorf("Bipolar scale = %v, want %v", d.Scale(), want)
	}
	rig.Chip.SetInput(0, 40000)
	if _, err := d.IIODevice().ReadAttr(0, "raw"); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.IIODevice().ReadAttr(0, "offset"); v != "-65535" {
		t.Errorf("offset = %s, want -65535", v)
	}
}

func TestOffsetIncludesCorrection(t *testing.T) {
	rig := sim.NewAD469xRig()
	d := New(rig.Chip, rig.CNV, rig.Busy, rig.PWM)
	if err := d.Configure(Config{Polarity: PseudoBipolar, Reference: Ref5V}); err != nil {
		t.Fatal(err)
	}
	dev := d.IIODevice()
	if err := dev.WriteAttr(2, "offset_correction", "100"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input uint16
		want  string
	}{
		{"positive half", 1000, "100"},
		{"negative half", 40000, "-65435"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig.Chip.SetInput(2, tt.input)
			if _, err := dev.ReadAttr(2, "raw"); err != nil {
				t.Fatal(err)
			}
			if v, _ := dev.ReadAttr(2, "offset"); v != tt.want {
				t.Errorf("offset = %s, want %s", v, tt.want)
			}
		})
	}
	// Other channels keep their own correction
	if v, _ := dev.ReadAttr(3, "offset"); v != "0" {
		t.Errorf("channel 3 offset = %s, want 0", v)
	}
}

func TestReferenceSelBusyWhileConverting(t *testing.T) {
	d, rig := newTestDevice(t)
	dev := d.IIODevice()

	if err := d.PrepareScan(iio.ScanMask(1)); err != nil {
		t.Fatal(err)
	}
	if err := d.EnterConversion(); err != nil {
		t.Fatal(err)
	}
	rig.Chip.ResetLog()
	if _, err := dev.ReadAttr(iio.GlobalChannel, "reference_sel"); !errors.Is(err, iio.ErrBusy) {
		t.Errorf("Expected ErrBusy while converting, got %v", err)
	}
	if rig.Chip.Frames != 0 {
		t.Error("Register frame sent in conversion mode")
	}
	if v, err := dev.ReadAttr(iio.GlobalChannel, "reference_sel_available"); err != nil || v == "" {
		t.Errorf("reference_sel_available = %q, %v", v, err)
	}

	if err := d.ExitConversion(); err != nil {
		t.Fatal(err)
	}
	if v, err := dev.ReadAttr(iio.GlobalChannel, "reference_sel"); err != nil || v != "5V" {
		t.Errorf("reference_sel after exit = %q, %v", v, err)
	}
}

func TestRegisterAccess(t *testing.T) {
	d, rig := newTestDevice(t)
	dev := d.IIODevice()

	if v, err := dev.ReadRegister(RegDeviceType); err != nil || v != DeviceTypeID {
		t.Errorf("DEVICE_TYPE = %#x, %v", v, err)
	}
	if err := dev.WriteRegister(RegScratchPad, 0x5A); err != nil {
		t.Fatal(err)
	}
	if rig.Chip.Register(RegScratchPad) != 0x5A {
		t.Error("Scratch pad write not applied")
	}
	if _, err := dev.ReadRegister(RegisterMax + 1); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid past the map, got %v", err)
	}

	if err := d.EnterConversion(); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.ReadRegister(RegScratchPad); !errors.Is(err, iio.ErrBusy) {
		t.Errorf("Expected ErrBusy while converting, got %v", err)
	}
	if err := d.ExitConversion(); err != nil {
		t.Fatal(err)
	}
	if v, err := dev.ReadRegister(RegScratchPad); err != nil || v != 0x5A {
		t.Errorf("Register read after exit = %#x, %v", v, err)
	}
}

func TestBurstSequencer(t *testing.T) {
	d, rig := newTestDevice(t)
	for ch := 0; ch < NumChannels; ch++ {
		rig.Chip.SetInput(ch, uint16(0x100*ch+ch))
	}

	buf := iio.NewBuffer(256)
	s := acquire.NewSession(d, buf, d.CaptureConfig())
	mask := iio.ScanMask(1<<2 | 1<<7 | 1<<12)
	n, err := s.Burst(mask, 4, d.Pulser(), d.Ready())
	if err != nil || n != 12 {
		t.Fatalf("Burst = %d, %v", n, err)
	}

	data := make([]byte, 24)
	buf.Read(data)
	want := []int{2, 7, 12}
	st := d.IIODevice().Channels[0].ScanType
	for i := 0; i < 12; i++ {
		ch := want[i%3]
		if got := st.Decode(data[2*i:]); got != int32(0x100*ch+ch) {
			t.Errorf("Sample %d = %#x, want channel %d", i, got, ch)
		}
	}
	if rig.Chip.Converting() {
		t.Error("Chip left in conversion mode after burst")
	}
	if v, err := d.ReadRegister(RegVendorL); err != nil || v != VendorLID {
		t.Errorf("Register read after burst = %#x, %v", v, err)
	}
}

func TestBurstTimeout(t *testing.T) {
	d, rig := newTestDevice(t)
	rig.Chip.StuckBusy = true

	s := acquire.NewSession(d, iio.NewBuffer(64), d.CaptureConfig())
	start := time.Now()
	n, err := s.Burst(iio.ScanMask(3), 2, d.Pulser(), d.Ready())
	if !errors.Is(err, iio.ErrTimeout) || n != 0 {
		t.Errorf("Burst = %d, %v", n, err)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout not bounded by the deadline")
	}
	if rig.Chip.Converting() {
		t.Error("Chip left in conversion mode after timeout")
	}
}

func TestContinuousCapture(t *testing.T) {
	d, rig := newTestDevice(t)
	rig.Chip.SetInput(0, 0xAAAA)
	rig.Chip.SetInput(1, 0x5555)

	buf := iio.NewBuffer(64)
	s := acquire.NewSession(d, buf, d.CaptureConfig())
	trig := &hal.PWMTrigger{PWM: rig.PWM, IRQ: rig.IRQ}
	if err := s.StartContinuous(iio.ScanMask(3), trig); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}
	rig.PWM.Tick(5)
	if err := s.Finish(time.Now().Add(10 * time.Millisecond)); !errors.Is(err, iio.ErrTimeout) {
		// Nothing drives the trigger after the stop request, so the
		// foreground forces the exit
		t.Errorf("Finish = %v", err)
	}
	if rig.Chip.Converting() {
		t.Error("Chip left in conversion mode")
	}
	// Five edges: two whole scans published, the third never completed
	if buf.Written() != 8 {
		t.Fatalf("Expected two whole scans (8 bytes), got %d", buf.Written())
	}
	data := make([]byte, 8)
	buf.Read(data)
	st := d.IIODevice().Channels[0].ScanType
	for i, want := range []int32{0xAAAA, 0x5555, 0xAAAA, 0x5555} {
		if got := st.Decode(data[2*i:]); got != want {
			t.Errorf("Sample %d = %#x, want %#x", i, got, want)
		}
	}
}
