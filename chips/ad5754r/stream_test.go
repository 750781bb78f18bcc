package ad5754r

import (
	"errors"
	"testing"

	"iioboard/iio"
	"iioboard/internal/sim"
)

type fakePacer struct {
	interval uint32
	calls    int
}

func (p *fakePacer) SetInterval(us uint32) error {
	p.interval = us
	p.calls++
	return nil
}

func TestPrepareOutputPowersMask(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	if err := d.setPower(true, [NumChannels]bool{}); err != nil {
		t.Fatal(err)
	}
	if err := d.PrepareOutput(iio.ScanMask(0b0101)); err != nil {
		t.Fatalf("PrepareOutput failed: %v", err)
	}
	if chip.Power() != PowerUpRef|0b0101 {
		t.Errorf("Power control = %#x, want %#x", chip.Power(), PowerUpRef|0b0101)
	}
	// Channels already up stay up
	if err := d.PrepareOutput(iio.ScanMask(0b0010)); err != nil {
		t.Fatal(err)
	}
	if chip.Power() != PowerUpRef|0b0111 {
		t.Errorf("Power control = %#x, want %#x", chip.Power(), PowerUpRef|0b0111)
	}

	for _, mask := range []iio.ScanMask{0, 1 << NumChannels} {
		if err := d.PrepareOutput(mask); !errors.Is(err, iio.ErrInvalid) {
			t.Errorf("PrepareOutput(%#b) = %v, want ErrInvalid", mask, err)
		}
	}
}

func TestWriteSampleAndUpdate(t *testing.T) {
	tests := []struct {
		name string
		ldac bool
	}{
		{"ldac pulse", true},
		{"load command", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := sim.NewAD5754R()
			var d *Device
			if tt.ldac {
				d = New(chip, &sim.Pin{OnChange: chip.LDAC})
			} else {
				d = New(chip, nil)
			}
			if err := d.Configure(Config{Range: Range0To5, SampleRate: 1000}); err != nil {
				t.Fatal(err)
			}

			if err := d.WriteSample(1, []byte{0x34, 0x12}); err != nil {
				t.Fatalf("WriteSample failed: %v", err)
			}
			if err := d.WriteSample(3, []byte{0xFF, 0xFF}); err != nil {
				t.Fatal(err)
			}
			if chip.Output(1) != 0 {
				t.Error("Staged sample reached the output before the update")
			}
			if err := d.Update(); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if chip.Output(1) != 0x1234 || chip.Output(3) != 0xFFFF {
				t.Errorf("Outputs = %#x, %#x", chip.Output(1), chip.Output(3))
			}
			if tt.ldac && (chip.Pulses != 1 || chip.Loads != 0) {
				t.Errorf("Pulses = %d, loads = %d", chip.Pulses, chip.Loads)
			}
			if !tt.ldac && chip.Loads != 1 {
				t.Errorf("Loads = %d", chip.Loads)
			}
			if err := d.FinishOutput(); err != nil {
				t.Errorf("FinishOutput = %v", err)
			}
		})
	}
}

func TestWriteSampleRejects(t *testing.T) {
	d, _, _ := newTestDevice(t)
	if err := d.WriteSample(NumChannels, []byte{0, 0}); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for an unknown channel, got %v", err)
	}
	if err := d.WriteSample(0, []byte{0}); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for a short sample, got %v", err)
	}
}

func TestPacerFollowsSamplingFrequency(t *testing.T) {
	d, _, _ := newTestDevice(t)
	p := &fakePacer{}
	if err := d.SetPacer(p); err != nil {
		t.Fatal(err)
	}
	if p.interval != 1000 {
		t.Errorf("Interval = %d us, want 1000 at 1 kHz", p.interval)
	}
	if err := d.IIODevice().WriteAttr(iio.GlobalChannel, "sampling_frequency", "4000"); err != nil {
		t.Fatal(err)
	}
	if p.interval != 250 || p.calls != 2 {
		t.Errorf("Interval = %d us after %d calls, want 250", p.interval, p.calls)
	}
	if d.OutputConfig().SampleBytes != 2 {
		t.Errorf("SampleBytes = %d", d.OutputConfig().SampleBytes)
	}
}
