package mcu_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"iioboard/chips/ad469x"
	"iioboard/host/mcu"
	"iioboard/iio"
	"iioboard/internal/sim/board"
)

func connect(t *testing.T) (*mcu.MCU, *board.Board) {
	t.Helper()
	return connectWith(t, board.DefaultConfig())
}

func connectWith(t *testing.T, cfg board.Config) (*mcu.MCU, *board.Board) {
	t.Helper()
	b, err := board.New(cfg)
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}
	conn, err := b.Connect(t.Context())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m := mcu.New(conn)
	t.Cleanup(func() {
		_ = m.Close()
		if err := b.Close(); err != nil {
			t.Errorf("board Close: %v", err)
		}
	})
	if err := m.RetrieveDictionary(t.Context()); err != nil {
		t.Fatalf("RetrieveDictionary: %v", err)
	}
	return m, b
}

func TestDevices(t *testing.T) {
	m, _ := connect(t)
	devs := m.Devices()
	want := []string{"ad469x", "ad7689", "ad5754r", "ad4130"}
	if len(devs) != len(want) {
		t.Fatalf("Got %d devices, want %d", len(devs), len(want))
	}
	for i, name := range want {
		if devs[i].Name != name || devs[i].Index != i {
			t.Errorf("Device %d = %s/%d, want %s/%d", i, devs[i].Name, devs[i].Index, name, i)
		}
	}
	if devs[0].Buffer == nil || devs[1].Buffer == nil || devs[0].Buffer.Output {
		t.Error("Converters have no capture buffer")
	}
	if devs[2].Buffer == nil || !devs[2].Buffer.Output {
		t.Error("DAC has no output buffer")
	}
	if devs[3].Buffer == nil || devs[3].Buffer.Output {
		t.Error("Sigma-delta converter has no capture buffer")
	}
	if devs[0].RegisterMax == nil || *devs[0].RegisterMax != ad469x.RegisterMax {
		t.Errorf("ad469x register_max = %v", devs[0].RegisterMax)
	}
	if _, err := m.Device("ad9999"); !errors.Is(err, mcu.ErrUnknownDevice) {
		t.Errorf("Unknown device err = %v", err)
	}
	if d := m.Dictionary(); d.Version != "sim" {
		t.Errorf("Version = %q", d.Version)
	}
}

func TestNoDictionary(t *testing.T) {
	b, err := board.New(board.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := b.Connect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	m := mcu.New(conn)
	defer func() {
		_ = m.Close()
		_ = b.Close()
	}()
	if _, err := m.ReadAttr(t.Context(), "ad469x", iio.GlobalChannel, "sampling_frequency"); !errors.Is(err, mcu.ErrNoDictionary) {
		t.Errorf("err = %v, want ErrNoDictionary", err)
	}
}

func TestAttrs(t *testing.T) {
	m, _ := connect(t)
	ctx := t.Context()

	if err := m.WriteAttr(ctx, "ad5754r", 1, "range", "neg5v_to_5v"); err != nil {
		t.Fatalf("WriteAttr: %v", err)
	}
	v, err := m.ReadAttr(ctx, "ad5754r", 1, "range")
	if err != nil {
		t.Fatalf("ReadAttr: %v", err)
	}
	if v != "neg5v_to_5v" {
		t.Errorf("range = %q", v)
	}

	err = m.WriteAttr(ctx, "ad5754r", 1, "range", "bogus")
	if !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Bad enum err = %v, want ErrInvalid", err)
	}
	if _, err := m.ReadAttr(ctx, "ad469x", iio.GlobalChannel, "no_such_attr"); err == nil {
		t.Error("Unknown attribute read succeeded")
	}
	if _, err := m.ReadAttr(ctx, "ad469x", iio.GlobalChannel, "sampling_frequency"); err != nil {
		t.Errorf("sampling_frequency: %v", err)
	}
}

func TestRegisters(t *testing.T) {
	m, b := connect(t)
	ctx := t.Context()

	if err := m.WriteReg(ctx, "ad469x", ad469x.RegScratchPad, 0x5A); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	v, err := m.ReadReg(ctx, "ad469x", ad469x.RegScratchPad)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if v != 0x5A {
		t.Errorf("Scratch pad = %#x, want 0x5a", v)
	}
	if got := b.AD469x.Chip.Register(ad469x.RegScratchPad); got != 0x5A {
		t.Errorf("Chip scratch pad = %#x", got)
	}
	if _, err := m.ReadReg(ctx, "ad469x", ad469x.RegisterMax+1); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Out of range err = %v, want ErrInvalid", err)
	}
	if _, err := m.ReadReg(ctx, "ad7689", 0); !errors.Is(err, iio.ErrNotSupported) {
		t.Errorf("ad7689 register err = %v, want ErrNotSupported", err)
	}
}

func TestUptimeAndStatus(t *testing.T) {
	m, _ := connect(t)
	up, err := m.Uptime(t.Context())
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if up <= 0 || up > time.Minute {
		t.Errorf("Uptime = %v", up)
	}
	st, err := m.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Devices != 4 || st.Shutdown {
		t.Errorf("Status = %+v", st)
	}
}

func TestBurstCapture(t *testing.T) {
	m, b := connect(t)
	b.AD469x.Chip.SetInput(0, 0x1234)
	b.AD469x.Chip.SetInput(3, 0xBEEF)

	var calls int
	res, err := m.Capture(t.Context(), "ad469x", mcu.CaptureRequest{
		Mode:     mcu.ModeBurst,
		Mask:     0x9,
		Scans:    200,
		Progress: func(done, total int) { calls++ },
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.ScanBytes != 4 || len(res.Data) != 800 {
		t.Fatalf("Got %d bytes of %d-byte scans", len(res.Data), res.ScanBytes)
	}
	if calls < 4 {
		t.Errorf("Progress called %d times", calls)
	}
	codes, err := res.Codes()
	if err != nil {
		t.Fatalf("Codes: %v", err)
	}
	if len(codes) != 2 || len(codes[0]) != 200 {
		t.Fatalf("Decoded %d channels", len(codes))
	}
	for i := range codes[0] {
		if codes[0][i] != 0x1234 || codes[1][i] != 0xBEEF {
			t.Fatalf("Scan %d = %#x %#x", i, codes[0][i], codes[1][i])
		}
	}
	if len(res.Layout.Channels) != 2 || res.Layout.Channels[0].Scale == 1 {
		t.Errorf("Layout = %+v", res.Layout)
	}
	if meta := res.Meta(mcu.ModeBurst); meta.Scans != 200 || meta.Mode != "burst" {
		t.Errorf("Meta = %+v", meta)
	}
}

func TestSigmaDeltaBurstCapture(t *testing.T) {
	m, b := connect(t)
	b.AD4130.SetInput(1, 0x7F0000)

	res, err := m.Capture(t.Context(), "ad4130", mcu.CaptureRequest{Mode: mcu.ModeBurst, Mask: 0x3, Scans: 5})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	codes, err := res.Codes()
	if err != nil {
		t.Fatalf("Codes: %v", err)
	}
	if len(codes) != 2 || len(codes[0]) != 5 {
		t.Fatalf("Decoded %d channels", len(codes))
	}
	for i := range codes[0] {
		if codes[0][i] != 0x800000 || codes[1][i] != 0x7F0000 {
			t.Fatalf("Scan %d = %#x %#x", i, codes[0][i], codes[1][i])
		}
	}
	if off := res.Layout.Channels[0].Offset; off != -0x800000 {
		t.Errorf("Bipolar offset = %v", off)
	}
	if b.Sigma.Converting() {
		t.Error("Converter left in continuous mode")
	}
}

func TestBurstCaptureTimeout(t *testing.T) {
	m, b := connect(t)
	b.AD469x.Chip.StuckBusy = true
	_, err := m.Capture(t.Context(), "ad469x", mcu.CaptureRequest{Mode: mcu.ModeBurst, Mask: 0x1, Scans: 4})
	if !errors.Is(err, iio.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestBurstCaptureShortResult(t *testing.T) {
	m, b := connect(t)
	// Two whole scans of two channels, then BUSY sticks on the fifth
	b.AD469x.Chip.StallAfter = 5
	res, err := m.Capture(t.Context(), "ad469x", mcu.CaptureRequest{Mode: mcu.ModeBurst, Mask: 0x3, Scans: 4})
	if !errors.Is(err, iio.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !res.Short(err) {
		t.Fatal("Timed out burst with whole scans not reported as short")
	}
	if len(res.Data) != 8 {
		t.Errorf("Got %d bytes, want two scans (8)", len(res.Data))
	}
	if meta := res.Meta(mcu.ModeBurst); meta.Scans != 2 {
		t.Errorf("Scans = %d, want 2", meta.Scans)
	}
	if b.AD469x.Chip.Converting() {
		t.Error("Chip left in conversion mode")
	}
}

func TestCaptureResultShort(t *testing.T) {
	tests := []struct {
		name string
		data int
		err  error
		want bool
	}{
		{"timeout with scans", 8, iio.ErrTimeout, true},
		{"timeout empty", 0, iio.ErrTimeout, false},
		{"other error", 8, iio.ErrIO, false},
		{"no error", 8, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mcu.CaptureResult{Data: make([]byte, tt.data), ScanBytes: 4}
			if got := r.Short(tt.err); got != tt.want {
				t.Errorf("Short = %v, want %v", got, tt.want)
			}
		})
	}
	var r *mcu.CaptureResult
	if r.Short(iio.ErrTimeout) {
		t.Error("nil result reported as short")
	}
}

func TestContinuousCapture(t *testing.T) {
	m, _ := connect(t)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	res, err := m.Capture(ctx, "ad7689", mcu.CaptureRequest{
		Mode:  mcu.ModeContinuous,
		Mask:  0x5,
		Scans: 20,
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(res.Data) != 20*res.ScanBytes {
		t.Errorf("Got %d bytes, want %d", len(res.Data), 20*res.ScanBytes)
	}
	// The session is closed, so a second capture can start
	if _, err := m.Capture(ctx, "ad7689", mcu.CaptureRequest{Mode: mcu.ModeContinuous, Mask: 0x1, Scans: 2}); err != nil {
		t.Errorf("Second capture: %v", err)
	}
}

func TestCaptureErrors(t *testing.T) {
	m, _ := connect(t)
	ctx := t.Context()
	tests := []struct {
		name string
		dev  string
		req  mcu.CaptureRequest
		want error
	}{
		{"output buffer", "ad5754r", mcu.CaptureRequest{Mask: 1, Scans: 1}, iio.ErrNotSupported},
		{"no scans", "ad469x", mcu.CaptureRequest{Mask: 1}, iio.ErrInvalid},
		{"bad mask", "ad469x", mcu.CaptureRequest{Mask: 1 << 20, Scans: 1}, iio.ErrInvalid},
		{"too large", "ad469x", mcu.CaptureRequest{Mask: 0xFFFF, Scans: 100000}, iio.ErrNoMem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Capture(ctx, tt.dev, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEmergencyStop(t *testing.T) {
	m, _ := connect(t)
	ctx := t.Context()
	if err := m.EmergencyStop(ctx); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Shutdown {
		t.Error("Not shut down")
	}
	_, err = m.Capture(ctx, "ad469x", mcu.CaptureRequest{Mode: mcu.ModeBurst, Mask: 1, Scans: 1})
	if !errors.Is(err, iio.ErrBusy) {
		t.Errorf("Capture after stop err = %v, want ErrBusy", err)
	}

	m.Restart()
	if st, err := m.Status(ctx); err != nil || st.Shutdown {
		t.Errorf("After restart: %+v, %v", st, err)
	}
}

func TestParseMask(t *testing.T) {
	m, _ := connect(t)
	d, err := m.Device("ad469x")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in   string
		want iio.ScanMask
		ok   bool
	}{
		{"0x5", 0x5, true},
		{"0,2", 0x5, true},
		{d.Channels[1].Name + ",3", 0xA, true},
		{"0x0", 0, false},
		{"40", 0, false},
		{"voltage99", 0, false},
	}
	for _, tt := range tests {
		got, err := d.ParseMask(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseMask(%q) = %#x, %v", tt.in, got, err)
		}
	}
}
