package main

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
	"periph.io/x/periph/conn/physic"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Link.Device != def.Link.Device {
		t.Errorf("link device = %q, want %q", cfg.Link.Device, def.Link.Device)
	}
	if len(cfg.Chips) != 1 || cfg.Chips[0] != "ad469x" {
		t.Errorf("chips = %v", cfg.Chips)
	}
	if cfg.AD469x.SampleRate != def.AD469x.SampleRate {
		t.Errorf("sample rate = %d", cfg.AD469x.SampleRate)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yml")
	doc := "chips: [ad7689, ad5754r]\nad7689:\n  period: 2ms\n  cnv: GPIO5\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IIOBOARD_AD5754R__RANGE", "neg5v_to_5v")
	t.Setenv("IIOBOARD_AD5754R__SAMPLE_RATE", "250")
	t.Setenv("IIOBOARD_AD5754R__CN0586", "true")
	t.Setenv("IIOBOARD_AD4130__PGA", "3")
	t.Setenv("IIOBOARD_LINK__DEVICE", "/dev/ttyAMA0")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Chips) != 2 || cfg.Chips[0] != "ad7689" || cfg.Chips[1] != "ad5754r" {
		t.Errorf("chips = %v", cfg.Chips)
	}
	if cfg.AD7689.Period != 2*time.Millisecond || cfg.AD7689.CNV != "GPIO5" {
		t.Errorf("ad7689 = %+v", cfg.AD7689)
	}
	if cfg.AD7689.SPI.Port != DefaultConfig().AD7689.SPI.Port {
		t.Errorf("spi port = %q, want the default", cfg.AD7689.SPI.Port)
	}
	if cfg.AD5754R.Range != "neg5v_to_5v" || cfg.AD5754R.SampleRate != 250 || !cfg.AD5754R.CN0586 {
		t.Errorf("ad5754r = %+v", cfg.AD5754R)
	}
	if cfg.AD4130.PGA != 3 || cfg.AD4130.Demo != "User Default" {
		t.Errorf("ad4130 = %+v", cfg.AD4130)
	}
	if cfg.Link.Device != "/dev/ttyAMA0" {
		t.Errorf("link device = %q", cfg.Link.Device)
	}
}

func TestLoadConfigUnknownChip(t *testing.T) {
	t.Setenv("IIOBOARD_CHIPS", "ad469x,ad9999")
	if _, err := LoadConfig(""); !errors.Is(err, ErrUnknownChip) {
		t.Errorf("err = %v, want ErrUnknownChip", err)
	}
}

func TestPinPWM(t *testing.T) {
	pin := &gpiotest.Pin{N: "CNV"}
	p := &pinPWM{pin: pin}
	if err := p.Enable(); !errors.Is(err, ErrPWMPeriod) {
		t.Errorf("Enable without period = %v", err)
	}
	if err := p.SetPeriod(100000); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDutyCycle(25000); err != nil {
		t.Fatal(err)
	}
	if err := p.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if pin.F != 10*physic.KiloHertz {
		t.Errorf("frequency = %v, want 10kHz", pin.F)
	}
	if pin.D != gpio.DutyMax/4 {
		t.Errorf("duty = %v, want %v", pin.D, gpio.DutyMax/4)
	}
	if p.Period() != 100000 {
		t.Errorf("period = %d", p.Period())
	}

	// A software pulse stops the train first
	if err := p.Set(true); err != nil {
		t.Fatal(err)
	}
	if p.on {
		t.Error("train still marked running after Set")
	}
	if pin.L != gpio.High {
		t.Error("pin not driven high")
	}
}

func TestEdgeIRQ(t *testing.T) {
	pin := &gpiotest.Pin{N: "BUSY", EdgesChan: make(chan gpio.Level)}
	irq := &edgeIRQ{pin: pin, Poll: time.Millisecond}

	var fired int32
	if err := irq.Enable(func() { atomic.AddInt32(&fired, 1) }); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	for i := 0; i < 3; i++ {
		pin.EdgesChan <- gpio.Low
	}
	// The unbuffered send returns once the waiter has the edge, so allow
	// the last handler to run
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&fired) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := irq.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if n := atomic.LoadInt32(&fired); n != 3 {
		t.Errorf("fired %d times, want 3", n)
	}

	// No handler runs after Disable
	select {
	case pin.EdgesChan <- gpio.Low:
		t.Error("edge consumed after Disable")
	case <-time.After(20 * time.Millisecond):
	}
	if err := irq.Disable(); err != nil {
		t.Errorf("second Disable: %v", err)
	}
}
