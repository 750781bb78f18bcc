// Package board assembles the firmware with simulated AD469x, AD7689,
// AD5754R and AD4130 parts, standing in for an evaluation board on the host.
package board

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"iioboard/chips/ad4130"
	"iioboard/chips/ad469x"
	"iioboard/chips/ad5754r"
	"iioboard/chips/ad7689"
	"iioboard/core"
	"iioboard/hal"
	"iioboard/iio"
	"iioboard/internal/sim"
)

// Device indexes in bind order
const (
	DevAD469x  = 0
	DevAD7689  = 1
	DevAD5754R = 2
	DevAD4130  = 3
)

// Config tunes the simulated board
type Config struct {
	// AD469x PWM rate in Hz
	SampleRate uint32
	// AD7689 timer trigger period
	Period time.Duration
	// BufferSize of each buffered device
	BufferSize int
	// Timeout for a single conversion
	Timeout time.Duration
	// Manual leaves the AD469x PWM to Tick instead of a ticker
	Manual bool
	Clock  core.Clock
}

// DefaultConfig runs both converters at a few kHz, slow enough for a
// loop polled every millisecond
func DefaultConfig() Config {
	return Config{
		SampleRate: 2000,
		Period:     time.Millisecond,
		BufferSize: core.DefaultBufferSize,
		Timeout:    10 * time.Millisecond,
	}
}

// Board is a firmware instance and its simulated parts
type Board struct {
	Firmware *core.Firmware

	AD469x  *sim.AD469xRig
	AD7689  *sim.AD7689Rig
	AD5754R *sim.AD5754R
	LDAC    *sim.Pin
	AD4130  *sim.AD4130

	ADC   *ad469x.Device
	Mux   *ad7689.Device
	DAC   *ad5754r.Device
	Sigma *ad4130.Device

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// New builds and binds the four parts
func New(cfg Config) (*Board, error) {
	def := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	b := &Board{
		Firmware: core.New(core.Config{Clock: cfg.Clock, Version: "sim", MCU: "sim"}),
		AD469x:   sim.NewAD469xRig(),
		AD7689:   sim.NewAD7689Rig(),
		AD5754R:  sim.NewAD5754R(),
		AD4130:   sim.NewAD4130(),
	}
	b.LDAC = &sim.Pin{OnChange: b.AD5754R.LDAC}
	b.AD469x.PWM.Manual = cfg.Manual
	for ch := 0; ch < ad469x.NumChannels; ch++ {
		b.AD469x.Chip.SetInput(ch, uint16(0x1000*ch+0x123))
	}
	for ch := 0; ch < ad7689.NumInputs; ch++ {
		b.AD7689.Chip.SetInput(ch, uint16(0x2000*(ch+1)-1))
	}
	for ch := 0; ch < ad4130.NumChannels; ch++ {
		b.AD4130.SetInput(ch, uint32(0x800000+0x10000*ch))
	}

	b.ADC = ad469x.New(b.AD469x.Chip, b.AD469x.CNV, b.AD469x.Busy, b.AD469x.PWM)
	if err := b.ADC.Configure(ad469x.Config{
		Reference:  ad469x.Ref5V,
		SampleRate: cfg.SampleRate,
		Timeout:    cfg.Timeout,
	}); err != nil {
		return nil, err
	}
	if _, err := b.Firmware.Bind(&core.Binding{
		Device:  b.ADC.IIODevice(),
		Source:  b.ADC,
		Pulser:  b.ADC.Pulser(),
		Ready:   b.ADC.Ready(),
		Trigger: &hal.PWMTrigger{PWM: b.AD469x.PWM, IRQ: b.AD469x.IRQ},
		Config:  b.ADC.CaptureConfig(),
		Buffer:  iio.NewBuffer(cfg.BufferSize),
	}); err != nil {
		return nil, err
	}

	b.Mux = ad7689.New(b.AD7689.Chip, b.AD7689.CNV)
	if err := b.Mux.Configure(ad7689.Config{
		Reference: ad7689.RefInternal4V096,
		Timeout:   cfg.Timeout,
	}); err != nil {
		return nil, err
	}
	if _, err := b.Firmware.Bind(&core.Binding{
		Device: b.Mux.IIODevice(),
		Source: b.Mux,
		Pulser: b.Mux.Pulser(),
		Ready:  b.Mux.Ready(),
		Trigger: &core.TimerTrigger{
			Sched:  b.Firmware.Scheduler(),
			Period: uint32(cfg.Period / time.Microsecond),
			Pulser: b.Mux.Pulser(),
			Ready:  b.Mux.Ready(),
		},
		Config: b.Mux.CaptureConfig(),
		Buffer: iio.NewBuffer(cfg.BufferSize),
	}); err != nil {
		return nil, err
	}

	b.DAC = ad5754r.New(b.AD5754R, b.LDAC)
	if err := b.DAC.Configure(ad5754r.Config{Range: ad5754r.Range0To5, SampleRate: 1000}); err != nil {
		return nil, err
	}
	update := &core.TimerTrigger{Sched: b.Firmware.Scheduler()}
	if err := b.DAC.SetPacer(update); err != nil {
		return nil, err
	}
	if _, err := b.Firmware.Bind(&core.Binding{
		Device:  b.DAC.IIODevice(),
		Sink:    b.DAC,
		Trigger: update,
		Config:  b.DAC.OutputConfig(),
		Buffer:  iio.NewBuffer(cfg.BufferSize),
	}); err != nil {
		return nil, err
	}

	b.Sigma = ad4130.New(b.AD4130)
	if err := b.Sigma.Configure(ad4130.Config{Bipolar: true, Timeout: cfg.Timeout}); err != nil {
		return nil, err
	}
	if _, err := b.Firmware.Bind(&core.Binding{
		Device: b.Sigma.IIODevice(),
		Source: b.Sigma,
		Ready:  b.Sigma.Ready(),
		Trigger: &core.TimerTrigger{
			Sched:  b.Firmware.Scheduler(),
			Period: uint32(cfg.Period / time.Microsecond),
			Ready:  b.Sigma.Ready(),
		},
		Config: b.Sigma.CaptureConfig(),
		Buffer: iio.NewBuffer(cfg.BufferSize),
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// Connect starts the firmware loop on one end of an in-memory link and
// returns the host end. A board serves one connection at a time.
func (b *Board) Connect(ctx context.Context) (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil, iio.ErrBusy
	}
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan error, 1)
	go func() {
		err := b.Firmware.Serve(ctx, dev, core.DefaultPollInterval)
		_ = dev.Close()
		b.done <- err
	}()
	return host, nil
}

// Close stops the firmware loop and returns its error
func (b *Board) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := <-done
	if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
