// Command iioboard-linux runs the acquisition firmware on a Linux board,
// talking to the converters through spidev and the GPIO character device
// and to the host through a tty.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/host"

	"iioboard/chips/ad4130"
	"iioboard/chips/ad469x"
	"iioboard/chips/ad5754r"
	"iioboard/chips/ad7689"
	"iioboard/core"
	"iioboard/hal"
	"iioboard/host/log"
	"iioboard/host/serial"
	"iioboard/iio"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "iioboard-linux",
		Short:         "Serve the attached converters to an iioctl host",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), configPath)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error("%v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := log.Init(os.Stderr, cfg.LogLevel); err != nil {
		return err
	}
	core.SetDebugWriter(log.FirmwareWriter)
	core.SetDebugLevel(core.LevelDebug)

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph: %w", err)
	}

	fw := core.New(core.Config{Version: version, MCU: "linux"})
	closers, err := bindChips(fw, cfg)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return err
	}

	for {
		err := serveOnce(ctx, fw, cfg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warning("link %s: %v, reopening", cfg.Link.Device, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// serveOnce runs the firmware loop until the link drops
func serveOnce(ctx context.Context, fw *core.Firmware, cfg *Config) error {
	port, err := serial.OpenRetry(ctx, &cfg.Link)
	if err != nil {
		return err
	}
	defer port.Close()
	_ = port.Flush()
	log.Info("serving on %s", cfg.Link.Device)

	done := make(chan struct{})
	defer close(done)
	go func() {
		// Unblock the reader when asked to stop
		select {
		case <-ctx.Done():
			_ = port.Close()
		case <-done:
		}
	}()
	return fw.Serve(ctx, port, cfg.PollInterval)
}

// bindChips binds each configured chip in order. The returned closers
// release the SPI ports even when binding fails part way.
func bindChips(fw *core.Firmware, cfg *Config) ([]io.Closer, error) {
	var closers []io.Closer
	for _, chip := range cfg.Chips {
		var (
			bus *spiBus
			err error
		)
		switch chip {
		case "ad469x":
			bus, err = bindAD469x(fw, cfg)
		case "ad7689":
			bus, err = bindAD7689(fw, cfg)
		case "ad5754r":
			bus, err = bindAD5754R(fw, cfg)
		case "ad4130":
			bus, err = bindAD4130(fw, cfg)
		default:
			err = ErrUnknownChip
		}
		if bus != nil {
			closers = append(closers, bus)
		}
		if err != nil {
			return closers, fmt.Errorf("%s: %w", chip, err)
		}
		log.Info("bound %s", chip)
	}
	return closers, nil
}

func bindAD469x(fw *core.Firmware, cfg *Config) (*spiBus, error) {
	c := cfg.AD469x
	cnvPin, err := pinByName(c.CNV)
	if err != nil {
		return nil, err
	}
	busyPin, err := pinByName(c.Busy)
	if err != nil {
		return nil, err
	}
	if err := busyPin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, err
	}
	bus, err := openSPI(c.SPI)
	if err != nil {
		return nil, err
	}
	cnv := &pinPWM{pin: cnvPin}
	if err := cnv.Set(false); err != nil {
		return bus, err
	}
	adc := ad469x.New(bus, cnv, inPin{busyPin}, cnv)
	if err := adc.Configure(ad469x.Config{
		Reference:  ad469x.Ref5V,
		SampleRate: c.SampleRate,
		Timeout:    cfg.Timeout,
	}); err != nil {
		return bus, err
	}
	_, err = fw.Bind(&core.Binding{
		Device:  adc.IIODevice(),
		Source:  adc,
		Pulser:  adc.Pulser(),
		Ready:   adc.Ready(),
		Trigger: &hal.PWMTrigger{PWM: cnv, IRQ: &edgeIRQ{pin: busyPin}},
		Config:  adc.CaptureConfig(),
		Buffer:  iio.NewBuffer(cfg.BufferSize),
	})
	return bus, err
}

func bindAD7689(fw *core.Firmware, cfg *Config) (*spiBus, error) {
	c := cfg.AD7689
	cnvPin, err := pinByName(c.CNV)
	if err != nil {
		return nil, err
	}
	cnv, err := newOutPin(cnvPin, gpio.Low)
	if err != nil {
		return nil, err
	}
	bus, err := openSPI(c.SPI)
	if err != nil {
		return nil, err
	}
	adc := ad7689.New(bus, cnv)
	if err := adc.Configure(ad7689.Config{
		Reference: ad7689.RefInternal4V096,
		Timeout:   cfg.Timeout,
	}); err != nil {
		return bus, err
	}
	_, err = fw.Bind(&core.Binding{
		Device: adc.IIODevice(),
		Source: adc,
		Pulser: adc.Pulser(),
		Ready:  adc.Ready(),
		Trigger: &core.TimerTrigger{
			Sched:  fw.Scheduler(),
			Period: core.TimerFromDuration(c.Period),
			Pulser: adc.Pulser(),
			Ready:  adc.Ready(),
		},
		Config: adc.CaptureConfig(),
		Buffer: iio.NewBuffer(cfg.BufferSize),
	})
	return bus, err
}

func bindAD5754R(fw *core.Firmware, cfg *Config) (*spiBus, error) {
	c := cfg.AD5754R
	rng, ok := ad5754r.RangeNames.Index(c.Range)
	if !ok {
		return nil, fmt.Errorf("range %q: %w", c.Range, iio.ErrInvalid)
	}
	ldacPin, err := pinByName(c.LDAC)
	if err != nil {
		return nil, err
	}
	ldac, err := newOutPin(ldacPin, gpio.High)
	if err != nil {
		return nil, err
	}
	bus, err := openSPI(c.SPI)
	if err != nil {
		return nil, err
	}
	dac := ad5754r.New(bus, ldac)
	if err := dac.Configure(ad5754r.Config{Range: ad5754r.Range(rng), SampleRate: c.SampleRate, CN0586: c.CN0586}); err != nil {
		return bus, err
	}
	update := &core.TimerTrigger{Sched: fw.Scheduler()}
	if err := dac.SetPacer(update); err != nil {
		return bus, err
	}
	_, err = fw.Bind(&core.Binding{
		Device:  dac.IIODevice(),
		Sink:    dac,
		Trigger: update,
		Config:  dac.OutputConfig(),
		Buffer:  iio.NewBuffer(cfg.BufferSize),
	})
	return bus, err
}

func bindAD4130(fw *core.Firmware, cfg *Config) (*spiBus, error) {
	c := cfg.AD4130
	demo, ok := ad4130.DemoConfigNames.Index(c.Demo)
	if !ok {
		return nil, fmt.Errorf("demo %q: %w", c.Demo, iio.ErrInvalid)
	}
	bus, err := openSPI(c.SPI)
	if err != nil {
		return nil, err
	}
	adc := ad4130.New(bus)
	if err := adc.Configure(ad4130.Config{
		Demo:    ad4130.DemoConfig(demo),
		Bipolar: c.Bipolar,
		PGA:     c.PGA,
		Timeout: cfg.Timeout,
	}); err != nil {
		return bus, err
	}
	if c.SampleRate != 0 {
		if err := adc.SetSampleRate(c.SampleRate); err != nil {
			return bus, err
		}
	}
	_, err = fw.Bind(&core.Binding{
		Device: adc.IIODevice(),
		Source: adc,
		Ready:  adc.Ready(),
		Trigger: &core.TimerTrigger{
			Sched:  fw.Scheduler(),
			Period: core.TimerFromDuration(c.Period),
			Ready:  adc.Ready(),
		},
		Config: adc.CaptureConfig(),
		Buffer: iio.NewBuffer(cfg.BufferSize),
	})
	return bus, err
}
