//go:build !wasm

package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{
		port: port,
		cfg:  cfg,
	}, nil
}

// Retry is the open schedule of OpenRetry. USB CDC devices reappear a
// moment after a reset, so the first attempts come quickly.
func Retry() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	}
}

// OpenRetry opens the port, retrying with exponential backoff until it
// appears, the schedule runs out or ctx is done
func OpenRetry(ctx context.Context, cfg *Config) (Port, error) {
	return openRetry(ctx, cfg, Open)
}

func openRetry(ctx context.Context, cfg *Config, open func(*Config) (Port, error)) (Port, error) {
	var port Port
	attempts := 0
	op := func() error {
		attempts++
		p, err := open(cfg)
		if err != nil {
			return err
		}
		port = p
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(Retry(), ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s after %d attempts: %w", cfg.Device, attempts, err)
	}
	return port, nil
}

// Read reads data from the serial port. A read timeout with no data is
// reported as (0, nil) by tarm/serial and passed through.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if errors.Is(err, io.EOF) && n == 0 && p.cfg.ReadTimeout > 0 {
		return 0, nil
	}
	return n, err
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
