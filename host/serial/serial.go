// Package serial opens the host end of the firmware link.
package serial

import (
	"io"
	"time"
)

// Port is a serial link. Implementations:
// - native serial (github.com/tarm/serial)
// - net.Pipe or a socket in tests and the simulator
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `koanf:"device" yaml:"device"`

	// Baud rate; USB CDC ignores it
	Baud int `koanf:"baud" yaml:"baud"`

	// ReadTimeout bounds each read; 0 blocks
	ReadTimeout time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
}

// DefaultConfig returns the settings used by the firmware targets
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// conn adapts any stream to Port
type conn struct {
	io.ReadWriteCloser
}

func (conn) Flush() error { return nil }

// Wrap turns a stream such as one end of net.Pipe into a Port
func Wrap(rwc io.ReadWriteCloser) Port {
	if p, ok := rwc.(Port); ok {
		return p
	}
	return conn{rwc}
}
