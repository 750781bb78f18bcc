// Package acquire runs the conversion trigger loop that moves samples from
// a converter into an iio.Buffer, either paced by a hardware trigger
// (continuous) or by software pulses and a ready line (burst).
package acquire

import (
	"time"

	"iioboard/iio"
)

// State of an acquisition session
type State uint32

const (
	Idle State = iota
	Armed
	WaitingReady
	Sampling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case WaitingReady:
		return "waiting_ready"
	case Sampling:
		return "sampling"
	default:
		return "unknown"
	}
}

// Converter is the sample path of a chip
type Converter interface {
	// EnterConversion switches the chip from register mode into conversion mode
	EnterConversion() error
	// ExitConversion issues the exit handshake back to register mode
	ExitConversion() error
	// ReadSample shifts one fixed-width sample into p
	ReadSample(p []byte) error
}

// Source is a converter with a programmable channel sequencer
type Source interface {
	Converter
	PrepareScan(mask iio.ScanMask) error
}

// Trigger is a periodic conversion trigger such as a PWM driving CNV with
// an interrupt on conversion end. Stop must not return while the handler
// is still running.
type Trigger interface {
	Start(handler func()) error
	Stop() error
}

// Pulser starts a single conversion
type Pulser interface {
	Pulse() error
}

// Ready polls the converter's data-ready line
type Ready interface {
	Ready() (bool, error)
}

// Config holds the per-device constants of the trigger loop
type Config struct {
	SampleBytes int
	// Swap reverses the bytes of every sample after it is read
	Swap bool
	// Timeout bounds the wait for each sample's ready line in burst mode
	Timeout time.Duration
	// PollInterval between ready polls; zero busy-polls
	PollInterval time.Duration
}

// DefaultTimeout applies when Config.Timeout is zero
const DefaultTimeout = 100 * time.Millisecond

// SwapBytes reverses p in place
func SwapBytes(p []byte) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}
