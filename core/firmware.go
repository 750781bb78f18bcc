// Package core is the firmware command backend: it binds converter
// drivers to the wire protocol, serves the device dictionary and runs the
// buffer sessions of every bound device from one cooperative loop.
package core

import (
	"io"

	"iioboard/acquire"
	"iioboard/iio"
	"iioboard/protocol"
)

// DefaultBufferSize is the ring allocated for a capture-capable binding
// that brings none
const DefaultBufferSize = 8192

// Buffer modes of iio_buffer_open
const (
	ModeBurst      = 0
	ModeContinuous = 1
)

// GlobalChannelWire addresses device attributes in iio_attr_* commands
const GlobalChannelWire = 255

type bufferState uint8

const (
	stateClosed bufferState = iota
	stateBurstPending
	stateOpen
	stateClosing
	// An output stream that played its last scan and awaits the close
	stateDrained
)

// Binding attaches one device to the firmware. Source, Pulser and Ready
// enable burst capture; Trigger additionally enables continuous capture.
// Sink with a Trigger instead makes the buffer an output that the host
// writes and the trigger plays out.
type Binding struct {
	Device  *iio.Device
	Source  acquire.Source
	Sink    acquire.Sink
	Pulser  acquire.Pulser
	Ready   acquire.Ready
	Trigger acquire.Trigger
	Config  acquire.Config
	Buffer  *iio.Buffer

	index     uint8
	session   *acquire.Session
	stream    *acquire.Stream
	state     bufferState
	mode      uint8
	mask      iio.ScanMask
	scans     int
	scanBytes int
	sticky    error
	closeAt   uint32
}

// Index returns the device number used on the wire
func (b *Binding) Index() uint8 {
	return b.index
}

// Session returns the capture session, nil for devices without a source
func (b *Binding) Session() *acquire.Session {
	return b.session
}

// Stream returns the output stream, nil for devices without a sink
func (b *Binding) Stream() *acquire.Stream {
	return b.stream
}

// Open reports whether a buffer session is in progress
func (b *Binding) Open() bool {
	return b.state != stateClosed
}

// Config of the firmware instance
type Config struct {
	Clock         Clock
	Version       string
	BuildVersions string
	MCU           string
	// Output receives flushed frames; nil keeps them until Pending is read
	Output io.Writer
}

type responseIDs struct {
	identify     uint16
	uptime       uint16
	config       uint16
	attrValue    uint16
	attrStatus   uint16
	regValue     uint16
	regStatus    uint16
	bufferStatus uint16
	bufferData   uint16
	bufferWrote  uint16
}

// Firmware is the device context shared by every command handler
type Firmware struct {
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	output    *protocol.ScratchOutput
	sched     *Scheduler
	clock     Clock
	out       io.Writer
	bindings  []*Binding
	shutdown  bool
	ids       responseIDs
	flushErr  error

	readBuf [maxBufferData]byte
}

// New creates the firmware with its command set registered
func New(cfg Config) *Firmware {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	f := &Firmware{
		registry: NewCommandRegistry(),
		output:   protocol.NewScratchOutput(),
		clock:    cfg.Clock,
		out:      cfg.Output,
	}
	f.sched = NewScheduler(cfg.Clock)
	f.dict = NewDictionary(f.registry)
	if cfg.Version != "" {
		f.dict.SetVersion(cfg.Version)
	}
	if cfg.BuildVersions != "" {
		f.dict.SetBuildVersions(cfg.BuildVersions)
	}
	f.transport = protocol.NewTransport(f.output, f.registry.Dispatch)
	f.transport.SetResetCallback(f.hostReset)
	f.transport.SetFlushCallback(f.flushAck)

	f.registerCommands()
	mcu := cfg.MCU
	if mcu == "" {
		mcu = "sim"
	}
	f.dict.AddConstant("MCU", mcu)
	f.dict.AddConstant("CLOCK_FREQ", uint32(1000000))
	f.dict.AddConstant("BUFFER_CHUNK", uint32(maxBufferData))
	f.dict.AddConstant("PROTOCOL", protocol.Version)
	return f
}

// Bind adds a device and returns its wire number
func (f *Firmware) Bind(b *Binding) (uint8, error) {
	if b == nil || b.Device == nil || b.Device.Handler == nil {
		return 0, iio.ErrInvalid
	}
	if len(f.bindings) >= GlobalChannelWire {
		return 0, iio.ErrNoMem
	}
	if b.Source != nil && b.Sink != nil {
		return 0, iio.ErrInvalid
	}
	if err := b.Device.Validate(); err != nil {
		return 0, err
	}
	if (b.Source != nil || b.Sink != nil) && b.Buffer == nil {
		b.Buffer = iio.NewBuffer(DefaultBufferSize)
	}
	// Timeout defaults are applied by the session
	if b.Source != nil {
		b.session = acquire.NewSession(b.Source, b.Buffer, b.Config)
		b.Config = b.session.Config()
	}
	if b.Sink != nil {
		b.stream = acquire.NewStream(b.Sink, b.Buffer, b.Config)
		b.Config = b.stream.Config()
	}
	b.index = uint8(len(f.bindings))
	f.bindings = append(f.bindings, b)
	f.dict.addBinding(b)
	return b.index, nil
}

// Binding returns the device bound as dev
func (f *Firmware) Binding(dev uint8) (*Binding, bool) {
	if int(dev) >= len(f.bindings) {
		return nil, false
	}
	return f.bindings[dev], true
}

func (f *Firmware) Registry() *CommandRegistry     { return f.registry }
func (f *Firmware) Dictionary() *Dictionary        { return f.dict }
func (f *Firmware) Scheduler() *Scheduler          { return f.sched }
func (f *Firmware) Transport() *protocol.Transport { return f.transport }
func (f *Firmware) Clock() Clock                   { return f.clock }

// IsShutdown reports whether emergency_stop has been received
func (f *Firmware) IsShutdown() bool {
	return f.shutdown
}

// SetOutput changes where Flush writes
func (f *Firmware) SetOutput(w io.Writer) {
	f.out = w
}

// Receive parses and dispatches received frames
func (f *Firmware) Receive(in protocol.InputBuffer) {
	f.transport.Receive(in)
}

// Poll runs due timers, disarms finished output streams and completes
// pending buffer closes
func (f *Firmware) Poll() {
	f.sched.Dispatch()
	now := f.clock.Now()
	for _, b := range f.bindings {
		switch {
		case b.stream != nil && b.state == stateOpen:
			if b.stream.Done() {
				f.finishStream(b)
			}
		case b.state == stateClosing:
			if b.done() || !TimerBefore(now, b.closeAt) {
				f.finishClose(b)
			}
		}
	}
}

func (b *Binding) done() bool {
	if b.stream != nil {
		return b.stream.Done()
	}
	return b.session.Done()
}

// Step is one pass of the firmware loop
func (f *Firmware) Step(in protocol.InputBuffer) error {
	f.Receive(in)
	f.Poll()
	return f.Flush()
}

// Pending returns output not yet flushed
func (f *Firmware) Pending() []byte {
	return f.output.Result()
}

// Flush writes queued frames to the output
func (f *Firmware) Flush() error {
	if err := f.flushErr; err != nil {
		f.flushErr = nil
		return err
	}
	if f.out == nil || f.output.CurPosition() == 0 {
		return nil
	}
	_, err := f.out.Write(f.output.Result())
	f.output.Reset()
	return err
}

func (f *Firmware) flushAck() {
	if err := f.Flush(); err != nil && f.flushErr == nil {
		f.flushErr = err
	}
}

// hostReset abandons every session when the host restarts its sequence
func (f *Firmware) hostReset() {
	f.abortAll()
	f.shutdown = false
}

func (f *Firmware) abortAll() {
	for _, b := range f.bindings {
		f.abort(b)
	}
}

// abort ends a session without reporting to the host
func (f *Firmware) abort(b *Binding) {
	if b.state == stateClosed {
		return
	}
	var err error
	switch {
	case b.stream != nil:
		if b.state != stateDrained {
			err = b.stream.Stop()
		}
	case b.mode == ModeContinuous:
		err = b.session.Stop()
	}
	if err != nil {
		LogWarn("abort " + b.Device.Name + ": " + err.Error())
	}
	b.state = stateClosed
}

// Close stops every session, e.g. before the link goes away
func (f *Firmware) Close() {
	f.abortAll()
	for _, b := range f.bindings {
		if b.session != nil && b.session.State() != acquire.Idle {
			LogWarn(b.Device.Name + " left in state " + b.session.State().String())
		}
		if b.stream != nil && b.stream.State() != acquire.Idle {
			LogWarn(b.Device.Name + " output left in state " + b.stream.State().String())
		}
	}
}
