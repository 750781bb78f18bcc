package acquire

import (
	"sync/atomic"

	"iioboard/iio"
)

// Sink is the output path of a DAC
type Sink interface {
	// PrepareOutput powers up the channels in mask
	PrepareOutput(mask iio.ScanMask) error
	// WriteSample stages one sample for channel ch
	WriteSample(ch int, p []byte) error
	// Update moves every staged sample to the outputs at once
	Update() error
	// FinishOutput returns the update line to software control
	FinishOutput() error
}

// Stream plays scans written by the host out through a Sink, one whole
// scan per trigger edge. The foreground is the producer and the trigger
// handler the consumer of the ring.
type Stream struct {
	sink Sink
	buf  *iio.Buffer
	cfg  Config

	state     uint32 // atomic State
	started   uint32 // atomic bool
	stop      uint32 // atomic bool
	done      uint32 // atomic bool
	played    uint32 // atomic, scans moved to the outputs
	underruns uint32 // atomic
	err       error  // set before done is stored

	trig      Trigger
	channels  [iio.MaxChannels]int
	perScan   int
	scanBytes int
	total     int
	accepted  int
	scan      [maxScanBytes]byte
}

// NewStream binds a sink to its ring buffer
func NewStream(sink Sink, buf *iio.Buffer, cfg Config) *Stream {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Stream{sink: sink, buf: buf, cfg: cfg}
}

// State returns the current loop state
func (s *Stream) State() State {
	return State(atomic.LoadUint32(&s.state))
}

func (s *Stream) setState(st State) {
	atomic.StoreUint32(&s.state, uint32(st))
}

// Buffer returns the stream's ring
func (s *Stream) Buffer() *iio.Buffer {
	return s.buf
}

// Config returns the stream constants
func (s *Stream) Config() Config {
	return s.cfg
}

// Played counts scans moved to the outputs this session
func (s *Stream) Played() int {
	return int(atomic.LoadUint32(&s.played))
}

// Underruns counts trigger edges that found no whole scan to play
func (s *Stream) Underruns() int {
	return int(atomic.LoadUint32(&s.underruns))
}

// Started reports whether the trigger has been armed
func (s *Stream) Started() bool {
	return atomic.LoadUint32(&s.started) != 0
}

// Done reports whether the stream has played its last scan or
// acknowledged a stop
func (s *Stream) Done() bool {
	return atomic.LoadUint32(&s.done) != 0
}

// Err returns the error that ended the stream, if any
func (s *Stream) Err() error {
	if !s.Done() {
		return nil
	}
	return s.err
}

// Pending returns the bytes written but not yet played
func (s *Stream) Pending() int {
	return s.buf.Len()
}

// Remaining returns the bytes the host still has to write
func (s *Stream) Remaining() int {
	return s.total*s.scanBytes - s.accepted
}

// Open prepares a session of scans scans on the channels in mask. With
// whole set the ring is sized to hold every scan before playback starts;
// otherwise scans stream through the ring as it drains. trig starts once
// the ring is full or every scan has been written.
func (s *Stream) Open(mask iio.ScanMask, scans int, whole bool, trig Trigger) error {
	if s.State() != Idle || s.trig != nil {
		return iio.ErrBusy
	}
	if trig == nil {
		return iio.ErrNotSupported
	}
	if mask.Count() == 0 || scans <= 0 || s.cfg.SampleBytes <= 0 || s.cfg.SampleBytes > maxSampleBytes {
		return iio.ErrInvalid
	}
	s.perScan = 0
	for _, ch := range mask.Channels() {
		s.channels[s.perScan] = ch
		s.perScan++
	}
	s.scanBytes = s.perScan * s.cfg.SampleBytes
	s.total = scans
	s.accepted = 0

	s.buf.Reset()
	if whole {
		if err := s.buf.Reserve(scans * s.scanBytes); err != nil {
			return err
		}
	} else if s.buf.FixSize(s.scanBytes) == 0 {
		return iio.ErrNoMem
	}

	s.err = nil
	atomic.StoreUint32(&s.played, 0)
	atomic.StoreUint32(&s.underruns, 0)
	atomic.StoreUint32(&s.started, 0)
	atomic.StoreUint32(&s.stop, 0)
	atomic.StoreUint32(&s.done, 0)
	if err := s.sink.PrepareOutput(mask); err != nil {
		return err
	}
	s.trig = trig
	s.setState(Armed)
	return nil
}

// Write moves whole samples of p into the ring, as many as fit and are
// still expected, and returns how many bytes it took. The trigger is
// armed once the ring fills or the last scan arrives.
func (s *Stream) Write(p []byte) (int, error) {
	if s.trig == nil || s.Done() {
		return 0, iio.ErrInvalid
	}
	n := len(p)
	if free := s.buf.Free(); n > free {
		n = free
	}
	if r := s.Remaining(); n > r {
		n = r
	}
	n -= n % s.cfg.SampleBytes
	if n > 0 {
		if err := s.buf.Write(p[:n]); err != nil {
			return 0, err
		}
		s.accepted += n
	}
	if !s.Started() && (s.Remaining() == 0 || s.buf.Free() < s.scanBytes) {
		if err := s.start(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Stream) start() error {
	s.setState(WaitingReady)
	atomic.StoreUint32(&s.started, 1)
	if err := s.trig.Start(s.HandleTrigger); err != nil {
		atomic.StoreUint32(&s.started, 0)
		s.end(err)
		return err
	}
	return nil
}

// HandleTrigger plays one scan. It runs once per trigger edge in interrupt
// context and never blocks; an edge with no whole scan waiting leaves the
// outputs as they are.
func (s *Stream) HandleTrigger() {
	if atomic.LoadUint32(&s.done) != 0 {
		return
	}
	if atomic.LoadUint32(&s.stop) != 0 {
		s.end(s.sink.FinishOutput())
		return
	}
	if s.buf.Len() < s.scanBytes {
		atomic.AddUint32(&s.underruns, 1)
		return
	}

	s.setState(Sampling)
	s.buf.Read(s.scan[:s.scanBytes])
	for i := 0; i < s.perScan; i++ {
		off := i * s.cfg.SampleBytes
		p := s.scan[off : off+s.cfg.SampleBytes]
		if s.cfg.Swap {
			SwapBytes(p)
		}
		if err := s.sink.WriteSample(s.channels[i], p); err != nil {
			_ = s.sink.FinishOutput()
			s.end(err)
			return
		}
	}
	if err := s.sink.Update(); err != nil {
		_ = s.sink.FinishOutput()
		s.end(err)
		return
	}
	if int(atomic.AddUint32(&s.played, 1)) == s.total {
		s.end(s.sink.FinishOutput())
		return
	}
	s.setState(WaitingReady)
}

func (s *Stream) end(err error) {
	s.err = err
	s.setState(Idle)
	atomic.StoreUint32(&s.done, 1)
}

// RequestStop asks the handler to finish before the next scan
func (s *Stream) RequestStop() {
	atomic.StoreUint32(&s.stop, 1)
}

// Stop disarms the trigger. A stream that never started or whose handler
// has not acknowledged the stop is finished from here.
func (s *Stream) Stop() error {
	var err error
	if s.trig != nil {
		if s.Started() {
			err = s.trig.Stop()
		}
		s.trig = nil
	}
	if !s.Done() {
		s.end(s.sink.FinishOutput())
	}
	s.setState(Idle)
	if s.err != nil {
		return s.err
	}
	return err
}
