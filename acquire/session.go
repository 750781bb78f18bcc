package acquire

import (
	"sync/atomic"
	"time"

	"iioboard/iio"
)

const (
	maxSampleBytes = 8
	maxScanBytes   = iio.MaxChannels * maxSampleBytes
)

// Session owns one device's trigger loop and its ring buffer
type Session struct {
	src Source
	buf *iio.Buffer
	cfg Config

	// Shared between the sampling step and the foreground
	state    uint32 // atomic State
	stop     uint32 // atomic bool
	done     uint32 // atomic bool
	overruns uint32 // atomic
	err      error  // set before done is stored

	// Owned by the sampling step while a continuous session runs
	trig      Trigger
	scanBytes int
	perScan   int
	pos       int
	dropping  bool
	sample    [maxSampleBytes]byte
	// A scan is staged here and published to the ring only once complete
	scan [maxScanBytes]byte
}

// NewSession binds a source to its ring buffer
func NewSession(src Source, buf *iio.Buffer, cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Session{src: src, buf: buf, cfg: cfg}
}

// State returns the current loop state
func (s *Session) State() State {
	return State(atomic.LoadUint32(&s.state))
}

func (s *Session) setState(st State) {
	atomic.StoreUint32(&s.state, uint32(st))
}

// Buffer returns the session's ring
func (s *Session) Buffer() *iio.Buffer {
	return s.buf
}

// Config returns the session constants
func (s *Session) Config() Config {
	return s.cfg
}

// Overruns counts scans dropped because the ring was full
func (s *Session) Overruns() int {
	return int(atomic.LoadUint32(&s.overruns))
}

// Done reports whether a continuous session has acknowledged its stop
func (s *Session) Done() bool {
	return atomic.LoadUint32(&s.done) != 0
}

// Err returns the error that ended a continuous session, if any
func (s *Session) Err() error {
	if !s.Done() {
		return nil
	}
	return s.err
}

func (s *Session) begin(mask iio.ScanMask) error {
	if s.State() != Idle {
		return iio.ErrBusy
	}
	if mask.Count() == 0 || s.cfg.SampleBytes <= 0 || s.cfg.SampleBytes > maxSampleBytes {
		return iio.ErrInvalid
	}
	s.buf.Reset()
	s.perScan = mask.Count()
	s.scanBytes = s.perScan * s.cfg.SampleBytes
	s.pos = 0
	s.dropping = false
	s.err = nil
	atomic.StoreUint32(&s.overruns, 0)
	atomic.StoreUint32(&s.stop, 0)
	atomic.StoreUint32(&s.done, 0)
	return s.src.PrepareScan(mask)
}

// StartContinuous enters conversion mode and arms the trigger. Samples are
// appended by HandleTrigger until RequestStop is observed at a scan boundary.
func (s *Session) StartContinuous(mask iio.ScanMask, trig Trigger) error {
	if err := s.begin(mask); err != nil {
		return err
	}
	if err := s.src.EnterConversion(); err != nil {
		return err
	}
	s.setState(Armed)
	s.trig = trig
	// The handler may run as soon as the trigger starts
	s.setState(WaitingReady)
	if err := trig.Start(s.HandleTrigger); err != nil {
		s.trig = nil
		_ = s.src.ExitConversion()
		s.setState(Idle)
		return err
	}
	return nil
}

// HandleTrigger is the sampling step. It runs once per trigger edge in
// interrupt context and never blocks.
func (s *Session) HandleTrigger() {
	if atomic.LoadUint32(&s.done) != 0 {
		return
	}
	if s.pos == 0 {
		if atomic.LoadUint32(&s.stop) != 0 {
			s.end(s.src.ExitConversion())
			return
		}
		s.buf.FixSize(s.scanBytes)
		// Whole scans only: a scan that cannot fit is read and discarded
		s.dropping = s.buf.Free() < s.scanBytes
		if s.dropping {
			atomic.AddUint32(&s.overruns, 1)
		}
	}

	s.setState(Sampling)
	off := s.pos * s.cfg.SampleBytes
	p := s.scan[off : off+s.cfg.SampleBytes]
	if err := s.src.ReadSample(p); err != nil {
		_ = s.src.ExitConversion()
		s.end(err)
		return
	}
	if s.cfg.Swap {
		SwapBytes(p)
	}
	s.pos++
	if s.pos == s.perScan {
		s.pos = 0
		if !s.dropping {
			// Room for the whole scan was checked at its first sample
			_ = s.buf.Write(s.scan[:s.scanBytes])
		}
	}
	s.setState(WaitingReady)
}

func (s *Session) end(err error) {
	s.err = err
	s.setState(Idle)
	atomic.StoreUint32(&s.done, 1)
}

// RequestStop asks the sampling step to finish at the next scan boundary
func (s *Session) RequestStop() {
	atomic.StoreUint32(&s.stop, 1)
}

// Stop disarms the trigger. If the sampling step has not acknowledged the
// stop request, the exit handshake is issued from here and ErrTimeout is
// returned; the chip is never left in conversion mode.
func (s *Session) Stop() error {
	var err error
	if s.trig != nil {
		err = s.trig.Stop()
		s.trig = nil
	}
	if !s.Done() {
		if exitErr := s.src.ExitConversion(); exitErr != nil {
			s.end(exitErr)
			return exitErr
		}
		s.end(iio.ErrTimeout)
		return iio.ErrTimeout
	}
	if err != nil {
		return err
	}
	return s.err
}

// Finish requests a stop and waits until the sampling step acknowledges it
// or the deadline passes, then disarms the trigger
func (s *Session) Finish(deadline time.Time) error {
	s.RequestStop()
	for !s.Done() && time.Now().Before(deadline) {
		s.pause()
	}
	return s.Stop()
}

func (s *Session) pause() {
	if s.cfg.PollInterval > 0 {
		time.Sleep(s.cfg.PollInterval)
	}
}

// Burst captures exactly scans × active channels samples, pulsing each
// conversion and polling ready under a per-sample deadline. Each scan is
// staged and published whole, so on timeout the buffer holds only the
// complete scans and their sample count is returned with ErrTimeout.
// There is no retry.
func (s *Session) Burst(mask iio.ScanMask, scans int, pulser Pulser, ready Ready) (int, error) {
	if scans <= 0 {
		return 0, iio.ErrInvalid
	}
	if err := s.begin(mask); err != nil {
		return 0, err
	}
	if err := s.buf.Reserve(scans * s.scanBytes); err != nil {
		return 0, err
	}
	if err := s.src.EnterConversion(); err != nil {
		return 0, err
	}

	n := 0
	var err error
scan:
	for i := 0; i < scans; i++ {
		for s.pos = 0; s.pos < s.perScan; s.pos++ {
			if err = s.burstSample(pulser, ready); err != nil {
				break scan
			}
		}
		if err = s.buf.Write(s.scan[:s.scanBytes]); err != nil {
			break
		}
		n += s.perScan
	}
	s.pos = 0

	exitErr := s.src.ExitConversion()
	s.setState(Idle)
	if err == nil {
		err = exitErr
	}
	return n, err
}

func (s *Session) burstSample(pulser Pulser, ready Ready) error {
	s.setState(Armed)
	if pulser != nil {
		if err := pulser.Pulse(); err != nil {
			return err
		}
	}

	s.setState(WaitingReady)
	if ready != nil {
		deadline := time.Now().Add(s.cfg.Timeout)
		for {
			ok, err := ready.Ready()
			if err != nil {
				return err
			}
			if ok {
				break
			}
			if !time.Now().Before(deadline) {
				return iio.ErrTimeout
			}
			s.pause()
		}
	}

	s.setState(Sampling)
	off := s.pos * s.cfg.SampleBytes
	p := s.scan[off : off+s.cfg.SampleBytes]
	if err := s.src.ReadSample(p); err != nil {
		return err
	}
	if s.cfg.Swap {
		SwapBytes(p)
	}
	return nil
}
