package acquire

import (
	"errors"
	"testing"
	"time"

	"iioboard/iio"
)

// fakeSource produces big-endian 16-bit samples: channel index in the high
// byte and a running sequence number in the low byte
type fakeSource struct {
	converting bool
	enters     int
	exits      int
	channels   []int
	next       int
	seq        byte
	readErr    error
}

func (f *fakeSource) PrepareScan(mask iio.ScanMask) error {
	f.channels = mask.Channels()
	f.next = 0
	return nil
}

func (f *fakeSource) EnterConversion() error {
	f.converting = true
	f.enters++
	return nil
}

func (f *fakeSource) ExitConversion() error {
	f.converting = false
	f.exits++
	return nil
}

func (f *fakeSource) ReadSample(p []byte) error {
	if f.readErr != nil {
		return f.readErr
	}
	if !f.converting {
		return errors.New("read outside conversion mode")
	}
	p[0] = byte(f.channels[f.next])
	p[1] = f.seq
	f.next = (f.next + 1) % len(f.channels)
	f.seq++
	return nil
}

type fakeTrigger struct {
	handler func()
	stopped bool
}

func (f *fakeTrigger) Start(handler func()) error {
	f.handler = handler
	return nil
}

func (f *fakeTrigger) Stop() error {
	f.stopped = true
	f.handler = nil
	return nil
}

func (f *fakeTrigger) fire(n int) {
	for i := 0; i < n && f.handler != nil; i++ {
		f.handler()
	}
}

type readyAfter struct{ polls, n int }

func (r *readyAfter) Ready() (bool, error) {
	r.n++
	return r.n > r.polls, nil
}

type neverReady struct{}

func (neverReady) Ready() (bool, error) { return false, nil }

type countPulser struct{ n int }

func (c *countPulser) Pulse() error { c.n++; return nil }

func drain(buf *iio.Buffer) []byte {
	out := make([]byte, buf.Len())
	buf.Read(out)
	return out
}

func TestSwapBytes(t *testing.T) {
	testCases := [][]byte{
		{0x12, 0x34},
		{1, 2, 3},
		{0xAA, 0xBB, 0xCC, 0xDD},
	}
	for _, tc := range testCases {
		p := append([]byte(nil), tc...)
		SwapBytes(p)
		if p[0] != tc[len(tc)-1] {
			t.Errorf("SwapBytes(%v) = %v", tc, p)
		}
		SwapBytes(p)
		for i := range p {
			if p[i] != tc[i] {
				t.Errorf("Double swap of %v is not identity: %v", tc, p)
				break
			}
		}
	}
}

func TestBurstOrderAndCount(t *testing.T) {
	src := &fakeSource{}
	buf := iio.NewBuffer(256)
	s := NewSession(src, buf, Config{SampleBytes: 2, Swap: true, Timeout: 10 * time.Millisecond})
	pulser := &countPulser{}

	mask := iio.ScanMask(0b1101)
	n, err := s.Burst(mask, 4, pulser, &readyAfter{polls: 0})
	if err != nil {
		t.Fatalf("Burst failed: %v", err)
	}
	if n != 12 || pulser.n != 12 {
		t.Errorf("Expected 12 samples and pulses, got %d samples %d pulses", n, pulser.n)
	}

	data := drain(buf)
	if len(data) != 24 {
		t.Fatalf("Expected 24 bytes, got %d", len(data))
	}
	want := []int{0, 2, 3}
	for i := 0; i < 12; i++ {
		// Swap moved the channel byte to the second position
		ch := int(data[2*i+1])
		if ch != want[i%3] {
			t.Errorf("Sample %d: channel %d, want %d", i, ch, want[i%3])
		}
	}

	if src.converting {
		t.Error("Burst must leave the chip in register mode")
	}
	if s.State() != Idle {
		t.Errorf("Expected idle state, got %v", s.State())
	}
}

func TestBurstTimeout(t *testing.T) {
	src := &fakeSource{}
	buf := iio.NewBuffer(64)
	s := NewSession(src, buf, Config{SampleBytes: 2, Timeout: 5 * time.Millisecond})

	start := time.Now()
	n, err := s.Burst(iio.ScanMask(1), 4, &countPulser{}, neverReady{})
	if !errors.Is(err, iio.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no samples, got %d", n)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout took far longer than the deadline")
	}
	if src.converting || src.exits != 1 {
		t.Errorf("Exit handshake not issued after timeout (exits=%d)", src.exits)
	}
	if s.State() != Idle {
		t.Errorf("Expected idle after timeout, got %v", s.State())
	}
}

type flakyReady struct{ ok int }

func (f *flakyReady) Ready() (bool, error) {
	if f.ok > 0 {
		f.ok--
		return true, nil
	}
	return false, nil
}

func TestBurstShortResult(t *testing.T) {
	src := &fakeSource{}
	buf := iio.NewBuffer(64)
	s := NewSession(src, buf, Config{SampleBytes: 2, Timeout: 2 * time.Millisecond})

	n, err := s.Burst(iio.ScanMask(0b11), 3, nil, &flakyReady{ok: 3})
	if !errors.Is(err, iio.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	// The third sample opened a second scan that never completed
	if n != 2 {
		t.Errorf("Expected 2 samples from the complete scan, got %d", n)
	}
	if buf.Len() != 4 {
		t.Errorf("Expected one whole scan (4 bytes) in the buffer, len=%d", buf.Len())
	}
	if buf.Len()%4 != 0 {
		t.Error("Short result holds a partial scan")
	}
	if src.converting {
		t.Error("Chip left converting after timeout")
	}
}

func TestBurstNoMem(t *testing.T) {
	s := NewSession(&fakeSource{}, iio.NewBuffer(8), Config{SampleBytes: 2})

	if _, err := s.Burst(iio.ScanMask(0b11), 3, nil, nil); !errors.Is(err, iio.ErrNoMem) {
		t.Errorf("Expected ErrNoMem, got %v", err)
	}
}

func TestContinuousStopAtScanBoundary(t *testing.T) {
	src := &fakeSource{}
	buf := iio.NewBuffer(64)
	s := NewSession(src, buf, Config{SampleBytes: 2})
	trig := &fakeTrigger{}

	if err := s.StartContinuous(iio.ScanMask(0b111), trig); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}
	if s.State() != WaitingReady {
		t.Errorf("Expected waiting_ready, got %v", s.State())
	}

	// Stop mid-scan: the scan in flight must complete
	trig.fire(4)
	s.RequestStop()
	trig.fire(1)
	if s.Done() {
		t.Fatal("Session stopped in the middle of a scan")
	}
	trig.fire(2)
	if !s.Done() {
		t.Fatal("Session did not stop at the scan boundary")
	}
	trig.fire(5)

	if err := s.Stop(); err != nil {
		t.Errorf("Stop returned %v", err)
	}
	if buf.Written() != 12 {
		t.Errorf("Expected two whole scans (12 bytes), got %d", buf.Written())
	}
	if buf.Written()%(3*2) != 0 {
		t.Error("Bytes written is not a multiple of the scan size")
	}
	if src.converting || !trig.stopped {
		t.Error("Chip left converting or trigger left armed")
	}
}

func TestContinuousOverrunDropsWholeScans(t *testing.T) {
	src := &fakeSource{}
	buf := iio.NewBuffer(10) // fixed to 8 bytes: two 2-channel scans
	s := NewSession(src, buf, Config{SampleBytes: 2})
	trig := &fakeTrigger{}

	if err := s.StartContinuous(iio.ScanMask(0b11), trig); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}
	trig.fire(10)

	if buf.Size() != 8 {
		t.Errorf("Expected fixed size 8, got %d", buf.Size())
	}
	if buf.Len() != 8 {
		t.Errorf("Expected full ring of 8 bytes, got %d", buf.Len())
	}
	if s.Overruns() != 3 {
		t.Errorf("Expected 3 dropped scans, got %d", s.Overruns())
	}
	// Dropped scans are still read to keep the sequencer aligned
	if src.seq != 10 {
		t.Errorf("Expected 10 samples read from the chip, got %d", src.seq)
	}

	// Consumer frees one scan; the next full scan is accepted
	out := make([]byte, 4)
	buf.Read(out)
	trig.fire(2)
	if buf.Written() != 12 {
		t.Errorf("Expected 12 bytes accepted, got %d", buf.Written())
	}
	s.RequestStop()
	trig.fire(1)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop returned %v", err)
	}
}

func TestContinuousForcedStop(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(src, iio.NewBuffer(64), Config{SampleBytes: 2, PollInterval: time.Millisecond})
	trig := &fakeTrigger{}

	if err := s.StartContinuous(iio.ScanMask(1), trig); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}

	// No trigger edge ever arrives to acknowledge the stop
	err := s.Finish(time.Now().Add(5 * time.Millisecond))
	if !errors.Is(err, iio.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if src.converting {
		t.Error("Forced stop must issue the exit handshake")
	}
	if s.State() != Idle {
		t.Errorf("Expected idle, got %v", s.State())
	}
}

func TestContinuousReadError(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(src, iio.NewBuffer(64), Config{SampleBytes: 2})
	trig := &fakeTrigger{}

	if err := s.StartContinuous(iio.ScanMask(1), trig); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}
	src.readErr = iio.ErrIO
	trig.fire(1)

	if !s.Done() || !errors.Is(s.Err(), iio.ErrIO) {
		t.Errorf("Expected session to end with ErrIO, done=%v err=%v", s.Done(), s.Err())
	}
	if src.converting {
		t.Error("Read failure must exit conversion mode")
	}
}

func TestBusySession(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(src, iio.NewBuffer(64), Config{SampleBytes: 2})

	if err := s.StartContinuous(iio.ScanMask(1), &fakeTrigger{}); err != nil {
		t.Fatalf("StartContinuous failed: %v", err)
	}
	if _, err := s.Burst(iio.ScanMask(1), 1, nil, nil); !errors.Is(err, iio.ErrBusy) {
		t.Errorf("Expected ErrBusy while running, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Sampling.String() != "sampling" {
		t.Error("Unexpected state names")
	}
}
