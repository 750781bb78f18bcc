package core

import (
	"errors"
	"testing"
	"time"

	"iioboard/iio"
)

type countPulser struct{ n int }

func (p *countPulser) Pulse() error {
	p.n++
	return nil
}

type fixedReady struct{ ok bool }

func (r fixedReady) Ready() (bool, error) { return r.ok, nil }

func TestTimerTrigger(t *testing.T) {
	clock := &ManualClock{}
	sched := NewScheduler(clock)
	pulser := &countPulser{}
	trig := &TimerTrigger{Sched: sched, Period: 100, Pulser: pulser, Ready: fixedReady{true}}

	calls := 0
	if err := trig.Start(func() { calls++ }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := trig.Start(func() {}); !errors.Is(err, iio.ErrBusy) {
		t.Errorf("Second Start = %v, want ErrBusy", err)
	}
	for i := 0; i < 5; i++ {
		clock.Advance(100 * time.Microsecond)
		sched.Dispatch()
	}
	if calls != 5 || pulser.n != 5 {
		t.Errorf("calls = %d, pulses = %d, want 5", calls, pulser.n)
	}

	if err := trig.Stop(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Millisecond)
	sched.Dispatch()
	if calls != 5 {
		t.Error("Handler ran after Stop")
	}
	if sched.Pending() != 0 {
		t.Error("Timer still scheduled after Stop")
	}
}

func TestTimerTriggerMisses(t *testing.T) {
	clock := &ManualClock{}
	sched := NewScheduler(clock)
	trig := &TimerTrigger{Sched: sched, Period: 100, Ready: fixedReady{false}}

	calls := 0
	if err := trig.Start(func() { calls++ }); err != nil {
		t.Fatal(err)
	}
	clock.Advance(100 * time.Microsecond)
	sched.Dispatch()
	if calls != 0 || trig.Missed() != 1 {
		t.Errorf("calls = %d, missed = %d", calls, trig.Missed())
	}

	// A loop running far behind skips the backlog instead of replaying it
	trig.Ready = fixedReady{true}
	clock.Advance(10 * time.Millisecond)
	sched.Dispatch()
	if calls != 1 {
		t.Errorf("Late loop replayed %d ticks", calls)
	}
	if trig.Missed() < 90 {
		t.Errorf("missed = %d after a 100 period stall", trig.Missed())
	}
	_ = trig.Stop()
}

func TestTimerTriggerInvalid(t *testing.T) {
	trig := &TimerTrigger{}
	if err := trig.Start(func() {}); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Start = %v, want ErrInvalid", err)
	}
}

func TestTimerTriggerSetInterval(t *testing.T) {
	clock := &ManualClock{}
	sched := NewScheduler(clock)
	trig := &TimerTrigger{Sched: sched, Period: 100}

	if err := trig.SetInterval(0); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("SetInterval(0) = %v, want ErrInvalid", err)
	}
	calls := 0
	if err := trig.Start(func() { calls++ }); err != nil {
		t.Fatal(err)
	}
	if err := trig.SetInterval(50); err != nil {
		t.Fatal(err)
	}
	// The tick already scheduled keeps its time, the next uses the new period
	clock.Advance(100 * time.Microsecond)
	sched.Dispatch()
	clock.Advance(50 * time.Microsecond)
	sched.Dispatch()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	_ = trig.Stop()
}
