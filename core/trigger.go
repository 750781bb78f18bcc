package core

import (
	"sync/atomic"

	"iioboard/acquire"
	"iioboard/iio"
)

// readySpins bounds the wait for a conversion after each pulse
const readySpins = 1000

// maxLag is how many periods a late timer may fall behind before missed
// edges are dropped instead of replayed
const maxLag = 4

// TimerTrigger drives a continuous capture from a periodic scheduler
// timer, for converters without a PWM-fed interrupt. Each tick pulses the
// conversion, waits briefly for ready and runs the sampling step.
type TimerTrigger struct {
	Sched  *Scheduler
	Period uint32 // microseconds
	Pulser acquire.Pulser
	Ready  acquire.Ready

	timer   Timer
	handler func()
	running uint32 // atomic bool
	missed  uint32 // atomic
}

// Start implements acquire.Trigger
func (t *TimerTrigger) Start(handler func()) error {
	if t.Period == 0 || t.Sched == nil {
		return iio.ErrInvalid
	}
	if atomic.LoadUint32(&t.running) != 0 {
		return iio.ErrBusy
	}
	atomic.StoreUint32(&t.missed, 0)
	t.handler = handler
	t.timer.Handler = t.fire
	t.timer.WakeTime = t.Sched.Now() + t.Period
	atomic.StoreUint32(&t.running, 1)
	t.Sched.Add(&t.timer)
	return nil
}

// Stop implements acquire.Trigger. The handler only runs from Dispatch,
// so once the timer is unlinked no call can be in flight.
func (t *TimerTrigger) Stop() error {
	atomic.StoreUint32(&t.running, 0)
	t.Sched.Remove(&t.timer)
	return nil
}

// SetInterval changes the period; a running timer picks it up at its next
// tick
func (t *TimerTrigger) SetInterval(us uint32) error {
	if us == 0 {
		return iio.ErrInvalid
	}
	t.Period = us
	return nil
}

// Missed counts ticks whose conversion never became ready or that were
// skipped because the loop ran late
func (t *TimerTrigger) Missed() int {
	return int(atomic.LoadUint32(&t.missed))
}

func (t *TimerTrigger) fire(tm *Timer) uint8 {
	if atomic.LoadUint32(&t.running) == 0 {
		return SF_DONE
	}
	if t.convert() {
		t.handler()
	} else {
		atomic.AddUint32(&t.missed, 1)
	}

	tm.WakeTime += t.Period
	now := t.Sched.Now()
	if TimerBefore(tm.WakeTime+maxLag*t.Period, now) {
		lag := (now - tm.WakeTime) / t.Period
		atomic.AddUint32(&t.missed, lag)
		tm.WakeTime += (lag + 1) * t.Period
	}
	return SF_RESCHEDULE
}

func (t *TimerTrigger) convert() bool {
	if t.Pulser != nil {
		if err := t.Pulser.Pulse(); err != nil {
			return false
		}
	}
	if t.Ready == nil {
		return true
	}
	for i := 0; i < readySpins; i++ {
		if ok, err := t.Ready.Ready(); err != nil {
			return false
		} else if ok {
			return true
		}
	}
	return false
}
